package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"examshield/internal/license"
	api "examshield/pkg/contracts/api/v1"
)

type mockServer struct {
	mock.Mock
}

func (m *mockServer) Verify(ctx context.Context, key, fingerprint string) (*api.VerifyResponse, error) {
	args := m.Called(ctx, key, fingerprint)
	resp, _ := args.Get(0).(*api.VerifyResponse)
	return resp, args.Error(1)
}

func (m *mockServer) CheckTrialEligibility(ctx context.Context, email string) (*api.EligibilityResponse, error) {
	args := m.Called(ctx, email)
	resp, _ := args.Get(0).(*api.EligibilityResponse)
	return resp, args.Error(1)
}

const testKey = "ES-0123456789ABCDEF0123456789ABCDEF"

var trialNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type managerFixture struct {
	server *mockServer
	files  *LocalFiles
	clock  *quartz.Mock
	mgr    *Manager
}

func newManager(t *testing.T, opts ...ManagerOption) *managerFixture {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(trialNow)
	srv := &mockServer{}
	t.Cleanup(func() { srv.AssertExpectations(t) })

	files := newFiles(t)
	opts = append([]ManagerOption{
		WithManagerClock(clock),
		WithManagerLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	return &managerFixture{
		server: srv,
		files:  files,
		clock:  clock,
		mgr:    NewManager(srv, files, testFingerprint, opts...),
	}
}

func denial(reason, message string) error {
	return mapServerError(&ServerError{StatusCode: http.StatusForbidden, Reason: reason, Message: message, DeviceLimit: 2, DevicesRegistered: 2})
}

func TestManager_StartsTrialWithoutState(t *testing.T) {
	f := newManager(t)

	st, err := f.mgr.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateTrial, st.State)
	assert.Equal(t, TrialDays, st.DaysRemaining)
	assert.True(t, st.Usable())

	trial, err := f.files.LoadTrial()
	require.NoError(t, err)
	require.NotNil(t, trial)
	assert.True(t, trialNow.Equal(trial.Started))
	assert.True(t, trialNow.Add(license.TrialPeriod).Equal(trial.Expires))
	f.server.AssertNotCalled(t, "CheckTrialEligibility", mock.Anything, mock.Anything)
}

func TestManager_TrialCountdown(t *testing.T) {
	f := newManager(t)
	_, err := f.mgr.Status(context.Background())
	require.NoError(t, err)

	tests := []struct {
		advance time.Duration
		state   State
		days    int
	}{
		{advance: time.Hour, state: StateTrial, days: 7},
		{advance: 24 * time.Hour, state: StateTrial, days: 6},
		{advance: 5*24*time.Hour + 22*time.Hour, state: StateTrial, days: 1},
		{advance: time.Hour, state: StateExpired},
		{advance: 30 * 24 * time.Hour, state: StateExpired},
	}
	for i, tt := range tests {
		t.Run(fmt.Sprintf("step %d", i), func(t *testing.T) {
			f.clock.Advance(tt.advance).MustWait(context.Background())
			st, err := f.mgr.Status(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.state, st.State)
			assert.Equal(t, tt.days, st.DaysRemaining)
		})
	}
}

func TestManager_TamperedTrialIsExpired(t *testing.T) {
	f := newManager(t)
	require.NoError(t, f.files.SaveTrial(TrialRecord{Started: trialNow, Expires: trialNow.Add(license.TrialPeriod), Active: true}))

	path := filepath.Join(f.files.Dir(), TrialFileName)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-5] ^= 0x01
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	st, err := f.mgr.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateExpired, st.State)
	assert.True(t, st.RequiresPurchase)
}

func TestManager_EligibilityDenied(t *testing.T) {
	f := newManager(t, WithEmail("ann@example.com"))
	f.server.On("CheckTrialEligibility", mock.Anything, "ann@example.com").
		Return(&api.EligibilityResponse{Eligible: false, Reason: "License already purchased for this email", HasActive: true}, nil).Once()

	st, err := f.mgr.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateInvalid, st.State)
	assert.True(t, st.RequiresPurchase)
	assert.Contains(t, st.Message, "License already purchased for this email")

	trial, err := f.files.LoadTrial()
	require.NoError(t, err)
	assert.Nil(t, trial, "no trial is recorded")
}

func TestManager_EligibilityFailsOpen(t *testing.T) {
	f := newManager(t, WithEmail("ann@example.com"))
	f.server.On("CheckTrialEligibility", mock.Anything, "ann@example.com").
		Return(nil, fmt.Errorf("%w: connection refused", ErrServerUnreachable)).Once()

	st, err := f.mgr.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateTrial, st.State)
	assert.Equal(t, TrialDays, st.DaysRemaining)
}

func TestManager_Activate(t *testing.T) {
	f := newManager(t)
	expires := trialNow.Add(license.Validity)
	f.server.On("Verify", mock.Anything, testKey, testFingerprint).
		Return(&api.VerifyResponse{Valid: true, Active: true, DevicesRegistered: 1, DeviceLimit: 2, Expires: &expires}, nil).Once()

	st, err := f.mgr.Activate(context.Background(), "  "+testKey+"\n")
	require.NoError(t, err)
	assert.Equal(t, StateActive, st.State)
	assert.Equal(t, 1, st.DevicesRegistered)

	lic, err := f.files.LoadLicense()
	require.NoError(t, err)
	require.NotNil(t, lic)
	assert.Equal(t, testKey, lic.Key)
	assert.Equal(t, testFingerprint, lic.DeviceFingerprint)
	assert.True(t, lic.Active)
	assert.True(t, trialNow.Equal(lic.VerifiedAt))
}

func TestManager_ActivateRejected(t *testing.T) {
	f := newManager(t)
	f.server.On("Verify", mock.Anything, testKey, testFingerprint).
		Return(nil, denial(license.ReasonLimitReached, "Device limit reached (2 devices)")).Once()

	_, err := f.mgr.Activate(context.Background(), testKey)
	assert.ErrorIs(t, err, license.ErrLimitReached)

	lic, err := f.files.LoadLicense()
	require.NoError(t, err)
	assert.Nil(t, lic, "nothing is cached")
}

func TestManager_ActivateEmptyKey(t *testing.T) {
	f := newManager(t)
	_, err := f.mgr.Activate(context.Background(), "   ")
	assert.ErrorIs(t, err, license.ErrInvalidInput)
}

func TestManager_CachedLicense(t *testing.T) {
	cached := CachedLicense{
		Key:               testKey,
		DeviceFingerprint: testFingerprint,
		VerifiedAt:        trialNow.Add(-48 * time.Hour),
		Active:            true,
		DevicesRegistered: 1,
		DeviceLimit:       2,
	}

	t.Run("verified", func(t *testing.T) {
		f := newManager(t)
		require.NoError(t, f.files.SaveLicense(cached))
		f.server.On("Verify", mock.Anything, testKey, testFingerprint).
			Return(&api.VerifyResponse{Valid: true, Active: true, DevicesRegistered: 2, DeviceLimit: 2}, nil).Once()

		st, err := f.mgr.Status(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StateActive, st.State)
		assert.Equal(t, 2, st.DevicesRegistered)

		lic, err := f.files.LoadLicense()
		require.NoError(t, err)
		assert.True(t, trialNow.Equal(lic.VerifiedAt), "cache refreshed")
		assert.Equal(t, 2, lic.DevicesRegistered)
	})

	t.Run("revoked", func(t *testing.T) {
		f := newManager(t)
		require.NoError(t, f.files.SaveLicense(cached))
		f.server.On("Verify", mock.Anything, testKey, testFingerprint).
			Return(nil, denial(license.ReasonRevoked, "License has been revoked")).Once()

		st, err := f.mgr.Status(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StateInvalid, st.State)
		assert.Equal(t, "License has been revoked", st.Message)
		assert.False(t, st.Usable())
	})

	t.Run("server unreachable keeps the cache", func(t *testing.T) {
		f := newManager(t)
		require.NoError(t, f.files.SaveLicense(cached))
		before, err := os.ReadFile(filepath.Join(f.files.Dir(), LicenseFileName))
		require.NoError(t, err)

		f.server.On("Verify", mock.Anything, testKey, testFingerprint).
			Return(nil, fmt.Errorf("%w: dial tcp: connection refused", ErrServerUnreachable)).Once()

		st, err := f.mgr.Status(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StateInvalid, st.State)
		assert.Contains(t, st.Message, "Cannot connect to license server")

		after, err := os.ReadFile(filepath.Join(f.files.Dir(), LicenseFileName))
		require.NoError(t, err)
		assert.Equal(t, before, after)

		trial, err := f.files.LoadTrial()
		require.NoError(t, err)
		assert.Nil(t, trial, "no trial is granted in place of a paid license")
	})
}
