package client

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrTampered is returned when a local file's seal does not match its
// contents on this device
var ErrTampered = errors.New("local license state failed integrity check")

var (
	sealSalt = []byte("examshield-client-v1")
	sealInfo = []byte("local-state-seal")
)

// sealed is the on-disk envelope of license.json and trial.json
type sealed struct {
	Data json.RawMessage `json:"data"`
	Seal string          `json:"seal"`
}

// sealer computes seals keyed from the device fingerprint, so a file copied
// from another machine does not verify
type sealer struct {
	key []byte
}

func newSealer(fingerprint string) (*sealer, error) {
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(fingerprint), sealSalt, sealInfo), key); err != nil {
		return nil, fmt.Errorf("failed to derive seal key: %w", err)
	}
	return &sealer{key: key}, nil
}

func (s *sealer) mac(data []byte) []byte {
	m := hmac.New(sha256.New, s.key)
	m.Write(data)
	return m.Sum(nil)
}

// seal marshals v and wraps it with its seal, indented for humans
func (s *sealer) seal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(sealed{
		Data: data,
		Seal: hex.EncodeToString(s.mac(data)),
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// open verifies raw and decodes its payload into v. The seal covers the
// compact form of the payload, so reindenting the file does not break it.
func (s *sealer) open(raw []byte, v any) error {
	var env sealed
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrTampered, err)
	}
	if len(env.Data) == 0 || env.Seal == "" {
		return ErrTampered
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, env.Data); err != nil {
		return fmt.Errorf("%w: %v", ErrTampered, err)
	}
	want, err := hex.DecodeString(env.Seal)
	if err != nil || !hmac.Equal(want, s.mac(compact.Bytes())) {
		return ErrTampered
	}

	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrTampered, err)
	}
	return nil
}

// decodeUnsealed makes a best effort to read the payload of a file whose
// seal is wrong, including legacy files written without an envelope
func decodeUnsealed(raw []byte, v any) {
	var env sealed
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
		_ = json.Unmarshal(env.Data, v)
		return
	}
	_ = json.Unmarshal(raw, v)
}
