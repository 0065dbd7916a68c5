// Package report renders the admin license report as JSON rows or an XLSX
// workbook.
package report

import (
	"sort"

	"examshield/internal/license"
	api "examshield/pkg/contracts/api/v1"
)

// Response converts a registry report to its wire form. Rows are ordered by
// creation time, oldest first, with the key as a tie breaker.
func Response(rep license.Report) api.ReportsResponse {
	rows := make([]api.ReportRow, 0, len(rep.Records))
	for _, rec := range rep.Records {
		rows = append(rows, Row(rec))
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Created.Equal(rows[j].Created) {
			return rows[i].Created.Before(rows[j].Created)
		}
		return rows[i].Key < rows[j].Key
	})

	return api.ReportsResponse{
		Reports: rows,
		Stats: api.ReportStats{
			Total:   rep.Stats.Total,
			Active:  rep.Stats.Active,
			Pending: rep.Stats.Pending,
			Revoked: rep.Stats.Revoked,
			Revenue: rep.Stats.Revenue,
		},
		GeneratedAt: rep.GeneratedAt.UTC(),
	}
}

// Row converts one record
func Row(rec *license.Record) api.ReportRow {
	return api.ReportRow{
		Key:               rec.Key,
		Name:              rec.Name,
		Email:             rec.Email,
		DeviceType:        rec.DeviceType,
		Active:            rec.Active,
		Created:           rec.Created,
		Activated:         rec.Activated,
		Expires:           rec.Expires,
		Revoked:           rec.Revoked,
		PaymentAmount:     rec.PaymentAmount,
		PaymentStatus:     rec.PaymentStatus,
		TransactionID:     rec.TransactionID,
		DevicesRegistered: len(rec.Devices),
		DeviceLimit:       rec.DeviceLimit,
		TrialActive:       rec.TrialActive,
	}
}
