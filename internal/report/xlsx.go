package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"examshield/internal/license"
	api "examshield/pkg/contracts/api/v1"
)

const (
	// ContentTypeXLSX is the media type of the exported workbook
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	LicensesSheet = "Licenses"
	SummarySheet  = "Summary"

	timeLayout = "2006-01-02 15:04:05"
)

// Columns of the Licenses sheet, in order
var Columns = []string{
	"License Key", "Name", "Email", "Device Type", "Status", "Active",
	"Created", "Activated", "Expires", "Revoked",
	"Payment Status", "Payment Amount", "Transaction ID",
	"Devices Registered", "Device Limit", "Trial Active",
}

// Filename names the download for a report generated at t
func Filename(t time.Time) string {
	return fmt.Sprintf("examshield_licenses_%s.xlsx", t.UTC().Format("20060102_150405"))
}

// WriteXLSX writes the report as a two-sheet workbook
func WriteXLSX(w io.Writer, rep license.Report) error {
	resp := Response(rep)

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), LicensesSheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if err := writeLicenses(f, resp.Reports); err != nil {
		return err
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}
	if err := writeSummary(f, resp); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeLicenses(f *excelize.File, rows []api.ReportRow) error {
	header := make([]interface{}, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(LicensesSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	last, _ := excelize.ColumnNumberToName(len(Columns))
	if err := f.SetCellStyle(LicensesSheet, "A1", last+"1", bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		amount, _ := row.PaymentAmount.Float64()
		values := []interface{}{
			row.Key,
			row.Name,
			row.Email,
			row.DeviceType,
			statusOf(row),
			yesNo(row.Active),
			row.Created.UTC().Format(timeLayout),
			formatTime(row.Activated),
			formatTime(row.Expires),
			formatTime(row.Revoked),
			row.PaymentStatus,
			amount,
			row.TransactionID,
			row.DevicesRegistered,
			deviceLimit(row.DeviceLimit),
			yesNo(row.TrialActive),
		}
		if err := f.SetSheetRow(LicensesSheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(LicensesSheet, "A", "A", 40); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}
	if err := f.SetColWidth(LicensesSheet, "B", last, 18); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, resp api.ReportsResponse) error {
	revenue, _ := resp.Stats.Revenue.Float64()
	lines := [][]interface{}{
		{"Generated At", resp.GeneratedAt.Format(timeLayout)},
		{"Total Licenses", resp.Stats.Total},
		{"Active", resp.Stats.Active},
		{"Pending", resp.Stats.Pending},
		{"Revoked", resp.Stats.Revoked},
		{"Revenue", revenue},
	}
	for i, line := range lines {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(SummarySheet, cell, &line); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}
	return nil
}

func statusOf(row api.ReportRow) string {
	switch {
	case row.Revoked != nil:
		return license.StatusRevoked
	case row.Active:
		return license.StatusActive
	default:
		return license.StatusPending
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func deviceLimit(n int) interface{} {
	if n >= license.UnlimitedDevices {
		return "Unlimited"
	}
	return n
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
