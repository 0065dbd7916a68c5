package license

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stats aggregates the license population
type Stats struct {
	Total   int
	Active  int
	Pending int
	Revoked int
	Revenue decimal.Decimal
}

// Summarize counts records by state. Revenue sums completed payments.
func Summarize(recs []*Record) Stats {
	s := Stats{Total: len(recs), Revenue: decimal.Zero}
	for _, rec := range recs {
		switch rec.Status() {
		case StatusActive:
			s.Active++
		case StatusRevoked:
			s.Revoked++
		default:
			s.Pending++
		}
		if rec.PaymentStatus == PaymentCompleted {
			s.Revenue = s.Revenue.Add(rec.PaymentAmount)
		}
	}
	return s
}

// Report is a point-in-time copy of every record with its summary
type Report struct {
	Records     []*Record
	Stats       Stats
	GeneratedAt time.Time
}

// Report builds the admin report from a deep-copied snapshot
func (r *Registry) Report() Report {
	recs := r.store.Snapshot()
	return Report{
		Records:     recs,
		Stats:       Summarize(recs),
		GeneratedAt: r.d.now(),
	}
}
