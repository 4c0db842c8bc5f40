// Package ledger turns a finished recording interval into minute-granular
// usage rows and per-period usage summaries.
package ledger

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/foxseedlab/botledger/internal/repository"
)

const bucketSeconds = 60

// RecordingSeconds returns whole seconds between start and end, clamped at
// zero.
func RecordingSeconds(start, end time.Time) int64 {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

// BillableMinutes rounds up to the next whole minute.
func BillableMinutes(totalSeconds int64) int64 {
	if totalSeconds <= 0 {
		return 0
	}
	return (totalSeconds + bucketSeconds - 1) / bucketSeconds
}

// BillingPeriod returns the first instant of the month containing t in loc.
func BillingPeriod(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
}

// Recording is a finalized bot recording ready to be written to the ledger.
type Recording struct {
	BotID          string
	SessionID      string
	UserID         string
	OrganizationID string
	StartedAt      time.Time
	TotalSeconds   int64
}

// Entries emits one row per started minute. Buckets begin at StartedAt
// truncated to the minute; every bucket holds 60 seconds except the last,
// which holds the remainder.
func Entries(rec Recording, loc *time.Location) []repository.UsageLedgerEntry {
	if rec.TotalSeconds <= 0 {
		return nil
	}
	n := BillableMinutes(rec.TotalSeconds)
	base := rec.StartedAt.UTC().Truncate(time.Minute)
	entries := make([]repository.UsageLedgerEntry, 0, n)
	remaining := rec.TotalSeconds
	for i := range n {
		secs := min(remaining, bucketSeconds)
		remaining -= secs
		minute := base.Add(time.Duration(i) * time.Minute)
		entries = append(entries, repository.UsageLedgerEntry{
			BotID:           rec.BotID,
			SessionID:       rec.SessionID,
			UserID:          rec.UserID,
			OrganizationID:  rec.OrganizationID,
			MinuteTimestamp: minute,
			SecondsRecorded: int(secs),
			BillingPeriod:   BillingPeriod(minute, loc),
		})
	}
	return entries
}

// Summaries folds ledger rows into per-period deltas. Every bucket counts as
// one billable minute.
func Summaries(entries []repository.UsageLedgerEntry) []repository.UsageSummary {
	groups := lo.GroupBy(entries, func(e repository.UsageLedgerEntry) time.Time {
		return e.BillingPeriod
	})
	periods := lo.Keys(groups)
	slices.SortFunc(periods, func(a, b time.Time) int { return a.Compare(b) })
	return lo.Map(periods, func(p time.Time, _ int) repository.UsageSummary {
		rows := groups[p]
		return repository.UsageSummary{
			OrganizationID: rows[0].OrganizationID,
			UserID:         rows[0].UserID,
			BillingPeriod:  p,
			TotalSeconds: lo.SumBy(rows, func(e repository.UsageLedgerEntry) int64 {
				return int64(e.SecondsRecorded)
			}),
			BillableMinutes: int64(len(rows)),
		}
	})
}

type Ledger struct {
	loc *time.Location
}

func New(loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{loc: loc}
}

func (l *Ledger) Location() *time.Location {
	return l.loc
}

// Record bulk-inserts the ledger rows for rec and bumps the usage cache.
// Callers guarantee it runs once per bot; it does not deduplicate.
func (l *Ledger) Record(ctx context.Context, repo repository.UsageRepository, rec Recording) ([]repository.UsageLedgerEntry, error) {
	entries := Entries(rec, l.loc)
	if len(entries) == 0 {
		return nil, nil
	}
	if err := repo.InsertLedgerEntries(ctx, entries); err != nil {
		return nil, fmt.Errorf("insert ledger entries: %w", err)
	}
	if err := repo.AddUsageSummaries(ctx, Summaries(entries)); err != nil {
		return nil, fmt.Errorf("update usage summaries: %w", err)
	}
	return entries, nil
}
