package repository

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMigrationStatements_CreateCoreTables(t *testing.T) {
	joined := strings.Join(migrationStatements, "\n")
	for _, table := range []string{"bot_usage_tracking", "usage_tracking", "usage_summaries", "bot_webhook_events", "sessions", "transcript_segments"} {
		if !strings.Contains(joined, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("migration does not create %s", table)
		}
	}
}

func TestNonTerminalStatuses(t *testing.T) {
	got := strings.Join(nonTerminalStatuses(), ",")
	if got != "created,joining,waiting,in_call,recording" {
		t.Fatalf("unexpected non-terminal statuses: %s", got)
	}
}

func TestPoolStatsCollector_NilPool(t *testing.T) {
	c := NewPoolStatsCollector(nil, "botledger")
	if n := testutil.CollectAndCount(c); n != 0 {
		t.Fatalf("expected no metrics from nil pool, got %d", n)
	}
}
