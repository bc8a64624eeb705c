package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/monitoring"
)

func TestFormatSnapshot(t *testing.T) {
	snap := &monitoring.Snapshot{
		Enrichment: map[model.EnrichmentStatus]int{
			model.EnrichmentPending:  3,
			model.EnrichmentEnriched: 7,
		},
		Sync:           map[model.SyncStatus]int{model.SyncSynced: 2},
		QualifiedLeads: 4,
		ScoreThreshold: 80,
		Providers: []monitoring.ProviderSpend{
			{Provider: "apollo", RequestCount: 120, ErrorCount: 2, Cost: decimal.RequireFromString("1.20")},
		},
		TotalSpend: decimal.RequireFromString("1.20"),
		Month:      "2026-09",
		Queues: []monitoring.TopicDepth{
			{Topic: "to_enrich", Pending: 5, Processing: 1},
		},
		CollectedAt: time.Now().UTC(),
	}

	var buf bytes.Buffer
	formatSnapshot(&buf, snap)
	out := buf.String()

	assert.Contains(t, out, "pending")
	assert.Contains(t, out, "qualified leads (score >= 80)")
	assert.Contains(t, out, "apollo")
	assert.Contains(t, out, "$1.20")
	assert.Contains(t, out, "to_enrich")
}
