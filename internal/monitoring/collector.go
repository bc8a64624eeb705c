// Package monitoring aggregates pipeline health metrics for the status
// CLI and the HTTP status server.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/queue"
	"github.com/sells-group/leadgen/internal/store"
)

// ProviderSpend summarizes one provider's usage for the current month.
type ProviderSpend struct {
	Provider     string          `json:"provider"`
	RequestCount int             `json:"request_count"`
	SuccessCount int             `json:"success_count"`
	ErrorCount   int             `json:"error_count"`
	Cost         decimal.Decimal `json:"cost"`
}

// TopicDepth is the queue backlog for one stage topic.
type TopicDepth struct {
	Topic      string `json:"topic"`
	Pending    int64  `json:"pending"`
	Processing int64  `json:"processing"`
}

// Snapshot holds a point-in-time view of pipeline health.
type Snapshot struct {
	Enrichment map[model.EnrichmentStatus]int `json:"enrichment"`
	Sync       map[model.SyncStatus]int       `json:"sync"`

	QualifiedLeads int `json:"qualified_leads"`
	ScoreThreshold int `json:"score_threshold"`

	Providers  []ProviderSpend `json:"providers"`
	TotalSpend decimal.Decimal `json:"total_spend"`
	Month      string          `json:"month"`

	Queues []TopicDepth `json:"queues,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store and, when present, the queue.
type Collector struct {
	store          store.Store
	queue          queue.Queue // nil when queue depth is unavailable
	scoreThreshold int
}

// NewCollector creates a metrics collector. q may be nil.
func NewCollector(st store.Store, q queue.Queue, scoreThreshold int) *Collector {
	if scoreThreshold <= 0 {
		scoreThreshold = 80
	}
	return &Collector{store: st, queue: q, scoreThreshold: scoreThreshold}
}

// Collect gathers a snapshot of pipeline health.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	now := time.Now().UTC()
	snap := &Snapshot{
		ScoreThreshold: c.scoreThreshold,
		Month:          model.UsageMonth(now),
		CollectedAt:    now,
	}

	enrichment, err := c.store.EnrichmentCounts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: enrichment counts")
	}
	snap.Enrichment = enrichment

	sync, err := c.store.SyncCounts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: sync counts")
	}
	snap.Sync = sync

	qualified, err := c.store.ListCompanies(ctx, store.CompanyFilter{MinScore: c.scoreThreshold})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: qualified leads")
	}
	snap.QualifiedLeads = len(qualified)

	usage, err := c.store.UsageByMonth(ctx, snap.Month)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: usage")
	}
	total := decimal.Zero
	for _, u := range usage {
		snap.Providers = append(snap.Providers, ProviderSpend{
			Provider:     u.Provider,
			RequestCount: u.RequestCount,
			SuccessCount: u.SuccessCount,
			ErrorCount:   u.ErrorCount,
			Cost:         u.Cost,
		})
		total = total.Add(u.Cost)
	}
	snap.TotalSpend = total

	if c.queue != nil {
		for _, topic := range []string{queue.TopicEnrich, queue.TopicScore, queue.TopicSync} {
			pending, processing, dErr := c.queue.Depth(ctx, topic)
			if dErr != nil {
				return nil, eris.Wrapf(dErr, "monitoring: depth %s", topic)
			}
			snap.Queues = append(snap.Queues, TopicDepth{
				Topic:      topic,
				Pending:    pending,
				Processing: processing,
			})
		}
	}

	return snap, nil
}

// Usage returns per-provider spend for the given month (YYYY-MM).
func (c *Collector) Usage(ctx context.Context, month string) ([]ProviderSpend, error) {
	usage, err := c.store.UsageByMonth(ctx, month)
	if err != nil {
		return nil, eris.Wrapf(err, "monitoring: usage %s", month)
	}
	spends := make([]ProviderSpend, 0, len(usage))
	for _, u := range usage {
		spends = append(spends, ProviderSpend{
			Provider:     u.Provider,
			RequestCount: u.RequestCount,
			SuccessCount: u.SuccessCount,
			ErrorCount:   u.ErrorCount,
			Cost:         u.Cost,
		})
	}
	return spends, nil
}
