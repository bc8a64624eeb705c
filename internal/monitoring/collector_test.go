package monitoring

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/queue"
	"github.com/sells-group/leadgen/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "leadgen.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func timeNow() time.Time { return time.Now().UTC() }

func TestCollect(t *testing.T) {
	s := newTestStore(t)
	q := queue.NewMemory()
	ctx := context.Background()

	for i, name := range []string{"Acme Health Partners", "Summit Manufacturing", "River Logistics"} {
		c := &model.Company{
			Name:     name,
			State:    "OH",
			Source:   "csv",
			SourceID: uuid.NewString(),
		}
		_, err := s.UpsertCompany(ctx, c)
		require.NoError(t, err)
		if i == 0 {
			claimed, cErr := s.ClaimEnrichment(ctx, c.ID, model.EnrichmentPending, model.EnrichmentInProgress)
			require.NoError(t, cErr)
			require.True(t, claimed)
			require.NoError(t, s.FinishEnrichment(ctx, c.ID, model.EnrichmentEnriched))
			require.NoError(t, s.UpdateLeadScore(ctx, c.ID, 88))
		}
	}

	now := model.UsageMonth(timeNow())
	require.NoError(t, s.IncrementUsage(ctx, "apollo", model.UsageDay(timeNow()), now, true, decimal.NewFromFloat(0.01)))
	require.NoError(t, s.IncrementUsage(ctx, "proxycurl", model.UsageDay(timeNow()), now, false, decimal.NewFromFloat(0.10)))

	require.NoError(t, q.Publish(ctx, queue.TopicEnrich, queue.NewMessage(uuid.New())))

	snap, err := NewCollector(s, q, 80).Collect(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, snap.Enrichment[model.EnrichmentPending])
	assert.Equal(t, 1, snap.Enrichment[model.EnrichmentEnriched])
	assert.Equal(t, 3, snap.Sync[model.SyncPending])
	assert.Equal(t, 1, snap.QualifiedLeads)
	assert.Equal(t, 80, snap.ScoreThreshold)

	require.Len(t, snap.Providers, 2)
	assert.True(t, snap.TotalSpend.Equal(decimal.NewFromFloat(0.11)), "spend %s", snap.TotalSpend)

	require.Len(t, snap.Queues, 3)
	for _, d := range snap.Queues {
		if d.Topic == queue.TopicEnrich {
			assert.EqualValues(t, 1, d.Pending)
		}
	}
}

func TestCollectWithoutQueue(t *testing.T) {
	s := newTestStore(t)
	snap, err := NewCollector(s, nil, 0).Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Queues)
	assert.Equal(t, 80, snap.ScoreThreshold)
}
