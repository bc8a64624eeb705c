package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "leadgen.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testCompany() *model.Company {
	return &model.Company{
		Name:      "Acme Health Partners",
		State:     "OH",
		NAICSCode: "621111",
		Source:    "csv",
		SourceID:  "row-1",
		Website:   "https://acmehealth.test",
	}
}

func TestUpsertCompanyCreateThenUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := testCompany()
	created, err := s.UpsertCompany(ctx, c)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotEmpty(t, c.ID)
	assert.Equal(t, model.EnrichmentPending, c.EnrichmentStatus)

	// Move pipeline state forward, then re-import the same row.
	ok, err := s.ClaimEnrichment(ctx, c.ID, model.EnrichmentPending, model.EnrichmentInProgress)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.FinishEnrichment(ctx, c.ID, model.EnrichmentEnriched))
	require.NoError(t, s.UpdateLeadScore(ctx, c.ID, 85))
	require.NoError(t, s.FinishSync(ctx, c.ID, model.SyncFailed, "org-1", "expired session"))

	reimport := testCompany()
	reimport.Phone = "+15551230000"
	created, err = s.UpsertCompany(ctx, reimport)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c.ID, reimport.ID)
	// Pipeline state survives the re-import.
	assert.Equal(t, model.EnrichmentEnriched, reimport.EnrichmentStatus)
	assert.Equal(t, 85, reimport.LeadScore)

	got, err := s.GetCompany(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "+15551230000", got.Phone)
	assert.Equal(t, 85, got.LeadScore)
	require.NotNil(t, got.LastEnrichedAt)
	require.NotNil(t, got.LastSyncAttemptAt)
	assert.Equal(t, model.SyncFailed, got.CRMSyncStatus)
	assert.Equal(t, "org-1", got.CRMOrgID)
	assert.Equal(t, "expired session", got.SyncError)
}

func TestUpsertCompanyDedupeByNameState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &model.Company{Name: "Acme Health", State: "OH", Source: "manual"}
	created, err := s.UpsertCompany(ctx, a)
	require.NoError(t, err)
	assert.True(t, created)

	b := &model.Company{Name: "ACME HEALTH", State: "OH", Source: "manual"}
	created, err = s.UpsertCompany(ctx, b)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, a.ID, b.ID)
}

func TestGetCompanyNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetCompany(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimEnrichmentCAS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := testCompany()
	_, err := s.UpsertCompany(ctx, c)
	require.NoError(t, err)

	ok, err := s.ClaimEnrichment(ctx, c.ID, model.EnrichmentPending, model.EnrichmentInProgress)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second claim loses: status is no longer pending.
	ok, err = s.ClaimEnrichment(ctx, c.ID, model.EnrichmentPending, model.EnrichmentInProgress)
	require.NoError(t, err)
	assert.False(t, ok)

	// Invalid transitions are rejected before touching the database.
	_, err = s.ClaimEnrichment(ctx, c.ID, model.EnrichmentPending, model.EnrichmentEnriched)
	assert.Error(t, err)
}

func TestListCompaniesFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, name := range []string{"Alpha Co", "Beta Co", "Gamma Co"} {
		c := &model.Company{Name: name, State: "OH", Source: "csv", SourceID: name}
		_, err := s.UpsertCompany(ctx, c)
		require.NoError(t, err)
		if i > 0 {
			ok, err := s.ClaimEnrichment(ctx, c.ID, model.EnrichmentPending, model.EnrichmentInProgress)
			require.NoError(t, err)
			require.True(t, ok)
			require.NoError(t, s.FinishEnrichment(ctx, c.ID, model.EnrichmentEnriched))
			require.NoError(t, s.UpdateLeadScore(ctx, c.ID, 70+10*i))
		}
	}

	pending, err := s.ListCompanies(ctx, CompanyFilter{EnrichmentStatus: model.EnrichmentPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Alpha Co", pending[0].Name)

	strong, err := s.ListCompanies(ctx, CompanyFilter{MinScore: 85})
	require.NoError(t, err)
	require.Len(t, strong, 1)
	assert.Equal(t, "Gamma Co", strong[0].Name)

	limited, err := s.ListCompanies(ctx, CompanyFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestContactsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := testCompany()
	_, err := s.UpsertCompany(ctx, c)
	require.NoError(t, err)

	contacts := []model.Contact{
		{FullName: "Jane Roe", Title: "CFO", Email: "jane@acme.test", EmailVerified: true},
		{FullName: "Sam Low", Title: "HR Director"},
	}
	require.NoError(t, s.ReplaceContacts(ctx, c.ID, contacts))

	got, err := s.ListContacts(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Jane Roe", got[0].FullName)
	assert.Equal(t, c.ID, got[0].CompanyID)

	// Replacing drops the old set.
	require.NoError(t, s.ReplaceContacts(ctx, c.ID, contacts[:1]))
	got, err = s.ListContacts(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, s.SetContactCRM(ctx, got[0].ID, "003XX0001"))
	got, err = s.ListContacts(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "003XX0001", got[0].CRMPersonID)
	assert.Equal(t, model.SyncSynced, got[0].CRMSyncStatus)
}

func TestScoreHistoryAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := testCompany()
	_, err := s.UpsertCompany(ctx, c)
	require.NoError(t, err)

	first := &model.ScoreRecord{CompanyID: c.ID, TotalScore: 70, Grade: "B-"}
	require.NoError(t, s.InsertScore(ctx, first))

	second := &model.ScoreRecord{CompanyID: c.ID, TotalScore: 85, Grade: "A-"}
	second.ComputedAt = first.ComputedAt.Add(1)
	require.NoError(t, s.InsertScore(ctx, second))

	latest, err := s.LatestScore(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 85, latest.TotalScore)

	_, err = s.LatestScore(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUsageCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cost := decimal.NewFromFloat(0.05)
	require.NoError(t, s.IncrementUsage(ctx, "apollo", "2026-03-01", "2026-03", true, cost))
	require.NoError(t, s.IncrementUsage(ctx, "apollo", "2026-03-01", "2026-03", false, cost))
	require.NoError(t, s.IncrementUsage(ctx, "apollo", "2026-03-02", "2026-03", true, cost))
	require.NoError(t, s.IncrementUsage(ctx, "proxycurl", "2026-03-01", "2026-03", true, decimal.NewFromFloat(0.10)))

	day, err := s.DayUsage(ctx, "apollo", "2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, 2, day)

	requests, spent, err := s.MonthUsage(ctx, "apollo", "2026-03")
	require.NoError(t, err)
	assert.Equal(t, 3, requests)
	assert.True(t, spent.Equal(decimal.NewFromFloat(0.15)), "spent %s", spent)

	summary, err := s.UsageByMonth(ctx, "2026-03")
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, "apollo", summary[0].Provider)
	assert.Equal(t, 3, summary[0].RequestCount)
	assert.Equal(t, 2, summary[0].SuccessCount)
	assert.Equal(t, 1, summary[0].ErrorCount)
}

func TestStatusCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"One", "Two"} {
		c := &model.Company{Name: name, State: "OH", Source: "csv", SourceID: name}
		_, err := s.UpsertCompany(ctx, c)
		require.NoError(t, err)
	}

	enrich, err := s.EnrichmentCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, enrich[model.EnrichmentPending])

	syncCounts, err := s.SyncCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, syncCounts[model.SyncPending])
}
