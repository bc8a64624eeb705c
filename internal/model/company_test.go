package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrichmentTransitions(t *testing.T) {
	assert.True(t, EnrichmentPending.CanTransition(EnrichmentInProgress))
	assert.True(t, EnrichmentInProgress.CanTransition(EnrichmentEnriched))
	assert.True(t, EnrichmentInProgress.CanTransition(EnrichmentFailed))
	// Budget deferral releases the claim back to pending.
	assert.True(t, EnrichmentInProgress.CanTransition(EnrichmentPending))
	// Re-enrichment re-claims an enriched record.
	assert.True(t, EnrichmentEnriched.CanTransition(EnrichmentInProgress))

	assert.False(t, EnrichmentPending.CanTransition(EnrichmentEnriched))
	assert.False(t, EnrichmentFailed.CanTransition(EnrichmentInProgress))
	assert.False(t, EnrichmentFailed.CanTransition(EnrichmentEnriched))
}

func TestSyncTransitions(t *testing.T) {
	assert.True(t, SyncPending.CanTransition(SyncSynced))
	assert.True(t, SyncPending.CanTransition(SyncFailed))
	assert.True(t, SyncSynced.CanTransition(SyncSynced))
	assert.True(t, SyncFailed.CanTransition(SyncPending))
	assert.False(t, SyncSynced.CanTransition(SyncPending))
}

func TestCompanyValidate(t *testing.T) {
	c := &Company{Name: "Acme Health Partners", State: "TX", Source: "sam_gov"}
	require.NoError(t, c.Validate())

	tests := []struct {
		name   string
		mutate func(*Company)
	}{
		{"empty name", func(c *Company) { c.Name = "" }},
		{"bad state", func(c *Company) { c.State = "Texas" }},
		{"inverted employee range", func(c *Company) {
			c.EmployeeCountMin = 500
			c.EmployeeCountMax = 100
		}},
		{"non-numeric naics", func(c *Company) { c.NAICSCode = "62x" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := *c
			tt.mutate(&bad)
			assert.Error(t, bad.Validate())
		})
	}
}

func TestEmployeeCount(t *testing.T) {
	tests := []struct {
		name string
		c    Company
		want int
	}{
		{"exact wins", Company{EmployeeCountExact: 150, EmployeeCountMin: 10, EmployeeCountMax: 20}, 150},
		{"midpoint of min max", Company{EmployeeCountMin: 100, EmployeeCountMax: 200}, 150},
		{"min alone", Company{EmployeeCountMin: 75}, 75},
		{"range string", Company{EmployeeRange: "50-200"}, 125},
		{"range with plus", Company{EmployeeRange: "100-500+"}, 300},
		{"plain plus", Company{EmployeeRange: "5000+"}, 5000},
		{"garbage range", Company{EmployeeRange: "many"}, 0},
		{"nothing", Company{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.EmployeeCount())
		})
	}
}

func TestContactClassification(t *testing.T) {
	ceo := Contact{Title: "Chief Executive Officer"}
	assert.True(t, ceo.IsExecutive())
	assert.True(t, ceo.IsDecisionMaker())
	assert.Equal(t, 0, ceo.RankKey())

	hr := Contact{Title: "Benefits Coordinator"}
	assert.False(t, hr.IsExecutive())
	assert.True(t, hr.IsHRRelated())
	assert.Equal(t, 1, hr.RankKey())

	hrDept := Contact{Title: "Coordinator", Department: "Human Resources"}
	assert.True(t, hrDept.IsHRRelated())

	// Short keywords match whole words only, never substrings.
	dealer := Contact{Title: "Chrome Dealer"}
	assert.False(t, dealer.IsHRRelated())
	assert.False(t, dealer.IsDecisionMaker())

	cooks := Contact{Title: "Head Cook"}
	assert.False(t, cooks.IsExecutive())

	coo := Contact{Title: "COO"}
	assert.True(t, coo.IsExecutive())

	vp := Contact{Title: "VP of Sales"}
	assert.True(t, vp.IsExecutive())

	eng := Contact{Title: "Software Engineer"}
	assert.False(t, eng.IsDecisionMaker())
	assert.Equal(t, 2, eng.RankKey())

	controller := Contact{Title: "Corporate Controller"}
	assert.True(t, controller.IsDecisionMaker())
}

func TestGrade(t *testing.T) {
	assert.Equal(t, "A+", Grade(97))
	assert.Equal(t, "A", Grade(90))
	assert.Equal(t, "A-", Grade(85))
	assert.Equal(t, "B+", Grade(80))
	assert.Equal(t, "C", Grade(60))
	assert.Equal(t, "D", Grade(12))
}
