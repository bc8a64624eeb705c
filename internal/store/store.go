// Package store persists companies, contacts, score history, and
// provider usage counters. The datastore is the source of truth for
// pipeline state; queues only signal.
package store

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/leadgen/internal/model"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// CompanyFilter specifies criteria for listing companies.
type CompanyFilter struct {
	EnrichmentStatus model.EnrichmentStatus `json:"enrichment_status,omitempty"`
	SyncStatus       model.SyncStatus       `json:"sync_status,omitempty"`
	MinScore         int                    `json:"min_score,omitempty"`
	Limit            int                    `json:"limit,omitempty"`
	Offset           int                    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the lead pipeline.
type Store interface {
	// Companies
	UpsertCompany(ctx context.Context, c *model.Company) (created bool, err error)
	GetCompany(ctx context.Context, id string) (*model.Company, error)
	ListCompanies(ctx context.Context, filter CompanyFilter) ([]model.Company, error)
	// ClaimEnrichment atomically moves the company from the expected
	// status to the next one. false means another worker won the claim
	// or the record moved on.
	ClaimEnrichment(ctx context.Context, id string, expected, next model.EnrichmentStatus) (bool, error)
	FinishEnrichment(ctx context.Context, id string, status model.EnrichmentStatus) error
	UpdateLeadScore(ctx context.Context, id string, score int) error
	FinishSync(ctx context.Context, id string, status model.SyncStatus, crmOrgID, syncErr string) error

	// Contacts
	ReplaceContacts(ctx context.Context, companyID string, contacts []model.Contact) error
	ListContacts(ctx context.Context, companyID string) ([]model.Contact, error)
	SetContactCRM(ctx context.Context, contactID, crmPersonID string) error

	// Score history (append-only)
	InsertScore(ctx context.Context, rec *model.ScoreRecord) error
	LatestScore(ctx context.Context, companyID string) (*model.ScoreRecord, error)

	// Provider usage counters (shared with the governor)
	IncrementUsage(ctx context.Context, provider, day, month string, success bool, callCost decimal.Decimal) error
	MonthUsage(ctx context.Context, provider, month string) (requests int, spent decimal.Decimal, err error)
	DayUsage(ctx context.Context, provider, day string) (int, error)
	UsageByMonth(ctx context.Context, month string) ([]model.ProviderUsage, error)

	// Monitoring
	EnrichmentCounts(ctx context.Context) (map[model.EnrichmentStatus]int, error)
	SyncCounts(ctx context.Context) (map[model.SyncStatus]int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
