// Package model defines the core pipeline entities and their status state machines.
package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
)

// EnrichmentStatus tracks a company through the enrichment stage.
type EnrichmentStatus string

const (
	EnrichmentPending    EnrichmentStatus = "pending"
	EnrichmentInProgress EnrichmentStatus = "in_progress"
	EnrichmentEnriched   EnrichmentStatus = "enriched"
	EnrichmentFailed     EnrichmentStatus = "failed"
)

// enrichmentTransitions defines the legal state machine edges.
var enrichmentTransitions = map[EnrichmentStatus][]EnrichmentStatus{
	EnrichmentPending:    {EnrichmentInProgress},
	EnrichmentInProgress: {EnrichmentEnriched, EnrichmentFailed, EnrichmentPending},
	EnrichmentEnriched:   {EnrichmentInProgress}, // re-enrichment recomputes contacts
	EnrichmentFailed:     {},
}

// CanTransition reports whether moving to next is a legal edge.
func (s EnrichmentStatus) CanTransition(next EnrichmentStatus) bool {
	for _, t := range enrichmentTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// SyncStatus tracks a record through CRM synchronization.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

var syncTransitions = map[SyncStatus][]SyncStatus{
	SyncPending: {SyncSynced, SyncFailed},
	SyncSynced:  {SyncSynced}, // re-sync updates in place
	SyncFailed:  {SyncPending, SyncSynced},
}

// CanTransition reports whether moving to next is a legal edge.
func (s SyncStatus) CanTransition(next SyncStatus) bool {
	for _, t := range syncTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Company is a business record moving through the lead pipeline.
// Created by a collector; mutated only by the stage owning its current
// status; never deleted by the pipeline.
type Company struct {
	ID        string `json:"id"`
	Name      string `json:"name" validate:"required,min=2"`
	LegalName string `json:"legal_name,omitempty"`

	NAICSCode        string `json:"naics_code,omitempty" validate:"omitempty,numeric,min=2,max=6"`
	NAICSDescription string `json:"naics_description,omitempty"`
	IndustryCategory string `json:"industry_category,omitempty"`

	EmployeeRange      string  `json:"employee_range,omitempty"` // e.g. "50-200"
	EmployeeCountMin   int     `json:"employee_count_min,omitempty" validate:"omitempty,min=0"`
	EmployeeCountMax   int     `json:"employee_count_max,omitempty" validate:"omitempty,gtefield=EmployeeCountMin"`
	EmployeeCountExact int     `json:"employee_count_exact,omitempty"`
	AnnualRevenue      float64 `json:"annual_revenue,omitempty"`

	StreetAddress string `json:"street_address,omitempty"`
	City          string `json:"city,omitempty"`
	State         string `json:"state,omitempty" validate:"omitempty,len=2,alpha"`
	ZipCode       string `json:"zip_code,omitempty"`
	Country       string `json:"country,omitempty"`

	Phone       string `json:"phone,omitempty"`
	Website     string `json:"website,omitempty"`
	EmailDomain string `json:"email_domain,omitempty"`
	EIN         string `json:"ein,omitempty"`

	Source   string `json:"source"`
	SourceID string `json:"source_id,omitempty"`

	LeadScore        int              `json:"lead_score"`
	EnrichmentStatus EnrichmentStatus `json:"enrichment_status"`
	CRMSyncStatus    SyncStatus       `json:"crm_sync_status"`
	CRMOrgID         string           `json:"crm_org_id,omitempty"`
	SyncError        string           `json:"sync_error,omitempty"`

	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	LastEnrichedAt    *time.Time `json:"last_enriched_at,omitempty"`
	LastSyncAttemptAt *time.Time `json:"last_sync_attempt_at,omitempty"`
}

var validate = validator.New()

// Validate checks the company record before it enters any provider call.
func (c *Company) Validate() error {
	if err := validate.Struct(c); err != nil {
		return eris.Wrapf(err, "model: invalid company %q", c.Name)
	}
	return nil
}

// EmployeeCount returns the best available employee count: exact if known,
// midpoint of min/max, min alone, or a value parsed from the range string.
// Returns 0 when nothing usable is present.
func (c *Company) EmployeeCount() int {
	if c.EmployeeCountExact > 0 {
		return c.EmployeeCountExact
	}
	if c.EmployeeCountMin > 0 && c.EmployeeCountMax > 0 {
		return (c.EmployeeCountMin + c.EmployeeCountMax) / 2
	}
	if c.EmployeeCountMin > 0 {
		return c.EmployeeCountMin
	}
	return parseEmployeeRange(c.EmployeeRange)
}

func parseEmployeeRange(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if lo, hi, ok := strings.Cut(s, "-"); ok {
		minVal, err1 := strconv.Atoi(strings.TrimSpace(lo))
		maxVal, err2 := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(hi, "+")))
		if err1 == nil && err2 == nil {
			return (minVal + maxVal) / 2
		}
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSuffix(s, "+"))
	if err != nil {
		return 0
	}
	return n
}

// HasCompleteAddress reports whether street, city, and state are all present.
func (c *Company) HasCompleteAddress() bool {
	return c.StreetAddress != "" && c.City != "" && c.State != ""
}
