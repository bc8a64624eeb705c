package model

import (
	"strings"
	"time"
	"unicode"
)

// SeniorityLevel buckets a contact's title for ranking and scoring.
type SeniorityLevel string

const (
	SeniorityCLevel   SeniorityLevel = "c_level"
	SeniorityVP       SeniorityLevel = "vp"
	SeniorityDirector SeniorityLevel = "director"
	SeniorityManager  SeniorityLevel = "manager"
	SeniorityStaff    SeniorityLevel = "staff"
)

// Contact is a decision-maker candidate attached to exactly one company.
// Created by enrichment, updated by email verification; scoring and sync
// stages only ever set CRMPersonID.
type Contact struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`

	FullName  string `json:"full_name"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`

	Title      string         `json:"title,omitempty"`
	Department string         `json:"department,omitempty"`
	Seniority  SeniorityLevel `json:"seniority,omitempty"`

	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	Phone         string `json:"phone,omitempty"`
	LinkedInURL   string `json:"linkedin_url,omitempty"`

	SourceProvider string  `json:"source_provider"`
	Confidence     float64 `json:"confidence"`

	CRMPersonID   string     `json:"crm_person_id,omitempty"`
	CRMSyncStatus SyncStatus `json:"crm_sync_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var executiveKeywords = []string{
	"ceo", "cfo", "coo", "cto", "chief", "president", "owner", "founder",
	"vice president", "vp", "director", "head of",
}

var hrKeywords = []string{
	"hr", "human resources", "benefits", "compensation",
	"people", "talent", "employee",
}

// IsExecutive reports whether the title indicates executive seniority.
func (c *Contact) IsExecutive() bool {
	return matchesAny(c.Title, executiveKeywords)
}

// IsHRRelated reports whether the title or department is HR/benefits adjacent.
func (c *Contact) IsHRRelated() bool {
	return matchesAny(c.Title, hrKeywords) || matchesAny(c.Department, hrKeywords)
}

// IsDecisionMaker reports whether this contact matches a target role:
// executives, HR/benefits, or finance titles.
func (c *Contact) IsDecisionMaker() bool {
	return c.IsExecutive() || c.IsHRRelated() || matchesAny(c.Title, []string{"finance", "controller", "treasurer"})
}

// matchesAny matches short keywords against whole words only, so "coo"
// never matches "Coordinator". Multi-word keywords match as phrases.
func matchesAny(s string, keywords []string) bool {
	if s == "" {
		return false
	}
	lower := strings.ToLower(s)
	words := splitTitleWords(lower)
	for _, kw := range keywords {
		if strings.Contains(kw, " ") {
			if strings.Contains(lower, kw) {
				return true
			}
			continue
		}
		for _, w := range words {
			if w == kw {
				return true
			}
		}
	}
	return false
}

func splitTitleWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// RankKey orders contacts for selection: executives first, then HR/benefits
// titles, then everyone else; ties broken by confidence descending.
func (c *Contact) RankKey() int {
	switch {
	case c.IsExecutive():
		return 0
	case c.IsHRRelated():
		return 1
	default:
		return 2
	}
}
