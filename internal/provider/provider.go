// Package provider defines the contact-search and email-verification
// capabilities implemented by external data providers.
package provider

import (
	"context"
	"sync"
)

// Query identifies a company for a contact search.
type Query struct {
	Name          string
	State         string
	Domain        string
	EmployeeRange string // provider-specific hint, e.g. "51,200"
}

// ContactCandidate is the canonical shape every adapter maps its
// provider-specific response into.
type ContactCandidate struct {
	FullName    string  `json:"full_name"`
	FirstName   string  `json:"first_name,omitempty"`
	LastName    string  `json:"last_name,omitempty"`
	Title       string  `json:"title,omitempty"`
	Department  string  `json:"department,omitempty"`
	Seniority   string  `json:"seniority,omitempty"`
	Email       string  `json:"email,omitempty"`
	EmailStatus string  `json:"email_status,omitempty"`
	Phone       string  `json:"phone,omitempty"`
	LinkedInURL string  `json:"linkedin_url,omitempty"`
	Confidence  float64 `json:"confidence"`
	Provider    string  `json:"provider"`
}

// VerifyStatus is the outcome of an email verification.
type VerifyStatus string

const (
	VerifyValid   VerifyStatus = "valid"
	VerifyRisky   VerifyStatus = "risky"
	VerifyInvalid VerifyStatus = "invalid"
)

// ContactSearcher finds decision-maker candidates for a company.
type ContactSearcher interface {
	Name() string
	SearchContacts(ctx context.Context, q Query) ([]ContactCandidate, error)
}

// EmailVerifier checks deliverability of an email address.
type EmailVerifier interface {
	Name() string
	Verify(ctx context.Context, email string) (VerifyStatus, error)
}

// Registry manages available providers for injection into the orchestrator.
type Registry struct {
	mu        sync.RWMutex
	searchers map[string]ContactSearcher
	verifiers map[string]EmailVerifier
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		searchers: make(map[string]ContactSearcher),
		verifiers: make(map[string]EmailVerifier),
	}
}

// RegisterSearcher adds a contact searcher.
func (r *Registry) RegisterSearcher(s ContactSearcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.searchers[s.Name()] = s
}

// RegisterVerifier adds an email verifier.
func (r *Registry) RegisterVerifier(v EmailVerifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifiers[v.Name()] = v
}

// Searcher returns a contact searcher by name, or nil.
func (r *Registry) Searcher(name string) ContactSearcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.searchers[name]
}

// Verifier returns an email verifier by name, or nil.
func (r *Registry) Verifier(name string) EmailVerifier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.verifiers[name]
}
