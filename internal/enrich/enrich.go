// Package enrich drives the provider waterfall that turns an imported
// company into a set of ranked decision-maker contacts.
package enrich

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/cache"
	"github.com/sells-group/leadgen/internal/governor"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/provider"
	"github.com/sells-group/leadgen/internal/queue"
	"github.com/sells-group/leadgen/internal/resilience"
	"github.com/sells-group/leadgen/internal/store"
)

// ErrDeferred signals that enrichment was postponed because a provider
// budget is exhausted. The company stays pending and is republished by
// the reclaim loop; callers ack the delivery.
var ErrDeferred = eris.New("enrich: deferred, provider budget exhausted")

// Config tunes the orchestrator.
type Config struct {
	// Primary and Fallback name registered contact searchers.
	Primary  string `yaml:"primary" mapstructure:"primary"`
	Fallback string `yaml:"fallback" mapstructure:"fallback"`
	// Verifier names the registered email verifier. Empty disables
	// verification.
	Verifier string `yaml:"verifier" mapstructure:"verifier"`

	// FallbackThreshold is the minimum candidate count from the primary
	// before the fallback is consulted to supplement results.
	FallbackThreshold int `yaml:"fallback_threshold" mapstructure:"fallback_threshold"`
	// MaxContacts caps how many ranked contacts are persisted.
	MaxContacts int `yaml:"max_contacts" mapstructure:"max_contacts"`

	Retry   resilience.RetryConfig
	Breaker resilience.CircuitConfig
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Primary:           "apollo",
		Fallback:          "proxycurl",
		Verifier:          "dropcontact",
		FallbackThreshold: 3,
		MaxContacts:       5,
		Retry:             resilience.DefaultRetryConfig(),
	}
}

// Orchestrator runs the enrichment stage for one company at a time.
// Safe for concurrent use.
type Orchestrator struct {
	store    store.Store
	registry *provider.Registry
	cache    *cache.Cache
	queue    queue.Queue
	cfg      Config
	breakers *resilience.BreakerGroup
}

// New creates an orchestrator. cache may be nil to run without caching.
func New(st store.Store, registry *provider.Registry, c *cache.Cache, q queue.Queue, cfg Config) *Orchestrator {
	if cfg.FallbackThreshold <= 0 {
		cfg.FallbackThreshold = 3
	}
	if cfg.MaxContacts <= 0 {
		cfg.MaxContacts = 5
	}
	return &Orchestrator{
		store:    st,
		registry: registry,
		cache:    c,
		queue:    q,
		cfg:      cfg,
		breakers: resilience.NewBreakerGroup(cfg.Breaker),
	}
}

// EnrichCompany claims a company, runs the waterfall, and persists the
// outcome. It returns nil when the delivery should simply be acked
// (including lost claim races and handled terminal failures recorded on
// the company), ErrDeferred when the budget forced a postponement, and
// any other error for unexpected infrastructure failures.
func (o *Orchestrator) EnrichCompany(ctx context.Context, companyID string) error {
	company, err := o.store.GetCompany(ctx, companyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			zap.L().Warn("enrich: company vanished", zap.String("company_id", companyID))
			return nil
		}
		return err
	}

	switch company.EnrichmentStatus {
	case model.EnrichmentPending, model.EnrichmentEnriched:
	default:
		zap.L().Debug("enrich: skipping company in non-claimable state",
			zap.String("company_id", companyID),
			zap.String("status", string(company.EnrichmentStatus)),
		)
		return nil
	}

	claimed, err := o.store.ClaimEnrichment(ctx, companyID, company.EnrichmentStatus, model.EnrichmentInProgress)
	if err != nil {
		return err
	}
	if !claimed {
		// Another worker got the record between fetch and claim.
		return nil
	}

	// Malformed records never reach a provider.
	if err := company.Validate(); err != nil {
		zap.L().Warn("enrich: company failed validation",
			zap.String("company_id", companyID),
			zap.Error(err),
		)
		return o.finish(ctx, companyID, model.EnrichmentFailed)
	}

	fp := cache.Fingerprint(company.Name, company.State, companyDomain(company))

	candidates, cached := o.cachedCandidates(ctx, fp)
	if !cached {
		candidates, err = o.search(ctx, company)
		switch {
		case err == nil:
		case errors.Is(err, ErrDeferred):
			return o.deferEnrichment(ctx, companyID)
		default:
			zap.L().Error("enrich: search failed",
				zap.String("company_id", companyID),
				zap.Error(err),
			)
			if fErr := o.finish(ctx, companyID, model.EnrichmentFailed); fErr != nil {
				return fErr
			}
			return err
		}

		candidates = Dedupe(candidates)
		o.verify(ctx, candidates)
	}

	contacts := rank(candidates, o.cfg.MaxContacts, company.ID)
	if err := o.store.ReplaceContacts(ctx, companyID, contacts); err != nil {
		return err
	}
	if err := o.finish(ctx, companyID, model.EnrichmentEnriched); err != nil {
		return err
	}
	if !cached && o.cache != nil {
		o.cache.Put(ctx, fp, cache.Entry{
			Contacts: candidates,
			Provider: o.cfg.Primary,
			CachedAt: time.Now().UTC(),
		})
	}

	cid, err := uuid.Parse(companyID)
	if err != nil {
		return eris.Wrapf(err, "enrich: company id %q", companyID)
	}
	if err := o.queue.Publish(ctx, queue.TopicScore, queue.NewMessage(cid)); err != nil {
		return eris.Wrap(err, "enrich: publish to score")
	}

	zap.L().Info("enrich: company enriched",
		zap.String("company_id", companyID),
		zap.Int("contacts", len(contacts)),
		zap.Bool("cache_hit", cached),
	)
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, companyID string, status model.EnrichmentStatus) error {
	return o.store.FinishEnrichment(ctx, companyID, status)
}

// deferEnrichment releases the claim so the reclaim loop can republish later.
func (o *Orchestrator) deferEnrichment(ctx context.Context, companyID string) error {
	released, err := o.store.ClaimEnrichment(ctx, companyID, model.EnrichmentInProgress, model.EnrichmentPending)
	if err != nil {
		return err
	}
	if !released {
		zap.L().Warn("enrich: could not release deferred claim", zap.String("company_id", companyID))
	}
	zap.L().Info("enrich: deferred on provider budget", zap.String("company_id", companyID))
	return ErrDeferred
}

func (o *Orchestrator) cachedCandidates(ctx context.Context, fp string) ([]provider.ContactCandidate, bool) {
	if o.cache == nil {
		return nil, false
	}
	entry, ok := o.cache.Get(ctx, fp)
	if !ok {
		return nil, false
	}
	return entry.Contacts, true
}

// search runs primary then, when warranted, fallback, merging results.
func (o *Orchestrator) search(ctx context.Context, company *model.Company) ([]provider.ContactCandidate, error) {
	q := provider.Query{
		Name:          company.Name,
		State:         company.State,
		Domain:        companyDomain(company),
		EmployeeRange: company.EmployeeRange,
	}

	primary, primaryErr := o.callSearcher(ctx, o.cfg.Primary, q)
	if primaryErr != nil {
		if provider.IsAuthError(primaryErr) {
			return nil, primaryErr
		}
		if budgetary, ok := governor.IsLimitExceeded(primaryErr); ok && budgetary {
			// Primary budget gone; the fallback may still have quota.
			primaryErr = eris.Wrap(ErrDeferred, primaryErr.Error())
		}
	}

	if primaryErr == nil && len(primary) >= o.cfg.FallbackThreshold {
		return primary, nil
	}

	fallback, fallbackErr := o.callSearcher(ctx, o.cfg.Fallback, q)
	if fallbackErr == nil {
		return append(primary, fallback...), nil
	}
	if len(primary) > 0 {
		zap.L().Warn("enrich: fallback failed, keeping primary results",
			zap.String("company", company.Name),
			zap.Error(fallbackErr),
		)
		return primary, nil
	}
	if provider.IsAuthError(fallbackErr) {
		return nil, fallbackErr
	}
	if budgetary, ok := governor.IsLimitExceeded(fallbackErr); ok && budgetary {
		return nil, eris.Wrap(ErrDeferred, fallbackErr.Error())
	}
	if primaryErr != nil {
		if errors.Is(primaryErr, ErrDeferred) {
			return nil, primaryErr
		}
		return nil, eris.Wrapf(fallbackErr, "after primary error: %v", primaryErr)
	}
	return nil, fallbackErr
}

// callSearcher runs one provider behind its circuit breaker with
// bounded retries. ErrNoResults comes back as a nil slice with no
// error; an open circuit surfaces as ErrCircuitOpen.
func (o *Orchestrator) callSearcher(ctx context.Context, name string, q provider.Query) ([]provider.ContactCandidate, error) {
	searcher := o.registry.Searcher(name)
	if searcher == nil {
		return nil, eris.Errorf("enrich: no searcher registered as %q", name)
	}

	retryCfg := o.cfg.Retry
	retryCfg.OnRetry = resilience.RetryLogger("enrich", name)
	// Budget denials must not burn retry attempts or trip the breaker
	// as if the provider were unhealthy.
	retryCfg.ShouldRetry = func(err error) bool {
		if _, ok := governor.IsLimitExceeded(err); ok {
			return false
		}
		return resilience.IsTransient(err)
	}

	var out []provider.ContactCandidate
	err := o.breakers.For(name).Execute(ctx, func(ctx context.Context) error {
		candidates, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) ([]provider.ContactCandidate, error) {
			return searcher.SearchContacts(ctx, q)
		})
		if err != nil {
			return err
		}
		out = candidates
		return nil
	})
	if errors.Is(err, provider.ErrNoResults) {
		return nil, nil
	}
	return out, err
}

// verify runs best-effort email verification in place. Any verifier
// failure leaves the candidate with its email unverified.
func (o *Orchestrator) verify(ctx context.Context, candidates []provider.ContactCandidate) {
	if o.cfg.Verifier == "" {
		return
	}
	verifier := o.registry.Verifier(o.cfg.Verifier)
	if verifier == nil {
		return
	}
	breaker := o.breakers.For(o.cfg.Verifier)

	for i := range candidates {
		c := &candidates[i]
		if c.Email == "" {
			continue
		}
		var status provider.VerifyStatus
		err := breaker.Execute(ctx, func(ctx context.Context) error {
			var vErr error
			status, vErr = verifier.Verify(ctx, c.Email)
			return vErr
		})
		if err != nil {
			zap.L().Warn("enrich: email verification failed",
				zap.String("email", c.Email),
				zap.Error(err),
			)
			continue
		}
		c.EmailStatus = string(status)
	}
}

// Dedupe collapses candidates sharing a normalized (email, full name)
// key, preferring the higher-confidence entry.
func Dedupe(candidates []provider.ContactCandidate) []provider.ContactCandidate {
	type key struct{ email, name string }
	seen := make(map[key]int, len(candidates))
	out := make([]provider.ContactCandidate, 0, len(candidates))

	for _, c := range candidates {
		k := key{
			email: strings.ToLower(strings.TrimSpace(c.Email)),
			name:  strings.ToLower(strings.Join(strings.Fields(c.FullName), " ")),
		}
		if idx, ok := seen[k]; ok {
			if c.Confidence > out[idx].Confidence {
				out[idx] = c
			}
			continue
		}
		seen[k] = len(out)
		out = append(out, c)
	}
	return out
}

// rank orders candidates executives-first and converts the top maxN
// into contacts for persistence.
func rank(candidates []provider.ContactCandidate, maxN int, companyID string) []model.Contact {
	contacts := make([]model.Contact, 0, len(candidates))
	for _, c := range candidates {
		contacts = append(contacts, model.Contact{
			CompanyID:      companyID,
			FullName:       c.FullName,
			FirstName:      c.FirstName,
			LastName:       c.LastName,
			Title:          c.Title,
			Department:     c.Department,
			Seniority:      seniorityLevel(c.Seniority),
			Email:          c.Email,
			EmailVerified:  c.EmailStatus == string(provider.VerifyValid) || c.EmailStatus == "verified",
			Phone:          c.Phone,
			LinkedInURL:    c.LinkedInURL,
			SourceProvider: c.Provider,
			Confidence:     c.Confidence,
			CRMSyncStatus:  model.SyncPending,
		})
	}

	sort.SliceStable(contacts, func(i, j int) bool {
		ri, rj := contacts[i].RankKey(), contacts[j].RankKey()
		if ri != rj {
			return ri < rj
		}
		return contacts[i].Confidence > contacts[j].Confidence
	})

	if len(contacts) > maxN {
		contacts = contacts[:maxN]
	}
	return contacts
}

func seniorityLevel(s string) model.SeniorityLevel {
	switch strings.ToLower(s) {
	case "c_level", "c-level", "c_suite", "owner", "founder", "partner":
		return model.SeniorityCLevel
	case "vp":
		return model.SeniorityVP
	case "director":
		return model.SeniorityDirector
	case "manager", "head":
		return model.SeniorityManager
	case "":
		return ""
	default:
		return model.SeniorityStaff
	}
}

func companyDomain(c *model.Company) string {
	if c.EmailDomain != "" {
		return c.EmailDomain
	}
	return c.Website
}
