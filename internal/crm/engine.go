package crm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/estimate"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/resilience"
	"github.com/sells-group/leadgen/internal/store"
)

// EngineConfig tunes the sync engine.
type EngineConfig struct {
	// DealThreshold is the minimum lead score for deal creation.
	DealThreshold int `yaml:"deal_threshold" mapstructure:"deal_threshold"`
	// DealStage is the stage new deals open in.
	DealStage string `yaml:"deal_stage" mapstructure:"deal_stage"`
	// DealCloseDays sets the close date offset for new deals.
	DealCloseDays int `yaml:"deal_close_days" mapstructure:"deal_close_days"`
	Retry         resilience.RetryConfig
}

// DefaultEngineConfig returns production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DealThreshold: 80,
		DealStage:     "Prospecting",
		DealCloseDays: 30,
		Retry:         resilience.DefaultRetryConfig(),
	}
}

// Engine pushes enriched, scored companies into the CRM. Every write
// path is search-before-create, so retries and redeliveries never
// produce duplicate records.
type Engine struct {
	store   store.Store
	client  Client
	cfg     EngineConfig
	nowFunc func() time.Time
}

// NewEngine creates a sync engine.
func NewEngine(st store.Store, client Client, cfg EngineConfig) *Engine {
	if cfg.DealThreshold == 0 {
		cfg.DealThreshold = 80
	}
	if cfg.DealStage == "" {
		cfg.DealStage = "Prospecting"
	}
	if cfg.DealCloseDays == 0 {
		cfg.DealCloseDays = 30
	}
	return &Engine{store: st, client: client, cfg: cfg, nowFunc: time.Now}
}

// WithNow injects a clock for testing.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	e.nowFunc = now
	return e
}

// SyncCompany syncs one company. Already-synced companies are a no-op.
// On unrecoverable failure the company is marked sync-failed with the
// error recorded, and the error is returned.
func (e *Engine) SyncCompany(ctx context.Context, companyID string) error {
	company, err := e.store.GetCompany(ctx, companyID)
	if err != nil {
		return err
	}
	if company.CRMSyncStatus == model.SyncSynced && company.CRMOrgID != "" {
		zap.L().Debug("crm: company already synced",
			zap.String("company_id", companyID),
			zap.String("crm_org_id", company.CRMOrgID),
		)
		return nil
	}

	orgID, err := e.syncOrganization(ctx, company)
	if err != nil {
		e.markFailed(ctx, companyID, orgID, err)
		return err
	}

	decisionMakers, err := e.syncPeople(ctx, company, orgID)
	if err != nil {
		e.markFailed(ctx, companyID, orgID, err)
		return err
	}

	if company.LeadScore >= e.cfg.DealThreshold && decisionMakers > 0 {
		if err := e.ensureDeal(ctx, company, orgID); err != nil {
			e.markFailed(ctx, companyID, orgID, err)
			return err
		}
	}

	if err := e.store.FinishSync(ctx, companyID, model.SyncSynced, orgID, ""); err != nil {
		return err
	}
	zap.L().Info("crm: company synced",
		zap.String("company_id", companyID),
		zap.String("crm_org_id", orgID),
		zap.Int("decision_makers", decisionMakers),
		zap.Int("lead_score", company.LeadScore),
	)
	return nil
}

func (e *Engine) markFailed(ctx context.Context, companyID, orgID string, cause error) {
	if err := e.store.FinishSync(ctx, companyID, model.SyncFailed, orgID, cause.Error()); err != nil {
		zap.L().Error("crm: record sync failure", zap.String("company_id", companyID), zap.Error(err))
	}
}

func (e *Engine) retryCfg(operation string) resilience.RetryConfig {
	cfg := e.cfg.Retry
	cfg.OnRetry = resilience.RetryLogger("crm", operation)
	return cfg
}

func (e *Engine) syncOrganization(ctx context.Context, company *model.Company) (string, error) {
	org := organizationFromCompany(company)

	// A stored org id from a prior partial sync wins over search.
	if company.CRMOrgID != "" {
		err := resilience.Do(ctx, e.retryCfg("update_organization"), func(ctx context.Context) error {
			return e.client.UpdateOrganization(ctx, company.CRMOrgID, org)
		})
		if err != nil {
			return company.CRMOrgID, err
		}
		return company.CRMOrgID, nil
	}

	found, err := resilience.DoVal(ctx, e.retryCfg("find_organization"), func(ctx context.Context) (*Organization, error) {
		return e.client.FindOrganization(ctx, company.Name)
	})
	if err != nil {
		return "", err
	}

	if found != nil {
		err := resilience.Do(ctx, e.retryCfg("update_organization"), func(ctx context.Context) error {
			return e.client.UpdateOrganization(ctx, found.ID, org)
		})
		return found.ID, err
	}

	return resilience.DoVal(ctx, e.retryCfg("create_organization"), func(ctx context.Context) (string, error) {
		return e.client.CreateOrganization(ctx, org)
	})
}

func (e *Engine) syncPeople(ctx context.Context, company *model.Company, orgID string) (int, error) {
	contacts, err := e.store.ListContacts(ctx, company.ID)
	if err != nil {
		return 0, err
	}

	synced := 0
	for i := range contacts {
		contact := &contacts[i]
		if !contact.IsDecisionMaker() {
			continue
		}
		personID, err := e.upsertPerson(ctx, contact, orgID)
		if err != nil {
			return synced, eris.Wrapf(err, "crm: sync contact %s", contact.FullName)
		}
		if err := e.store.SetContactCRM(ctx, contact.ID, personID); err != nil {
			return synced, err
		}
		synced++
	}
	return synced, nil
}

func (e *Engine) upsertPerson(ctx context.Context, contact *model.Contact, orgID string) (string, error) {
	person := personFromContact(contact, orgID)

	found, err := resilience.DoVal(ctx, e.retryCfg("find_person"), func(ctx context.Context) (*Person, error) {
		return e.client.FindPerson(ctx, contact.Email, contact.FullName)
	})
	if err != nil {
		return "", err
	}

	if found != nil {
		err := resilience.Do(ctx, e.retryCfg("update_person"), func(ctx context.Context) error {
			return e.client.UpdatePerson(ctx, found.ID, person)
		})
		return found.ID, err
	}

	return resilience.DoVal(ctx, e.retryCfg("create_person"), func(ctx context.Context) (string, error) {
		return e.client.CreatePerson(ctx, person)
	})
}

func (e *Engine) ensureDeal(ctx context.Context, company *model.Company, orgID string) error {
	existing, err := resilience.DoVal(ctx, e.retryCfg("find_open_deal"), func(ctx context.Context) (*Deal, error) {
		return e.client.FindOpenDeal(ctx, orgID)
	})
	if err != nil {
		return err
	}
	if existing != nil {
		zap.L().Debug("crm: open deal exists, skipping",
			zap.String("company_id", company.ID),
			zap.String("deal_id", existing.ID),
		)
		return nil
	}

	deal := Deal{
		OrgID:     orgID,
		Name:      fmt.Sprintf("%s - Group Benefits", company.Name),
		Amount:    estimate.DealValue(company.EmployeeCount(), company.LeadScore),
		Stage:     e.cfg.DealStage,
		CloseDate: e.nowFunc().AddDate(0, 0, e.cfg.DealCloseDays),
	}
	dealID, err := resilience.DoVal(ctx, e.retryCfg("create_deal"), func(ctx context.Context) (string, error) {
		return e.client.CreateDeal(ctx, deal)
	})
	if err != nil {
		return err
	}
	zap.L().Info("crm: deal created",
		zap.String("company_id", company.ID),
		zap.String("deal_id", dealID),
		zap.String("amount", deal.Amount.String()),
	)
	return nil
}

func organizationFromCompany(c *model.Company) Organization {
	return Organization{
		Name:          c.Name,
		Website:       c.Website,
		Industry:      c.NAICSDescription,
		Phone:         c.Phone,
		City:          c.City,
		State:         c.State,
		PostalCode:    c.ZipCode,
		EmployeeCount: c.EmployeeCount(),
		AnnualRevenue: c.AnnualRevenue,
	}
}

func personFromContact(c *model.Contact, orgID string) Person {
	firstName, lastName := c.FirstName, c.LastName
	if lastName == "" {
		firstName, lastName = splitName(c.FullName)
	}
	return Person{
		OrgID:     orgID,
		FirstName: firstName,
		LastName:  lastName,
		Email:     c.Email,
		Phone:     c.Phone,
		Title:     c.Title,
	}
}

func splitName(full string) (first, last string) {
	fields := strings.Fields(full)
	switch len(fields) {
	case 0:
		return "", "Unknown"
	case 1:
		return "", fields[0]
	default:
		return fields[0], fields[len(fields)-1]
	}
}
