package crm

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadgen/internal/resilience"
)

// Salesforce implements Client over go-salesforce/v3, mapping
// Organization/Person/Deal to Account/Contact/Opportunity.
//
// NOTE: go-salesforce does not accept context.Context, so ctx only
// governs the rate limiter wait.
type Salesforce struct {
	sf      *salesforce.Salesforce
	limiter *rate.Limiter
}

// SalesforceOption configures the adapter.
type SalesforceOption func(*Salesforce)

// WithRateLimit sets the per-second API call budget. The CRM API is the
// tightest external quota in the pipeline; the default is 1 rps.
func WithRateLimit(rps float64) SalesforceOption {
	return func(c *Salesforce) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// NewSalesforce wraps an authenticated go-salesforce instance.
func NewSalesforce(sf *salesforce.Salesforce, opts ...SalesforceOption) *Salesforce {
	c := &Salesforce{
		sf:      sf,
		limiter: rate.NewLimiter(1, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Salesforce) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// sfStatusPattern pulls a retryable HTTP status code out of
// go-salesforce error strings; the library returns plain errors with
// the status line embedded rather than a typed response.
var sfStatusPattern = regexp.MustCompile(`\b(408|429|500|502|503|504)\b`)

// classify marks rate-limit and server-side Salesforce failures as
// transient so the sync engine's retry loop fires on them. Everything
// else (auth, validation, malformed SOQL) stays non-retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if m := sfStatusPattern.FindString(err.Error()); m != "" {
		code, _ := strconv.Atoi(m)
		return resilience.NewTransient(err, code)
	}
	return err
}

type sfAccount struct {
	ID                string  `json:"Id"`
	Name              string  `json:"Name"`
	Website           string  `json:"Website"`
	Industry          string  `json:"Industry"`
	Phone             string  `json:"Phone"`
	BillingCity       string  `json:"BillingCity"`
	BillingState      string  `json:"BillingState"`
	BillingPostalCode string  `json:"BillingPostalCode"`
	NumberOfEmployees int     `json:"NumberOfEmployees"`
	AnnualRevenue     float64 `json:"AnnualRevenue"`
}

const accountFields = "Id, Name, Website, Industry, Phone, BillingCity, BillingState, BillingPostalCode, NumberOfEmployees, AnnualRevenue"

func (a sfAccount) toOrganization() *Organization {
	return &Organization{
		ID:            a.ID,
		Name:          a.Name,
		Website:       a.Website,
		Industry:      a.Industry,
		Phone:         a.Phone,
		City:          a.BillingCity,
		State:         a.BillingState,
		PostalCode:    a.BillingPostalCode,
		EmployeeCount: a.NumberOfEmployees,
		AnnualRevenue: a.AnnualRevenue,
	}
}

// FindOrganization searches Accounts by exact name, then falls back to
// a LIKE match so minor punctuation differences still dedupe.
func (c *Salesforce) FindOrganization(ctx context.Context, name string) (*Organization, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "crm: rate limit")
	}

	exact := fmt.Sprintf("SELECT %s FROM Account WHERE Name = '%s' LIMIT 1", accountFields, escapeSoql(name))
	var accounts []sfAccount
	if err := c.sf.Query(exact, &accounts); err != nil {
		return nil, eris.Wrapf(classify(err), "crm: find account %q", name)
	}
	if len(accounts) > 0 {
		return accounts[0].toOrganization(), nil
	}

	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "crm: rate limit")
	}
	fuzzy := fmt.Sprintf("SELECT %s FROM Account WHERE Name LIKE '%%%s%%' LIMIT 1", accountFields, escapeSoql(name))
	if err := c.sf.Query(fuzzy, &accounts); err != nil {
		return nil, eris.Wrapf(classify(err), "crm: fuzzy find account %q", name)
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return accounts[0].toOrganization(), nil
}

func organizationFields(org Organization) map[string]any {
	fields := map[string]any{
		"Name": org.Name,
	}
	if org.Website != "" {
		fields["Website"] = org.Website
	}
	if org.Industry != "" {
		fields["Industry"] = org.Industry
	}
	if org.Phone != "" {
		fields["Phone"] = org.Phone
	}
	if org.City != "" {
		fields["BillingCity"] = org.City
	}
	if org.State != "" {
		fields["BillingState"] = org.State
	}
	if org.PostalCode != "" {
		fields["BillingPostalCode"] = org.PostalCode
	}
	if org.EmployeeCount > 0 {
		fields["NumberOfEmployees"] = org.EmployeeCount
	}
	if org.AnnualRevenue > 0 {
		fields["AnnualRevenue"] = org.AnnualRevenue
	}
	if org.Description != "" {
		fields["Description"] = org.Description
	}
	return fields
}

func (c *Salesforce) CreateOrganization(ctx context.Context, org Organization) (string, error) {
	if org.Name == "" {
		return "", eris.New("crm: organization name is required")
	}
	if err := c.wait(ctx); err != nil {
		return "", eris.Wrap(err, "crm: rate limit")
	}
	result, err := c.sf.InsertOne("Account", organizationFields(org))
	if err != nil {
		return "", eris.Wrap(classify(err), "crm: create account")
	}
	if !result.Success {
		return "", eris.Errorf("crm: create account failed: %v", result.Errors)
	}
	return result.Id, nil
}

func (c *Salesforce) UpdateOrganization(ctx context.Context, id string, org Organization) error {
	if id == "" {
		return eris.New("crm: organization id is required")
	}
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "crm: rate limit")
	}
	fields := organizationFields(org)
	fields["Id"] = id
	if err := c.sf.UpdateOne("Account", fields); err != nil {
		return eris.Wrapf(classify(err), "crm: update account %s", id)
	}
	return nil
}

type sfContact struct {
	ID        string `json:"Id"`
	FirstName string `json:"FirstName"`
	LastName  string `json:"LastName"`
	Email     string `json:"Email"`
	Phone     string `json:"Phone"`
	Title     string `json:"Title"`
	AccountID string `json:"AccountId"`
}

// FindPerson searches Contacts by email first, then by full name.
func (c *Salesforce) FindPerson(ctx context.Context, email, fullName string) (*Person, error) {
	const contactFields = "Id, FirstName, LastName, Email, Phone, Title, AccountId"

	var contacts []sfContact
	if email != "" {
		if err := c.wait(ctx); err != nil {
			return nil, eris.Wrap(err, "crm: rate limit")
		}
		soql := fmt.Sprintf("SELECT %s FROM Contact WHERE Email = '%s' LIMIT 1", contactFields, escapeSoql(email))
		if err := c.sf.Query(soql, &contacts); err != nil {
			return nil, eris.Wrapf(classify(err), "crm: find contact by email")
		}
	}
	if len(contacts) == 0 && fullName != "" {
		if err := c.wait(ctx); err != nil {
			return nil, eris.Wrap(err, "crm: rate limit")
		}
		soql := fmt.Sprintf("SELECT %s FROM Contact WHERE Name = '%s' LIMIT 1", contactFields, escapeSoql(fullName))
		if err := c.sf.Query(soql, &contacts); err != nil {
			return nil, eris.Wrapf(classify(err), "crm: find contact by name")
		}
	}
	if len(contacts) == 0 {
		return nil, nil
	}
	p := contacts[0]
	return &Person{
		ID:        p.ID,
		OrgID:     p.AccountID,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Email:     p.Email,
		Phone:     p.Phone,
		Title:     p.Title,
	}, nil
}

func personFields(p Person) map[string]any {
	fields := map[string]any{
		"LastName":  p.LastName,
		"AccountId": p.OrgID,
	}
	if p.FirstName != "" {
		fields["FirstName"] = p.FirstName
	}
	if p.Email != "" {
		fields["Email"] = p.Email
	}
	if p.Phone != "" {
		fields["Phone"] = p.Phone
	}
	if p.Title != "" {
		fields["Title"] = p.Title
	}
	return fields
}

func (c *Salesforce) CreatePerson(ctx context.Context, p Person) (string, error) {
	if p.OrgID == "" {
		return "", eris.New("crm: person requires an organization id")
	}
	if p.LastName == "" {
		return "", eris.New("crm: person requires a last name")
	}
	if err := c.wait(ctx); err != nil {
		return "", eris.Wrap(err, "crm: rate limit")
	}
	result, err := c.sf.InsertOne("Contact", personFields(p))
	if err != nil {
		return "", eris.Wrap(classify(err), "crm: create contact")
	}
	if !result.Success {
		return "", eris.Errorf("crm: create contact failed: %v", result.Errors)
	}
	return result.Id, nil
}

func (c *Salesforce) UpdatePerson(ctx context.Context, id string, p Person) error {
	if id == "" {
		return eris.New("crm: person id is required")
	}
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "crm: rate limit")
	}
	fields := personFields(p)
	fields["Id"] = id
	if err := c.sf.UpdateOne("Contact", fields); err != nil {
		return eris.Wrapf(classify(err), "crm: update contact %s", id)
	}
	return nil
}

type sfOpportunity struct {
	ID        string  `json:"Id"`
	Name      string  `json:"Name"`
	StageName string  `json:"StageName"`
	Amount    float64 `json:"Amount"`
	AccountID string  `json:"AccountId"`
}

// FindOpenDeal returns the newest non-closed Opportunity on the
// account, or nil.
func (c *Salesforce) FindOpenDeal(ctx context.Context, orgID string) (*Deal, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "crm: rate limit")
	}
	soql := fmt.Sprintf(
		"SELECT Id, Name, StageName, Amount, AccountId FROM Opportunity WHERE AccountId = '%s' AND IsClosed = false ORDER BY CreatedDate DESC LIMIT 1",
		escapeSoql(orgID),
	)
	var opps []sfOpportunity
	if err := c.sf.Query(soql, &opps); err != nil {
		return nil, eris.Wrapf(classify(err), "crm: find open deal for %s", orgID)
	}
	if len(opps) == 0 {
		return nil, nil
	}
	o := opps[0]
	return &Deal{ID: o.ID, OrgID: o.AccountID, Name: o.Name, Stage: o.StageName}, nil
}

func (c *Salesforce) CreateDeal(ctx context.Context, d Deal) (string, error) {
	if d.OrgID == "" {
		return "", eris.New("crm: deal requires an organization id")
	}
	if err := c.wait(ctx); err != nil {
		return "", eris.Wrap(err, "crm: rate limit")
	}
	amount, _ := d.Amount.Float64()
	fields := map[string]any{
		"Name":      d.Name,
		"AccountId": d.OrgID,
		"StageName": d.Stage,
		"Amount":    amount,
		"CloseDate": d.CloseDate.Format("2006-01-02"),
	}
	result, err := c.sf.InsertOne("Opportunity", fields)
	if err != nil {
		return "", eris.Wrap(classify(err), "crm: create opportunity")
	}
	if !result.Success {
		return "", eris.Errorf("crm: create opportunity failed: %v", result.Errors)
	}
	return result.Id, nil
}

// escapeSoql escapes single quotes in SOQL string literals.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
