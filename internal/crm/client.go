// Package crm syncs qualified leads into the CRM: organizations,
// decision-maker people, and deals for high-quality leads.
package crm

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Organization is a CRM company record.
type Organization struct {
	ID            string
	Name          string
	Website       string
	Industry      string
	Phone         string
	City          string
	State         string
	PostalCode    string
	EmployeeCount int
	AnnualRevenue float64
	Description   string
}

// Person is a CRM contact record attached to an organization.
type Person struct {
	ID        string
	OrgID     string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Title     string
}

// Deal is a CRM opportunity.
type Deal struct {
	ID        string
	OrgID     string
	Name      string
	Amount    decimal.Decimal
	Stage     string
	CloseDate time.Time
}

// Client defines the CRM operations the sync engine needs. Find
// methods return nil (no error) when nothing matches.
type Client interface {
	FindOrganization(ctx context.Context, name string) (*Organization, error)
	CreateOrganization(ctx context.Context, org Organization) (string, error)
	UpdateOrganization(ctx context.Context, id string, org Organization) error
	FindPerson(ctx context.Context, email, fullName string) (*Person, error)
	CreatePerson(ctx context.Context, p Person) (string, error)
	UpdatePerson(ctx context.Context, id string, p Person) error
	FindOpenDeal(ctx context.Context, orgID string) (*Deal, error)
	CreateDeal(ctx context.Context, d Deal) (string, error)
}
