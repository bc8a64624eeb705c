package crm

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/resilience"
	"github.com/sells-group/leadgen/internal/store"
)

type fakeClient struct {
	calls []string

	findOrgResult  *Organization
	findOrgErr     error
	findPersons    map[string]*Person // keyed by email
	findDealResult *Deal

	createOrgFailures int // transient failures before success
	createOrgErr      error

	createdOrgs    []Organization
	updatedOrgIDs  []string
	createdPersons []Person
	updatedPersons map[string]Person
	createdDeals   []Deal
}

func newFakeClient() *fakeClient {
	return &fakeClient{updatedPersons: map[string]Person{}}
}

func (f *fakeClient) FindOrganization(_ context.Context, name string) (*Organization, error) {
	f.calls = append(f.calls, "find_org")
	return f.findOrgResult, f.findOrgErr
}

func (f *fakeClient) CreateOrganization(_ context.Context, org Organization) (string, error) {
	f.calls = append(f.calls, "create_org")
	if f.createOrgFailures > 0 {
		f.createOrgFailures--
		return "", resilience.NewTransient(eris.New("gateway timeout"), 504)
	}
	if f.createOrgErr != nil {
		return "", f.createOrgErr
	}
	f.createdOrgs = append(f.createdOrgs, org)
	return "org-1", nil
}

func (f *fakeClient) UpdateOrganization(_ context.Context, id string, _ Organization) error {
	f.calls = append(f.calls, "update_org")
	f.updatedOrgIDs = append(f.updatedOrgIDs, id)
	return nil
}

func (f *fakeClient) FindPerson(_ context.Context, email, _ string) (*Person, error) {
	f.calls = append(f.calls, "find_person")
	return f.findPersons[email], nil
}

func (f *fakeClient) CreatePerson(_ context.Context, p Person) (string, error) {
	f.calls = append(f.calls, "create_person")
	f.createdPersons = append(f.createdPersons, p)
	return "person-1", nil
}

func (f *fakeClient) UpdatePerson(_ context.Context, id string, p Person) error {
	f.calls = append(f.calls, "update_person")
	f.updatedPersons[id] = p
	return nil
}

func (f *fakeClient) FindOpenDeal(_ context.Context, _ string) (*Deal, error) {
	f.calls = append(f.calls, "find_deal")
	return f.findDealResult, nil
}

func (f *fakeClient) CreateDeal(_ context.Context, d Deal) (string, error) {
	f.calls = append(f.calls, "create_deal")
	f.createdDeals = append(f.createdDeals, d)
	return "deal-1", nil
}

func (f *fakeClient) called(name string) int {
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func newEngineStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "leadgen.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedCompany(t *testing.T, s store.Store, score int, contacts []model.Contact) *model.Company {
	t.Helper()
	ctx := context.Background()

	c := &model.Company{
		Name:               "Summit Manufacturing",
		State:              "OH",
		City:               "Dayton",
		NAICSCode:          "332710",
		NAICSDescription:   "Machine Shops",
		EmployeeCountExact: 150,
		Source:             "csv",
		SourceID:           "row-9",
		Website:            "https://summitmfg.test",
	}
	_, err := s.UpsertCompany(ctx, c)
	require.NoError(t, err)
	if score > 0 {
		require.NoError(t, s.UpdateLeadScore(ctx, c.ID, score))
		c.LeadScore = score
	}
	if len(contacts) > 0 {
		require.NoError(t, s.ReplaceContacts(ctx, c.ID, contacts))
	}
	return c
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestSyncCreatesOrgPeopleAndDeal(t *testing.T) {
	s := newEngineStore(t)
	client := newFakeClient()
	engine := NewEngine(s, client, EngineConfig{Retry: fastRetry()})

	c := seedCompany(t, s, 92, []model.Contact{
		{FullName: "Dana Reyes", Title: "CFO", Email: "dana@summitmfg.test", EmailVerified: true, Confidence: 0.9},
		{FullName: "Lee Park", Title: "Machinist", Email: "lee@summitmfg.test", Confidence: 0.5},
	})

	require.NoError(t, engine.SyncCompany(context.Background(), c.ID))

	require.Len(t, client.createdOrgs, 1)
	assert.Equal(t, "Summit Manufacturing", client.createdOrgs[0].Name)
	assert.Equal(t, 150, client.createdOrgs[0].EmployeeCount)

	// Only the decision-maker crosses into the CRM.
	require.Len(t, client.createdPersons, 1)
	assert.Equal(t, "Dana", client.createdPersons[0].FirstName)
	assert.Equal(t, "Reyes", client.createdPersons[0].LastName)
	assert.Equal(t, "org-1", client.createdPersons[0].OrgID)

	require.Len(t, client.createdDeals, 1)
	deal := client.createdDeals[0]
	assert.Equal(t, "Summit Manufacturing - Group Benefits", deal.Name)
	// 150 employees, score 92: 15000 base with the top multiplier.
	assert.True(t, deal.Amount.Equal(decimal.NewFromInt(22500)), "amount %s", deal.Amount)
	assert.Equal(t, "Prospecting", deal.Stage)

	got, err := s.GetCompany(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncSynced, got.CRMSyncStatus)
	assert.Equal(t, "org-1", got.CRMOrgID)

	contacts, err := s.ListContacts(context.Background(), c.ID)
	require.NoError(t, err)
	for _, contact := range contacts {
		if contact.IsDecisionMaker() {
			assert.Equal(t, "person-1", contact.CRMPersonID)
			assert.Equal(t, model.SyncSynced, contact.CRMSyncStatus)
		} else {
			assert.Empty(t, contact.CRMPersonID)
		}
	}
}

func TestSyncSkipsAlreadySynced(t *testing.T) {
	s := newEngineStore(t)
	client := newFakeClient()
	engine := NewEngine(s, client, EngineConfig{Retry: fastRetry()})

	c := seedCompany(t, s, 90, nil)
	require.NoError(t, s.FinishSync(context.Background(), c.ID, model.SyncSynced, "org-77", ""))

	require.NoError(t, engine.SyncCompany(context.Background(), c.ID))
	assert.Empty(t, client.calls)
}

func TestSyncUpdatesExistingOrganization(t *testing.T) {
	s := newEngineStore(t)
	client := newFakeClient()
	client.findOrgResult = &Organization{ID: "org-55", Name: "Summit Manufacturing"}
	engine := NewEngine(s, client, EngineConfig{Retry: fastRetry()})

	c := seedCompany(t, s, 50, nil)
	require.NoError(t, engine.SyncCompany(context.Background(), c.ID))

	assert.Empty(t, client.createdOrgs)
	assert.Equal(t, []string{"org-55"}, client.updatedOrgIDs)

	got, err := s.GetCompany(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "org-55", got.CRMOrgID)
}

func TestSyncReusesStoredOrgID(t *testing.T) {
	s := newEngineStore(t)
	client := newFakeClient()
	engine := NewEngine(s, client, EngineConfig{Retry: fastRetry()})

	c := seedCompany(t, s, 50, nil)
	// A prior partial sync recorded the org but failed later.
	require.NoError(t, s.FinishSync(context.Background(), c.ID, model.SyncFailed, "org-33", "boom"))

	require.NoError(t, engine.SyncCompany(context.Background(), c.ID))
	assert.Zero(t, client.called("find_org"))
	assert.Equal(t, []string{"org-33"}, client.updatedOrgIDs)
}

func TestSyncNoDealBelowThreshold(t *testing.T) {
	s := newEngineStore(t)
	client := newFakeClient()
	engine := NewEngine(s, client, EngineConfig{Retry: fastRetry()})

	c := seedCompany(t, s, 70, []model.Contact{
		{FullName: "Dana Reyes", Title: "CFO", Email: "dana@summitmfg.test"},
	})

	require.NoError(t, engine.SyncCompany(context.Background(), c.ID))
	assert.Zero(t, client.called("find_deal"))
	assert.Zero(t, client.called("create_deal"))
}

func TestSyncNoDealWithoutDecisionMakers(t *testing.T) {
	s := newEngineStore(t)
	client := newFakeClient()
	engine := NewEngine(s, client, EngineConfig{Retry: fastRetry()})

	c := seedCompany(t, s, 95, []model.Contact{
		{FullName: "Lee Park", Title: "Machinist", Email: "lee@summitmfg.test"},
	})

	require.NoError(t, engine.SyncCompany(context.Background(), c.ID))
	assert.Zero(t, client.called("create_deal"))
}

func TestSyncSkipsExistingOpenDeal(t *testing.T) {
	s := newEngineStore(t)
	client := newFakeClient()
	client.findDealResult = &Deal{ID: "deal-9", OrgID: "org-1"}
	engine := NewEngine(s, client, EngineConfig{Retry: fastRetry()})

	c := seedCompany(t, s, 92, []model.Contact{
		{FullName: "Dana Reyes", Title: "CFO", Email: "dana@summitmfg.test"},
	})

	require.NoError(t, engine.SyncCompany(context.Background(), c.ID))
	assert.Equal(t, 1, client.called("find_deal"))
	assert.Zero(t, client.called("create_deal"))
}

func TestSyncRetriesTransientAndSucceeds(t *testing.T) {
	s := newEngineStore(t)
	client := newFakeClient()
	client.createOrgFailures = 2
	engine := NewEngine(s, client, EngineConfig{Retry: fastRetry()})

	c := seedCompany(t, s, 50, nil)
	require.NoError(t, engine.SyncCompany(context.Background(), c.ID))

	assert.Equal(t, 3, client.called("create_org"))
	got, err := s.GetCompany(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncSynced, got.CRMSyncStatus)
}

func TestSyncPermanentFailureMarksFailed(t *testing.T) {
	s := newEngineStore(t)
	client := newFakeClient()
	client.createOrgErr = &resilience.PermanentError{Err: eris.New("invalid session id")}
	engine := NewEngine(s, client, EngineConfig{Retry: fastRetry()})

	c := seedCompany(t, s, 50, nil)
	err := engine.SyncCompany(context.Background(), c.ID)
	require.Error(t, err)

	assert.Equal(t, 1, client.called("create_org"))
	got, gErr := s.GetCompany(context.Background(), c.ID)
	require.NoError(t, gErr)
	assert.Equal(t, model.SyncFailed, got.CRMSyncStatus)
	assert.Contains(t, got.SyncError, "invalid session id")
}

func TestSplitName(t *testing.T) {
	cases := []struct {
		full, first, last string
	}{
		{"Dana Reyes", "Dana", "Reyes"},
		{"Mary Anne van der Berg", "Mary", "Berg"},
		{"Prince", "", "Prince"},
		{"", "", "Unknown"},
	}
	for _, tc := range cases {
		first, last := splitName(tc.full)
		assert.Equal(t, tc.first, first, tc.full)
		assert.Equal(t, tc.last, last, tc.full)
	}
}
