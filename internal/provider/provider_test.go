package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen/internal/governor"
	"github.com/sells-group/leadgen/internal/resilience"
)

type fakeGovernor struct {
	acquires  int
	completed []bool
	denyWith  error
}

func (g *fakeGovernor) Acquire(context.Context, string, string) (*governor.Permit, error) {
	if g.denyWith != nil {
		return nil, g.denyWith
	}
	g.acquires++
	return governor.NewPermit(func(_ context.Context, success bool) {
		g.completed = append(g.completed, success)
	}), nil
}

func TestApolloSearchContacts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/mixed_people/search", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"people":[
			{"name":"Jane Roe","first_name":"Jane","last_name":"Roe","title":"CFO",
			 "seniority":"c_suite","email":"jane@acme.test","email_status":"verified",
			 "departments":["finance"],
			 "phone_numbers":[{"sanitized_number":"+15551230000"}]},
			{"first_name":"Sam","last_name":"Low","title":"HR Director",
			 "email":"sam@acme.test","email_status":"guessed"}
		]}`))
	}))
	defer srv.Close()

	gov := &fakeGovernor{}
	apollo := NewApollo("key", gov).WithBaseURL(srv.URL)

	got, err := apollo.SearchContacts(context.Background(), Query{Name: "Acme Health", State: "OH"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Jane Roe", got[0].FullName)
	assert.Equal(t, "CFO", got[0].Title)
	assert.Equal(t, "finance", got[0].Department)
	assert.Equal(t, "+15551230000", got[0].Phone)
	assert.Equal(t, "apollo", got[0].Provider)
	assert.InDelta(t, 0.95, got[0].Confidence, 0.001)

	// Name assembled from parts when the API omits the full name.
	assert.Equal(t, "Sam Low", got[1].FullName)
	assert.InDelta(t, 0.5, got[1].Confidence, 0.001)

	assert.Equal(t, 1, gov.acquires)
	require.Len(t, gov.completed, 1)
	assert.True(t, gov.completed[0])
}

func TestApolloEmptyResultsIsNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"people":[]}`))
	}))
	defer srv.Close()

	apollo := NewApollo("key", &fakeGovernor{}).WithBaseURL(srv.URL)
	_, err := apollo.SearchContacts(context.Background(), Query{Name: "Ghost LLC"})
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestApolloRateLimitedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	gov := &fakeGovernor{}
	apollo := NewApollo("key", gov).WithBaseURL(srv.URL)
	_, err := apollo.SearchContacts(context.Background(), Query{Name: "Acme"})

	assert.True(t, IsRateLimited(err))
	assert.True(t, resilience.IsTransient(err))
	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 7*time.Second, rl.RetryAfter)
	require.Len(t, gov.completed, 1)
	assert.False(t, gov.completed[0])
}

func TestApolloAuthFailureIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	apollo := NewApollo("bad-key", &fakeGovernor{}).WithBaseURL(srv.URL)
	_, err := apollo.SearchContacts(context.Background(), Query{Name: "Acme"})

	assert.True(t, IsAuthError(err))
	assert.False(t, resilience.IsTransient(err))
}

func TestApolloGovernorDenialShortCircuits(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))
	defer srv.Close()

	denied := &governor.LimitError{Provider: "apollo", Reason: governor.ReasonMonthlyBudget}
	apollo := NewApollo("key", &fakeGovernor{denyWith: denied}).WithBaseURL(srv.URL)

	_, err := apollo.SearchContacts(context.Background(), Query{Name: "Acme"})
	var le *governor.LimitError
	require.ErrorAs(t, err, &le)
	assert.False(t, called, "denied call must not reach the network")
}

func TestApolloRequiresCompanyName(t *testing.T) {
	apollo := NewApollo("key", &fakeGovernor{})
	_, err := apollo.SearchContacts(context.Background(), Query{Name: "  "})
	assert.Error(t, err)
}

func TestProxycurlSearchContacts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/person", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "Acme Health", r.URL.Query().Get("current_company_name"))
		_, _ = w.Write([]byte(`{"results":[
			{"linkedin_profile_url":"https://linkedin.test/in/jroe",
			 "profile":{"full_name":"Jane Roe","first_name":"Jane","last_name":"Roe","occupation":"CFO at Acme Health"}},
			{"linkedin_profile_url":"https://linkedin.test/in/anon","profile":{}}
		]}`))
	}))
	defer srv.Close()

	pc := NewProxycurl("key", &fakeGovernor{}).WithBaseURL(srv.URL)
	got, err := pc.SearchContacts(context.Background(), Query{Name: "Acme Health", State: "OH"})
	require.NoError(t, err)

	// Nameless profiles are dropped.
	require.Len(t, got, 1)
	assert.Equal(t, "Jane Roe", got[0].FullName)
	assert.Equal(t, "CFO at Acme Health", got[0].Title)
	assert.Equal(t, "proxycurl", got[0].Provider)
	assert.Empty(t, got[0].Email)
}

func TestProxycurlAllNamelessIsNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"profile":{}}]}`))
	}))
	defer srv.Close()

	pc := NewProxycurl("key", &fakeGovernor{}).WithBaseURL(srv.URL)
	_, err := pc.SearchContacts(context.Background(), Query{Name: "Acme"})
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestDropcontactVerify(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/batch":
			assert.Equal(t, "key", r.Header.Get("X-Access-Token"))
			_, _ = w.Write([]byte(`{"request_id":"req-1","error":false}`))
		case r.Method == http.MethodGet && r.URL.Path == "/batch/req-1":
			polls++
			if polls == 1 {
				_, _ = w.Write([]byte(`{"success":false}`))
				return
			}
			_, _ = w.Write([]byte(`{"success":true,"data":[{"email":[{"email":"jane@acme.test","qualification":"nominative@pro"}]}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	gov := &fakeGovernor{}
	dc := NewDropcontact("key", gov).
		WithBaseURL(srv.URL).
		WithPolling(time.Millisecond, time.Second)

	status, err := dc.Verify(context.Background(), "jane@acme.test")
	require.NoError(t, err)
	assert.Equal(t, VerifyValid, status)
	assert.Equal(t, 2, polls)
	require.Len(t, gov.completed, 1)
	assert.True(t, gov.completed[0])
}

func TestDropcontactMalformedAddressSkipsProvider(t *testing.T) {
	gov := &fakeGovernor{}
	dc := NewDropcontact("key", gov)

	status, err := dc.Verify(context.Background(), "not-an-email")
	require.NoError(t, err)
	assert.Equal(t, VerifyInvalid, status)
	assert.Zero(t, gov.acquires)
}

func TestMapQualifier(t *testing.T) {
	assert.Equal(t, VerifyValid, mapQualifier("nominative@pro"))
	assert.Equal(t, VerifyRisky, mapQualifier("catch-all@pro"))
	assert.Equal(t, VerifyInvalid, mapQualifier("wrong"))
	assert.Equal(t, VerifyInvalid, mapQualifier(""))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	apollo := NewApollo("key", &fakeGovernor{})
	reg.RegisterSearcher(apollo)

	assert.Same(t, apollo, reg.Searcher("apollo").(*Apollo))
	assert.Nil(t, reg.Searcher("missing"))
	assert.Nil(t, reg.Verifier("missing"))
}
