package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/governor"
)

const proxycurlDefaultBaseURL = "https://nubela.co/proxycurl/api"

// Role keywords matched against Proxycurl occupations, mirroring the
// titles targeted on the primary provider.
var proxycurlRoleFilter = "CEO OR CFO OR COO OR Owner OR President OR Founder OR " +
	"(Human Resources) OR (HR Director) OR (Benefits Manager) OR Controller"

// Proxycurl is the fallback contact searcher, used when the primary
// returns too few decision-makers.
type Proxycurl struct {
	baseURL string
	apiKey  string
	client  *http.Client
	gov     governor.Governor
	limit   int
}

// NewProxycurl creates a Proxycurl adapter.
func NewProxycurl(apiKey string, gov governor.Governor) *Proxycurl {
	return &Proxycurl{
		baseURL: proxycurlDefaultBaseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 45 * time.Second},
		gov:     gov,
		limit:   10,
	}
}

// WithBaseURL overrides the API endpoint, for tests.
func (p *Proxycurl) WithBaseURL(u string) *Proxycurl {
	p.baseURL = strings.TrimRight(u, "/")
	return p
}

// Name implements ContactSearcher.
func (p *Proxycurl) Name() string { return "proxycurl" }

type proxycurlResult struct {
	LinkedInProfileURL string `json:"linkedin_profile_url"`
	Profile            struct {
		FullName   string `json:"full_name"`
		FirstName  string `json:"first_name"`
		LastName   string `json:"last_name"`
		Occupation string `json:"occupation"`
	} `json:"profile"`
}

type proxycurlSearchResponse struct {
	Results []proxycurlResult `json:"results"`
}

// SearchContacts implements ContactSearcher via the person search
// endpoint, filtered to current employees of the named company.
func (p *Proxycurl) SearchContacts(ctx context.Context, q Query) ([]ContactCandidate, error) {
	if strings.TrimSpace(q.Name) == "" {
		return nil, eris.New("proxycurl: company name is required")
	}

	permit, err := p.gov.Acquire(ctx, p.Name(), "search")
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("current_company_name", q.Name)
	params.Set("current_role_title", proxycurlRoleFilter)
	params.Set("country", "US")
	if q.State != "" {
		params.Set("region", q.State)
	}
	params.Set("page_size", "10")
	params.Set("enrich_profiles", "enrich")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/search/person?"+params.Encode(), nil)
	if err != nil {
		permit.Complete(ctx, false)
		return nil, eris.Wrap(err, "proxycurl: create request")
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		permit.Complete(ctx, false)
		return nil, eris.Wrap(err, "proxycurl: search request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		permit.Complete(ctx, false)
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, &RateLimitedError{Provider: p.Name(), RetryAfter: retryAfter(resp)}
		}
		return nil, classifyStatus(p.Name(), resp.StatusCode)
	}

	var decoded proxycurlSearchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&decoded); err != nil {
		permit.Complete(ctx, false)
		return nil, eris.Wrap(err, "proxycurl: decode response")
	}
	permit.Complete(ctx, true)

	if len(decoded.Results) == 0 {
		return nil, ErrNoResults
	}

	candidates := make([]ContactCandidate, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		name := r.Profile.FullName
		if name == "" {
			name = strings.TrimSpace(r.Profile.FirstName + " " + r.Profile.LastName)
		}
		if name == "" {
			continue
		}
		candidates = append(candidates, ContactCandidate{
			FullName:    name,
			FirstName:   r.Profile.FirstName,
			LastName:    r.Profile.LastName,
			Title:       r.Profile.Occupation,
			LinkedInURL: r.LinkedInProfileURL,
			Provider:    "proxycurl",
			// No email on profile search; the verifier stage fills
			// deliverability where an address is discovered later.
			Confidence: 0.65,
		})
	}
	if len(candidates) == 0 {
		return nil, ErrNoResults
	}

	zap.L().Debug("proxycurl: search results",
		zap.String("company", q.Name),
		zap.Int("count", len(candidates)),
	)
	return candidates, nil
}
