package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/governor"
)

const apolloDefaultBaseURL = "https://api.apollo.io/v1"

// Target titles for decision-maker search, broad enough to cover both
// executive and HR/benefits buyers.
var apolloPersonTitles = []string{
	"CEO", "CFO", "COO", "Owner", "President", "Founder",
	"VP Human Resources", "HR Director", "Benefits Manager",
	"Controller", "Director of Finance",
}

// Apollo is the primary contact searcher.
type Apollo struct {
	baseURL string
	apiKey  string
	client  *http.Client
	gov     governor.Governor
	perPage int
}

// NewApollo creates an Apollo adapter.
func NewApollo(apiKey string, gov governor.Governor) *Apollo {
	return &Apollo{
		baseURL: apolloDefaultBaseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		gov:     gov,
		perPage: 10,
	}
}

// WithBaseURL overrides the API endpoint, for tests.
func (a *Apollo) WithBaseURL(u string) *Apollo {
	a.baseURL = strings.TrimRight(u, "/")
	return a
}

// Name implements ContactSearcher.
func (a *Apollo) Name() string { return "apollo" }

type apolloSearchRequest struct {
	APIKey              string   `json:"api_key"`
	QOrganizationName   string   `json:"q_organization_name"`
	PersonTitles        []string `json:"person_titles,omitempty"`
	PersonLocations     []string `json:"person_locations,omitempty"`
	OrganizationNumEmpl []string `json:"organization_num_employees_ranges,omitempty"`
	Page                int      `json:"page"`
	PerPage             int      `json:"per_page"`
}

type apolloPerson struct {
	Name         string `json:"name"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Title        string `json:"title"`
	Seniority    string `json:"seniority"`
	Email        string `json:"email"`
	EmailStatus  string `json:"email_status"`
	LinkedInURL  string `json:"linkedin_url"`
	Departments  []string `json:"departments"`
	PhoneNumbers []struct {
		SanitizedNumber string `json:"sanitized_number"`
	} `json:"phone_numbers"`
}

type apolloSearchResponse struct {
	People []apolloPerson `json:"people"`
}

// SearchContacts implements ContactSearcher. One page of results; the
// per-page size already exceeds the contacts-per-company cap.
func (a *Apollo) SearchContacts(ctx context.Context, q Query) ([]ContactCandidate, error) {
	if strings.TrimSpace(q.Name) == "" {
		return nil, eris.New("apollo: company name is required")
	}

	permit, err := a.gov.Acquire(ctx, a.Name(), "search")
	if err != nil {
		return nil, err
	}

	body := apolloSearchRequest{
		APIKey:            a.apiKey,
		QOrganizationName: q.Name,
		PersonTitles:      apolloPersonTitles,
		Page:              1,
		PerPage:           a.perPage,
	}
	if q.State != "" {
		body.PersonLocations = []string{q.State + ", US"}
	}
	if q.EmployeeRange != "" {
		body.OrganizationNumEmpl = []string{q.EmployeeRange}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		permit.Complete(ctx, false)
		return nil, eris.Wrap(err, "apollo: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/mixed_people/search", bytes.NewReader(payload))
	if err != nil {
		permit.Complete(ctx, false)
		return nil, eris.Wrap(err, "apollo: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := a.client.Do(req)
	if err != nil {
		permit.Complete(ctx, false)
		return nil, eris.Wrap(err, "apollo: search request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		permit.Complete(ctx, false)
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, &RateLimitedError{Provider: a.Name(), RetryAfter: retryAfter(resp)}
		}
		return nil, classifyStatus(a.Name(), resp.StatusCode)
	}

	var decoded apolloSearchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&decoded); err != nil {
		permit.Complete(ctx, false)
		return nil, eris.Wrap(err, "apollo: decode response")
	}
	permit.Complete(ctx, true)

	if len(decoded.People) == 0 {
		return nil, ErrNoResults
	}

	candidates := make([]ContactCandidate, 0, len(decoded.People))
	for _, p := range decoded.People {
		candidates = append(candidates, p.toCandidate())
	}
	zap.L().Debug("apollo: search results",
		zap.String("company", q.Name),
		zap.Int("count", len(candidates)),
	)
	return candidates, nil
}

func (p apolloPerson) toCandidate() ContactCandidate {
	c := ContactCandidate{
		FullName:    p.Name,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		Title:       p.Title,
		Seniority:   p.Seniority,
		Email:       p.Email,
		EmailStatus: p.EmailStatus,
		LinkedInURL: p.LinkedInURL,
		Provider:    "apollo",
		Confidence:  apolloConfidence(p.EmailStatus),
	}
	if c.FullName == "" {
		c.FullName = strings.TrimSpace(p.FirstName + " " + p.LastName)
	}
	if len(p.Departments) > 0 {
		c.Department = p.Departments[0]
	}
	if len(p.PhoneNumbers) > 0 {
		c.Phone = p.PhoneNumbers[0].SanitizedNumber
	}
	return c
}

func apolloConfidence(emailStatus string) float64 {
	switch emailStatus {
	case "verified":
		return 0.95
	case "likely":
		return 0.75
	case "guessed":
		return 0.5
	default:
		return 0.6
	}
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
