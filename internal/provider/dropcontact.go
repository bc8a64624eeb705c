package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen/internal/governor"
)

const dropcontactDefaultBaseURL = "https://api.dropcontact.io"

// Dropcontact verifies email deliverability. The API is asynchronous:
// a batch is submitted, then polled until the result is ready.
type Dropcontact struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	gov          governor.Governor
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewDropcontact creates a Dropcontact adapter.
func NewDropcontact(apiKey string, gov governor.Governor) *Dropcontact {
	return &Dropcontact{
		baseURL:      dropcontactDefaultBaseURL,
		apiKey:       apiKey,
		client:       &http.Client{Timeout: 30 * time.Second},
		gov:          gov,
		pollInterval: 2 * time.Second,
		pollTimeout:  30 * time.Second,
	}
}

// WithBaseURL overrides the API endpoint, for tests.
func (d *Dropcontact) WithBaseURL(u string) *Dropcontact {
	d.baseURL = strings.TrimRight(u, "/")
	return d
}

// WithPolling overrides the poll cadence, for tests.
func (d *Dropcontact) WithPolling(interval, timeout time.Duration) *Dropcontact {
	d.pollInterval = interval
	d.pollTimeout = timeout
	return d
}

// Name implements EmailVerifier.
func (d *Dropcontact) Name() string { return "dropcontact" }

type dropcontactBatchRequest struct {
	Data []map[string]string `json:"data"`
}

type dropcontactBatchAccepted struct {
	RequestID string `json:"request_id"`
	Error     bool   `json:"error"`
	Reason    string `json:"reason"`
}

type dropcontactBatchResult struct {
	Success bool `json:"success"`
	Data    []struct {
		Email []struct {
			Email     string `json:"email"`
			Qualifier string `json:"qualification"`
		} `json:"email"`
	} `json:"data"`
}

// Verify implements EmailVerifier. A syntactically invalid address is
// rejected locally without spending a provider call.
func (d *Dropcontact) Verify(ctx context.Context, email string) (VerifyStatus, error) {
	if _, err := mail.ParseAddress(email); err != nil {
		return VerifyInvalid, nil
	}

	permit, err := d.gov.Acquire(ctx, d.Name(), "verify")
	if err != nil {
		return "", err
	}

	requestID, err := d.submit(ctx, email)
	if err != nil {
		permit.Complete(ctx, false)
		return "", err
	}

	status, err := d.poll(ctx, requestID)
	permit.Complete(ctx, err == nil)
	return status, err
}

func (d *Dropcontact) submit(ctx context.Context, email string) (string, error) {
	payload, err := json.Marshal(dropcontactBatchRequest{
		Data: []map[string]string{{"email": email}},
	})
	if err != nil {
		return "", eris.Wrap(err, "dropcontact: marshal batch")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/batch", bytes.NewReader(payload))
	if err != nil {
		return "", eris.Wrap(err, "dropcontact: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Access-Token", d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "dropcontact: submit batch")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		if resp.StatusCode == http.StatusTooManyRequests {
			return "", &RateLimitedError{Provider: d.Name(), RetryAfter: retryAfter(resp)}
		}
		return "", classifyStatus(d.Name(), resp.StatusCode)
	}

	var accepted dropcontactBatchAccepted
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&accepted); err != nil {
		return "", eris.Wrap(err, "dropcontact: decode batch response")
	}
	if accepted.Error || accepted.RequestID == "" {
		return "", eris.Errorf("dropcontact: batch rejected: %s", accepted.Reason)
	}
	return accepted.RequestID, nil
}

func (d *Dropcontact) poll(ctx context.Context, requestID string) (VerifyStatus, error) {
	deadline := time.Now().Add(d.pollTimeout)
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		result, done, err := d.fetch(ctx, requestID)
		if err != nil {
			return "", err
		}
		if done {
			return result, nil
		}
		if time.Now().After(deadline) {
			return "", eris.Errorf("dropcontact: result not ready after %s", d.pollTimeout)
		}
		select {
		case <-ctx.Done():
			return "", eris.Wrap(ctx.Err(), "dropcontact: poll")
		case <-ticker.C:
		}
	}
}

func (d *Dropcontact) fetch(ctx context.Context, requestID string) (VerifyStatus, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/batch/"+requestID, nil)
	if err != nil {
		return "", false, eris.Wrap(err, "dropcontact: create poll request")
	}
	req.Header.Set("X-Access-Token", d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", false, eris.Wrap(err, "dropcontact: poll request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return "", false, classifyStatus(d.Name(), resp.StatusCode)
	}

	var result dropcontactBatchResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return "", false, eris.Wrap(err, "dropcontact: decode poll response")
	}
	if !result.Success {
		return "", false, nil
	}
	if len(result.Data) == 0 || len(result.Data[0].Email) == 0 {
		return VerifyRisky, true, nil
	}
	return mapQualifier(result.Data[0].Email[0].Qualifier), true, nil
}

// mapQualifier folds Dropcontact's qualification strings into the
// three-state verdict the pipeline stores.
func mapQualifier(q string) VerifyStatus {
	switch strings.ToLower(q) {
	case "nominative@pro", "correct", "valid":
		return VerifyValid
	case "unverified", "catch-all@pro", "catch_all", "risky":
		return VerifyRisky
	default:
		return VerifyInvalid
	}
}
