// Package credas is the HTTP client for the Credas identity-verification
// provider. It owns wire shapes and transport concerns only; what a result
// means for a profile is decided by the verification service.
package credas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"fundgate/pkg/platform/circuit"
	"fundgate/pkg/platform/sentinel"
)

const (
	// DefaultBaseURL is the production Credas portal.
	DefaultBaseURL = "https://portal.credas.com"

	// identityActorID is the Credas actor for the person being verified.
	identityActorID = 110

	// maxErrorBody caps how much of a provider error response is read back
	// into error messages and logs.
	maxErrorBody = 4 << 10
)

// Config carries the provider credentials and endpoints.
type Config struct {
	APIKey     string
	BaseURL    string
	JourneyID  string
	WebhookURL string
	Timeout    time.Duration
}

// Client talks to the Credas CI API. Summary fetches short-circuit through
// a breaker when the provider has been failing; process creation always
// attempts, since the caller has no degraded path for it.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
}

// Option configures optional Client dependencies.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBreaker overrides the default circuit breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

func New(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: circuit.New("credas"),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether an API key is present. Callers surface
// configuration_missing themselves so the error carries their context.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

func (c *Client) JourneyID() string {
	return c.cfg.JourneyID
}

func (c *Client) WebhookURL() string {
	return c.cfg.WebhookURL
}

// Person is the subject a CI process is opened for.
type Person struct {
	Email     string
	FirstName string
	Surname   string
}

// Process is the outcome of creating a CI process.
type Process struct {
	ProcessID string
	EntityID  string
	Raw       json.RawMessage
}

type processEntity struct {
	EmailAddress    string `json:"emailAddress"`
	FirstName       string `json:"firstName"`
	Surname         string `json:"surname"`
	ActorID         int    `json:"actorId"`
	ContactViaEmail bool   `json:"contactViaEmail"`
	ContactViaSms   bool   `json:"contactViaSms"`
	InPerson        bool   `json:"inPerson"`
}

type processRequest struct {
	JourneyID       string          `json:"journeyId"`
	Title           string          `json:"title"`
	WebhookURL      string          `json:"webhookUrl"`
	ProcessEntities []processEntity `json:"processEntities"`
}

// processResponse parses only the fields we rely on; the full body is kept
// raw because the provider adds fields without notice.
type processResponse struct {
	ID            string `json:"id"`
	ProcessActors []struct {
		EntityID string `json:"entityId"`
	} `json:"processActors"`
}

// CreateProcess opens a CI journey for the person and invites them by
// email. The returned EntityID may be empty when the provider omits actor
// details; callers must tolerate that.
func (c *Client) CreateProcess(ctx context.Context, person Person) (*Process, error) {
	body := processRequest{
		JourneyID:  c.cfg.JourneyID,
		Title:      fmt.Sprintf("Verification - %s %s", person.FirstName, person.Surname),
		WebhookURL: c.cfg.WebhookURL,
		ProcessEntities: []processEntity{{
			EmailAddress:    person.Email,
			FirstName:       person.FirstName,
			Surname:         person.Surname,
			ActorID:         identityActorID,
			ContactViaEmail: true,
		}},
	}

	raw, err := c.doJSON(ctx, http.MethodPost, "/api/v2/ci/process", body)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, err
	}
	c.breaker.RecordSuccess()

	var resp processResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse credas process response: %w", err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("credas process response missing id")
	}

	process := &Process{ProcessID: resp.ID, Raw: raw}
	if len(resp.ProcessActors) > 0 {
		process.EntityID = resp.ProcessActors[0].EntityID
	}
	return process, nil
}

// Check is one verification check inside an entity summary.
type Check struct {
	Name   string `json:"name"`
	Result string `json:"result"`
}

// Summary is the provider's view of an entity's checks.
type Summary struct {
	Checks []Check         `json:"checks"`
	Raw    json.RawMessage `json:"-"`
}

// HasFailedCheck reports whether any check came back failed. The provider
// is inconsistent about result casing, so both observed spellings count.
func (s *Summary) HasFailedCheck() bool {
	for _, check := range s.Checks {
		if check.Result == "fail" || check.Result == "Failed" {
			return true
		}
	}
	return false
}

// FetchSummary loads the check summary for an entity. When the breaker is
// open the call short-circuits with sentinel.ErrUnavailable without
// touching the network.
func (c *Client) FetchSummary(ctx context.Context, entityID string) (*Summary, error) {
	if !c.breaker.Allow() {
		return nil, fmt.Errorf("credas circuit open: %w", sentinel.ErrUnavailable)
	}

	raw, err := c.doJSON(ctx, http.MethodGet, "/api/v2/ci/entities/"+entityID+"/summary", nil)
	if err != nil {
		if useFallback, change := c.breaker.RecordFailure(); useFallback && change.Opened {
			c.logger.Warn("credas circuit opened", "breaker", c.breaker.Name())
		}
		return nil, err
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.Info("credas circuit closed", "breaker", c.breaker.Name())
	}

	summary := &Summary{Raw: raw}
	if err := json.Unmarshal(raw, summary); err != nil {
		return nil, fmt.Errorf("parse credas summary: %w", err)
	}
	return summary, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode credas request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build credas request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("credas %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("credas %s %s: status %d: %s", method, path, resp.StatusCode, string(errBody))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read credas response: %w", err)
	}
	return raw, nil
}
