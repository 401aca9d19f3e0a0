// Package ghl is the GoHighLevel CRM adapter: OAuth tokens, calendar free
// slots, appointment booking, contact reads and writes, notes, workflows.
package ghl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ristrutturiamolo/callpilot/pkg/logging"
)

// Config controls how the CRM client behaves.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	LocationID   string
	CalendarID   string
	Timeout      time.Duration
	HTTPClient   *http.Client
	Logger       *logging.Logger
}

// Client wraps the GoHighLevel REST endpoints the orchestrator uses.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	redirectURI  string
	locationID   string
	calendarID   string
	httpClient   *http.Client
	tokens       *TokenStore
	logger       *logging.Logger
}

// New creates a configured Client.
func New(cfg Config, tokens *TokenStore) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("ghl: client id and secret are required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://services.leadconnectorhq.com"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:      baseURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		locationID:   cfg.LocationID,
		calendarID:   cfg.CalendarID,
		httpClient:   httpClient,
		tokens:       tokens,
		logger:       logger,
	}, nil
}

// LocationID returns the configured CRM location.
func (c *Client) LocationID() string { return c.locationID }

// CalendarID returns the configured CRM calendar.
func (c *Client) CalendarID() string { return c.calendarID }

// APIError carries the CRM's non-2xx response for callers that branch on it
// (the booking fallback does).
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ghl: status %d: %s", e.StatusCode, e.Body)
}

func (c *Client) authedRequest(ctx context.Context, method, path string, q url.Values, body any) (*http.Request, error) {
	bearer, err := c.Bearer(ctx)
	if err != nil {
		return nil, err
	}
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("ghl: marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("ghl: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Version", "2021-04-15")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ghl: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("ghl: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("ghl: decode response: %w", err)
		}
	}
	return nil
}

// FreeSlots queries the calendar free-slots endpoint for a UTC window,
// optionally filtered to specific rep user ids. The response shape varies
// across CRM versions, so the raw JSON body is returned for the slot
// service to normalize.
func (c *Client) FreeSlots(ctx context.Context, startUTC, endUTC time.Time, userIDs []string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("startDate", strconv.FormatInt(startUTC.UnixMilli(), 10))
	q.Set("endDate", strconv.FormatInt(endUTC.UnixMilli(), 10))
	q.Set("timezone", "UTC")
	for _, id := range userIDs {
		q.Add("userIds", id)
	}
	req, err := c.authedRequest(ctx, http.MethodGet, "/calendars/"+c.calendarID+"/free-slots", q, nil)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AppointmentRequest is the CRM booking payload.
type AppointmentRequest struct {
	CalendarID   string `json:"calendarId"`
	LocationID   string `json:"locationId"`
	ContactID    string `json:"contactId"`
	StartTime    string `json:"startTime"`
	LocationType string `json:"meetingLocationType"`
	Address      string `json:"address"`
	UserID       string `json:"assignedUserId,omitempty"`
}

// CreateAppointment books a slot. Non-2xx responses surface as *APIError so
// the booking coordinator can run its alternatives fallback.
func (c *Client) CreateAppointment(ctx context.Context, appt AppointmentRequest) (map[string]any, error) {
	if appt.CalendarID == "" {
		appt.CalendarID = c.calendarID
	}
	if appt.LocationID == "" {
		appt.LocationID = c.locationID
	}
	req, err := c.authedRequest(ctx, http.MethodPost, "/calendars/events/appointments", nil, appt)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Contact is the subset of CRM contact fields the orchestrator reads.
type Contact struct {
	ID           string         `json:"id"`
	FirstName    string         `json:"firstName"`
	LastName     string         `json:"lastName"`
	Name         string         `json:"name"`
	Email        string         `json:"email"`
	Phone        string         `json:"phone"`
	Address1     string         `json:"address1"`
	City         string         `json:"city"`
	PostalCode   string         `json:"postalCode"`
	Tags         []string       `json:"tags"`
	CustomFields []CustomField  `json:"customFields"`
}

// CustomField is a CRM contact custom field value.
type CustomField struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// FullAddress joins the structured address parts the way the CRM renders
// them.
func (ct *Contact) FullAddress() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{ct.Address1, ct.City, ct.PostalCode} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return strings.Join(parts, ", ")
}

// GetContact fetches one contact by id.
func (c *Client) GetContact(ctx context.Context, contactID string) (*Contact, error) {
	req, err := c.authedRequest(ctx, http.MethodGet, "/contacts/"+contactID, nil, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Contact Contact `json:"contact"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out.Contact, nil
}

// UpdateContactAddress overwrites the contact's address line.
func (c *Client) UpdateContactAddress(ctx context.Context, contactID, fullAddress string) error {
	req, err := c.authedRequest(ctx, http.MethodPut, "/contacts/"+contactID, nil, map[string]string{
		"address1": fullAddress,
	})
	if err != nil {
		return err
	}
	return c.doJSON(req, nil)
}

// AddNote attaches a free-text note to a contact.
func (c *Client) AddNote(ctx context.Context, contactID, body string) error {
	req, err := c.authedRequest(ctx, http.MethodPost, "/contacts/"+contactID+"/notes", nil, map[string]string{
		"body": body,
	})
	if err != nil {
		return err
	}
	return c.doJSON(req, nil)
}

// AddToWorkflow enrolls a contact in a workflow (used for the
// no-sales-rep and call-scheduled tags).
func (c *Client) AddToWorkflow(ctx context.Context, contactID, workflowID string) error {
	req, err := c.authedRequest(ctx, http.MethodPost,
		"/contacts/"+contactID+"/workflow/"+workflowID, nil, map[string]string{})
	if err != nil {
		return err
	}
	return c.doJSON(req, nil)
}
