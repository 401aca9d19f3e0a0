// Package twilio is the telephony adapter: outbound call creation with
// machine detection, live-call counting for admission control, and mid-call
// hangup.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ristrutturiamolo/callpilot/pkg/logging"
)

const defaultBaseURL = "https://api.twilio.com/2010-04-01"

// Config controls how the telephony client behaves.
type Config struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Client wraps the Twilio REST endpoints the orchestrator uses.
type Client struct {
	baseURL    string
	accountSID string
	authToken  string
	httpClient *http.Client
	logger     *logging.Logger
}

// New creates a configured Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, fmt.Errorf("twilio: account sid and auth token are required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
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
		baseURL:    baseURL,
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CallParams are the parameters of one outbound call attempt. The queue
// persists them as an opaque JSON blob between scheduling and placement.
type CallParams struct {
	To                string `json:"to"`
	From              string `json:"from"`
	TwimlURL          string `json:"twimlUrl"`
	StatusCallbackURL string `json:"statusCallbackUrl"`
	MachineDetection  bool   `json:"machineDetection"`
}

// Call is the subset of the Twilio call resource the orchestrator reads.
type Call struct {
	Sid    string `json:"sid"`
	Status string `json:"status"`
	To     string `json:"to"`
}

// CreateCall places an outbound call. Machine detection results arrive
// asynchronously on the status callback as AnsweredBy.
func (c *Client) CreateCall(ctx context.Context, p CallParams) (*Call, error) {
	form := url.Values{}
	form.Set("To", p.To)
	form.Set("From", p.From)
	form.Set("Url", p.TwimlURL)
	form.Set("StatusCallback", p.StatusCallbackURL)
	form.Set("StatusCallbackEvent", "initiated ringing answered completed")
	if p.MachineDetection {
		form.Set("MachineDetection", "Enable")
		form.Set("AsyncAmd", "true")
		form.Set("AsyncAmdStatusCallback", p.StatusCallbackURL)
	}

	var call Call
	if err := c.doForm(ctx, http.MethodPost, "/Calls.json", form, &call); err != nil {
		return nil, fmt.Errorf("twilio: create call: %w", err)
	}
	return &call, nil
}

// ActiveCallCount returns how many calls are currently queued, ringing or
// in progress. Used by the queue worker's admission control; any error
// means the caller must assume the cap is saturated.
func (c *Client) ActiveCallCount(ctx context.Context) (int, error) {
	total := 0
	for _, status := range []string{"queued", "ringing", "in-progress"} {
		q := url.Values{}
		q.Set("Status", status)
		var page struct {
			Calls []Call `json:"calls"`
		}
		if err := c.doGet(ctx, "/Calls.json", q, &page); err != nil {
			return 0, fmt.Errorf("twilio: list %s calls: %w", status, err)
		}
		total += len(page.Calls)
	}
	return total, nil
}

// Hangup terminates a live call (used when machine detection fires while
// the call is still up).
func (c *Client) Hangup(ctx context.Context, callSid string) error {
	form := url.Values{}
	form.Set("Status", "completed")
	if err := c.doForm(ctx, http.MethodPost, "/Calls/"+callSid+".json", form, nil); err != nil {
		return fmt.Errorf("twilio: hangup %s: %w", callSid, err)
	}
	return nil
}

func (c *Client) doForm(ctx context.Context, method, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, method,
		c.baseURL+"/Accounts/"+c.accountSID+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) doGet(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + "/Accounts/" + c.accountSID + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.SetBasicAuth(c.accountSID, c.authToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
