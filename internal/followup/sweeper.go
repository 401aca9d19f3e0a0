package followup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ristrutturiamolo/callpilot/internal/ghl"
	"github.com/ristrutturiamolo/callpilot/internal/notify"
	"github.com/ristrutturiamolo/callpilot/pkg/logging"
)

// ContactSource refetches contact data before resubmission so the intake
// request carries current values, not the ones captured at scheduling time.
type ContactSource interface {
	GetContact(ctx context.Context, contactID string) (*ghl.Contact, error)
}

// ProvinceHistory looks up the province of the contact's most recent call.
type ProvinceHistory interface {
	LatestProvinceForContact(ctx context.Context, contactID string) (string, error)
}

// ProvinceExtractor re-derives a province from a free-form address.
type ProvinceExtractor interface {
	Extract(ctx context.Context, address string) string
}

var knownServices = []string{"Infissi", "Vetrate", "Pergole"}

// Intake failure bodies that mean the follow-up can never succeed and
// should be dropped instead of retried.
var permanentIntakeErrors = []string{
	"No sales representatives available",
	"not in right area",
	"Address is required",
	"service field is required",
}

// Sweeper periodically turns due follow-ups back into intake submissions.
type Sweeper struct {
	store     *Store
	contacts  ContactSource
	history   ProvinceHistory
	extractor ProvinceExtractor
	notifier  *notify.Notifier
	logger    *logging.Logger

	intakeURL  string
	httpClient *http.Client
	interval   time.Duration
	now        func() time.Time
}

// NewSweeper wires the sweeper. intakeURL is the full URL of the outbound
// intake endpoint, usually on the local listener.
func NewSweeper(store *Store, contacts ContactSource, history ProvinceHistory,
	extractor ProvinceExtractor, notifier *notify.Notifier, logger *logging.Logger,
	intakeURL string, interval time.Duration) *Sweeper {
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		store:      store,
		contacts:   contacts,
		history:    history,
		extractor:  extractor,
		notifier:   notifier,
		logger:     logger,
		intakeURL:  intakeURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		interval:   interval,
		now:        time.Now,
	}
}

// Run sweeps on the configured interval until the context is canceled. The
// first sweep happens one interval in, not at startup, so a crash loop does
// not hammer the intake endpoint.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass: drop stuck entries, then resubmit every due one.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.now().UTC()

	stuck, err := s.store.Stuck(ctx, now)
	if err != nil {
		s.logger.Error("stuck follow-up query failed", "error", err)
	}
	for _, f := range stuck {
		if err := s.store.Delete(ctx, f.ID); err != nil {
			s.logger.Error("stuck follow-up delete failed", "id", f.ID, "error", err)
			continue
		}
		s.notifier.Send(ctx, notify.Event{
			Severity: notify.SeverityWarning,
			Title:    "Follow-up abbandonato",
			Message: fmt.Sprintf("Programmato per %s, %d tentativi falliti.\nUltimo errore: %s",
				f.FollowUpAt.Format(time.RFC3339), f.FailureCount, f.LastError),
			ContactID: f.ContactID,
			Service:   f.Service,
			Province:  f.Province,
		})
	}

	due, err := s.store.Due(ctx, now)
	if err != nil {
		s.logger.Error("due follow-up query failed", "error", err)
		return
	}
	for _, f := range due {
		s.process(ctx, f)
	}
}

func (s *Sweeper) process(ctx context.Context, f *FollowUp) {
	contact, err := s.contacts.GetContact(ctx, f.ContactID)
	if err != nil {
		s.recordFailure(ctx, f, fmt.Errorf("contact refetch: %w", err))
		return
	}

	service := s.deriveService(f, contact)
	if service == "" {
		s.dropPermanent(ctx, f, "nessun servizio ricavabile dal contatto")
		return
	}
	province := s.deriveProvince(ctx, f, contact)

	payload := map[string]string{
		"contact_id":   f.ContactID,
		"first_name":   contact.FirstName,
		"full_name":    strings.TrimSpace(contact.FirstName + " " + contact.LastName),
		"email":        contact.Email,
		"phone":        contact.Phone,
		"full_address": contact.FullAddress(),
		"service":      service,
		"province":     province,
	}
	status, body, err := s.postIntake(ctx, payload)
	if err != nil {
		s.recordFailure(ctx, f, err)
		return
	}

	switch {
	case status >= 200 && status < 300:
		if err := s.store.Delete(ctx, f.ID); err != nil {
			s.logger.Error("follow-up delete failed", "id", f.ID, "error", err)
			return
		}
		s.logger.Info("follow-up resubmitted", "contact_id", f.ContactID, "service", service)

	case status >= 400 && status < 500 && isPermanentIntakeError(body):
		s.dropPermanent(ctx, f, body)

	default:
		s.recordFailure(ctx, f, fmt.Errorf("intake returned %d: %s", status, body))
	}
}

// deriveService prefers the stored column, then contact custom fields, then
// tags, matched case-insensitively against the known service names.
func (s *Sweeper) deriveService(f *FollowUp, contact *ghl.Contact) string {
	if f.Service != "" {
		return f.Service
	}
	for _, field := range contact.CustomFields {
		if v, ok := field.Value.(string); ok {
			if svc := matchService(v); svc != "" {
				return svc
			}
		}
	}
	for _, tag := range contact.Tags {
		if svc := matchService(tag); svc != "" {
			return svc
		}
	}
	return ""
}

// deriveProvince prefers the stored column, then the contact's latest call
// record, then a fresh extraction from the current address.
func (s *Sweeper) deriveProvince(ctx context.Context, f *FollowUp, contact *ghl.Contact) string {
	if f.Province != "" {
		return f.Province
	}
	if p, err := s.history.LatestProvinceForContact(ctx, f.ContactID); err == nil && p != "" {
		return p
	}
	return s.extractor.Extract(ctx, contact.FullAddress())
}

func (s *Sweeper) postIntake(ctx context.Context, payload map[string]string) (int, string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, "", fmt.Errorf("followup: marshal intake payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.intakeURL, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("followup: build intake request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("followup: intake request: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(respBody), nil
}

func (s *Sweeper) dropPermanent(ctx context.Context, f *FollowUp, reason string) {
	if err := s.store.Delete(ctx, f.ID); err != nil {
		s.logger.Error("follow-up delete failed", "id", f.ID, "error", err)
		return
	}
	s.notifier.Send(ctx, notify.Event{
		Severity:  notify.SeverityWarning,
		Title:     "Follow-up non eseguibile",
		Message:   "Rimosso definitivamente: " + reason,
		ContactID: f.ContactID,
		Service:   f.Service,
		Province:  f.Province,
	})
}

func (s *Sweeper) recordFailure(ctx context.Context, f *FollowUp, cause error) {
	s.logger.Warn("follow-up resubmission failed", "id", f.ID, "contact_id", f.ContactID, "error", cause)
	if err := s.store.RecordFailure(ctx, f.ID, cause); err != nil {
		s.logger.Error("follow-up failure record failed", "id", f.ID, "error", err)
	}
}

func matchService(v string) string {
	for _, svc := range knownServices {
		if strings.EqualFold(strings.TrimSpace(v), svc) {
			return svc
		}
	}
	return ""
}

func isPermanentIntakeError(body string) bool {
	for _, marker := range permanentIntakeErrors {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}
