package followup

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ristrutturiamolo/callpilot/internal/database"
	"github.com/ristrutturiamolo/callpilot/internal/ghl"
	"github.com/ristrutturiamolo/callpilot/internal/notify"
)

type fakeContacts struct {
	contact *ghl.Contact
	err     error
}

func (f fakeContacts) GetContact(context.Context, string) (*ghl.Contact, error) {
	return f.contact, f.err
}

type fakeHistory struct{ province string }

func (f fakeHistory) LatestProvinceForContact(context.Context, string) (string, error) {
	return f.province, nil
}

type fakeExtractor struct{ code string }

func (f fakeExtractor) Extract(context.Context, string) string { return f.code }

func testContact() *ghl.Contact {
	return &ghl.Contact{
		ID: "c1", FirstName: "Mario", LastName: "Rossi",
		Email: "mario@example.com", Phone: "+393331234567",
		Address1: "Via Nazionale 10", City: "Roma", PostalCode: "00184",
	}
}

func newTestSweeper(t *testing.T, intakeURL string, contacts ContactSource) (*Sweeper, *Store) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := NewStore(db.DB)
	s := NewSweeper(store, contacts, fakeHistory{}, fakeExtractor{},
		notify.New("", nil), nil, intakeURL, time.Hour)
	return s, store
}

func dueFollowUp(t *testing.T, store *Store, f *FollowUp) int64 {
	t.Helper()
	if f.FollowUpAt.IsZero() {
		f.FollowUpAt = time.Now().UTC().Add(-5 * time.Minute)
	}
	id, err := store.Create(context.Background(), f)
	if err != nil {
		t.Fatalf("create follow-up: %v", err)
	}
	return id
}

func TestSweepResubmitsAndDeletes(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode intake payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s, store := newTestSweeper(t, srv.URL, fakeContacts{contact: testContact()})
	dueFollowUp(t, store, &FollowUp{ContactID: "c1", Service: "Infissi", Province: "RM"})

	s.Sweep(context.Background())

	if got == nil {
		t.Fatal("intake endpoint never called")
	}
	if got["contact_id"] != "c1" || got["service"] != "Infissi" || got["province"] != "RM" {
		t.Errorf("payload = %v", got)
	}
	if got["full_name"] != "Mario Rossi" {
		t.Errorf("full_name = %q", got["full_name"])
	}
	if got["full_address"] != "Via Nazionale 10, Roma, 00184" {
		t.Errorf("full_address = %q", got["full_address"])
	}

	due, _ := store.Due(context.Background(), time.Now().UTC())
	if len(due) != 0 {
		t.Fatalf("follow-up survived successful resubmission")
	}
}

func TestSweepDropsOnPermanentIntakeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "No sales representatives available: contact is not in right area",
		})
	}))
	defer srv.Close()

	s, store := newTestSweeper(t, srv.URL, fakeContacts{contact: testContact()})
	dueFollowUp(t, store, &FollowUp{ContactID: "c1", Service: "Infissi"})

	s.Sweep(context.Background())

	due, _ := store.Due(context.Background(), time.Now().UTC())
	if len(due) != 0 {
		t.Fatal("permanently failed follow-up was not dropped")
	}
}

func TestSweepRecordsTransientFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, store := newTestSweeper(t, srv.URL, fakeContacts{contact: testContact()})
	dueFollowUp(t, store, &FollowUp{ContactID: "c1", Service: "Infissi"})

	s.Sweep(context.Background())

	due, err := store.Due(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("follow-up with transient failure disappeared")
	}
	if due[0].FailureCount != 1 {
		t.Errorf("failure count = %d, want 1", due[0].FailureCount)
	}
}

func TestSweepDropsWhenNoServiceDerivable(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	contact := testContact()
	contact.Tags = []string{"lead", "import-2026"}
	s, store := newTestSweeper(t, srv.URL, fakeContacts{contact: contact})
	dueFollowUp(t, store, &FollowUp{ContactID: "c1"})

	s.Sweep(context.Background())

	if called {
		t.Error("intake called despite missing service")
	}
	due, _ := store.Due(context.Background(), time.Now().UTC())
	if len(due) != 0 {
		t.Fatal("service-less follow-up was not dropped")
	}
}

func TestSweepDerivesServiceFromContact(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	contact := testContact()
	contact.CustomFields = []ghl.CustomField{{Key: "servizio", Value: " vetrate "}}
	s, store := newTestSweeper(t, srv.URL, fakeContacts{contact: contact})
	dueFollowUp(t, store, &FollowUp{ContactID: "c1"})

	s.Sweep(context.Background())

	if got["service"] != "Vetrate" {
		t.Errorf("derived service = %q, want Vetrate", got["service"])
	}
}

func TestSweepDerivesServiceFromTags(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	contact := testContact()
	contact.Tags = []string{"lead", "pergole"}
	s, store := newTestSweeper(t, srv.URL, fakeContacts{contact: contact})
	dueFollowUp(t, store, &FollowUp{ContactID: "c1"})

	s.Sweep(context.Background())

	if got["service"] != "Pergole" {
		t.Errorf("derived service = %q, want Pergole", got["service"])
	}
}

func TestSweepDropsStuckEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s, store := newTestSweeper(t, srv.URL, fakeContacts{err: context.DeadlineExceeded})
	dueFollowUp(t, store, &FollowUp{
		ContactID:  "c1",
		FollowUpAt: time.Now().UTC().Add(-30 * time.Hour),
	})

	s.Sweep(context.Background())

	due, _ := store.Due(context.Background(), time.Now().UTC())
	if len(due) != 0 {
		t.Fatal("stuck follow-up survived the sweep")
	}
}

func TestIsPermanentIntakeError(t *testing.T) {
	for _, body := range []string{
		`{"error":"Address is required"}`,
		`{"error":"service field is required"}`,
		`{"error":"No sales representatives available: contact is not in right area"}`,
	} {
		if !isPermanentIntakeError(body) {
			t.Errorf("body %q not classified permanent", body)
		}
	}
	if isPermanentIntakeError(`{"error":"internal"}`) {
		t.Error("generic error classified permanent")
	}
}
