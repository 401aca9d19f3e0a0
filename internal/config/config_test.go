package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Errorf("Env = %q, want development", cfg.Env)
	}
	if cfg.OutgoingPrefix != "/outgoing" || cfg.IncomingPrefix != "/incoming" {
		t.Errorf("prefixes = %q, %q", cfg.OutgoingPrefix, cfg.IncomingPrefix)
	}
	if cfg.GHLBaseURL != "https://services.leadconnectorhq.com" {
		t.Errorf("GHLBaseURL = %q", cfg.GHLBaseURL)
	}
	if cfg.MaxActiveCalls != 3 {
		t.Errorf("MaxActiveCalls = %d, want 3", cfg.MaxActiveCalls)
	}
	if cfg.QueueTickInterval != 10*time.Second {
		t.Errorf("QueueTickInterval = %s, want 10s", cfg.QueueTickInterval)
	}
	if cfg.FollowUpSweepInterval != time.Hour {
		t.Errorf("FollowUpSweepInterval = %s, want 1h", cfg.FollowUpSweepInterval)
	}
	if !cfg.EnablePostCallAnalysis {
		t.Error("EnablePostCallAnalysis should default to true")
	}
	if cfg.EnableMockAnalysis {
		t.Error("EnableMockAnalysis should default to false")
	}
	if cfg.DefaultAppointmentAddress != "Indirizzo da definire" {
		t.Errorf("DefaultAppointmentAddress = %q", cfg.DefaultAppointmentAddress)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("MAX_ACTIVE_CALLS", "7")
	t.Setenv("QUEUE_TICK_INTERVAL", "30s")
	t.Setenv("ENABLE_POST_CALL_ANALYSIS", "false")
	t.Setenv("OUTGOING_ROUTE_PREFIX", "/calls-out")

	cfg := Load()
	if cfg.Port != "9999" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.MaxActiveCalls != 7 {
		t.Errorf("MaxActiveCalls = %d", cfg.MaxActiveCalls)
	}
	if cfg.QueueTickInterval != 30*time.Second {
		t.Errorf("QueueTickInterval = %s", cfg.QueueTickInterval)
	}
	if cfg.EnablePostCallAnalysis {
		t.Error("EnablePostCallAnalysis not overridden")
	}
	if cfg.OutgoingPrefix != "/calls-out" {
		t.Errorf("OutgoingPrefix = %q", cfg.OutgoingPrefix)
	}
}

func validConfig() *Config {
	return &Config{
		DatabasePath:              "/data/app.db",
		PublicBaseURL:             "https://calls.example.com",
		TwilioAccountSID:          "AC123",
		TwilioAuthToken:           "secret",
		TwilioNumberInfissi:       "+390600000001",
		TwilioNumberVetrate:       "+390600000002",
		GHLClientID:               "client",
		GHLClientSecret:           "secret",
		GHLRedirectURI:            "https://calls.example.com/hl/callback",
		GHLLocationID:             "loc",
		GHLCalendarID:             "cal",
		NotifierWebhookURL:        "https://hooks.example.com/x",
		ElevenLabsAPIKey:          "xi-key",
		ElevenLabsOutboundAgentID: "agent-out",
		ElevenLabsInboundAgentID:  "agent-in",
		MaxActiveCalls:            3,
		QueueTickInterval:         10 * time.Second,
	}
}

func TestValidateOK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateReportsAllMissingAtOnce(t *testing.T) {
	cfg := validConfig()
	cfg.DatabasePath = ""
	cfg.TwilioAuthToken = ""
	cfg.ElevenLabsAPIKey = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, name := range []string{"DATABASE_PATH", "TWILIO_AUTH_TOKEN", "ELEVENLABS_API_KEY"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error does not mention %s: %v", name, err)
		}
	}
}

func TestValidateBounds(t *testing.T) {
	cfg := validConfig()
	cfg.MaxActiveCalls = 0
	if err := cfg.Validate(); err == nil {
		t.Error("MaxActiveCalls 0 accepted")
	}

	cfg = validConfig()
	cfg.QueueTickInterval = time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("1s tick accepted")
	}
}

func TestOutboundNumberFor(t *testing.T) {
	cfg := validConfig()
	if got := cfg.OutboundNumberFor("Infissi"); got != "+390600000001" {
		t.Errorf("Infissi number = %q", got)
	}
	if got := cfg.OutboundNumberFor("Vetrate"); got != "+390600000002" {
		t.Errorf("Vetrate number = %q", got)
	}
	if got := cfg.OutboundNumberFor("Pergole"); got != "+390600000002" {
		t.Errorf("Pergole number = %q, want the vetrate line", got)
	}
}
