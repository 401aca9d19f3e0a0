package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabasePath  string

	// Route prefixes for the outbound and inbound call surfaces.
	OutgoingPrefix string
	IncomingPrefix string

	// Telephony (Twilio)
	TwilioAccountSID    string
	TwilioAuthToken     string
	TwilioNumberInfissi string
	TwilioNumberVetrate string

	// CRM (GoHighLevel)
	GHLClientID     string
	GHLClientSecret string
	GHLRedirectURI  string
	GHLLocationID   string
	GHLCalendarID   string
	GHLBaseURL      string

	// Workflow enrollments triggered by intake outcomes. Optional; empty
	// ids disable the enrollment.
	GHLNoRepWorkflowID         string
	GHLCallScheduledWorkflowID string

	// Voice AI (ElevenLabs)
	ElevenLabsAPIKey          string
	ElevenLabsOutboundAgentID string
	ElevenLabsInboundAgentID  string
	ElevenLabsWebhookSecret   string

	// Operator notifications (Slack-compatible webhook)
	NotifierWebhookURL string

	// LLM (Gemini) for province fallback and post-call analysis.
	GeminiAPIKey string

	// ZIP→province spreadsheet
	SheetsAPIKey  string
	ZipSheetID    string
	ZipSheetRange string

	MaxActiveCalls         int
	QueueTickInterval      time.Duration
	FollowUpSweepInterval  time.Duration
	EnablePostCallAnalysis bool
	EnableMockAnalysis     bool

	// Booking defaults and rep seeding.
	DefaultAppointmentAddress string
	SalesRepsJSON             string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabasePath:  getEnv("DATABASE_PATH", ""),

		OutgoingPrefix: getEnv("OUTGOING_ROUTE_PREFIX", "/outgoing"),
		IncomingPrefix: getEnv("INCOMING_ROUTE_PREFIX", "/incoming"),

		TwilioAccountSID:    getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioNumberInfissi: getEnv("TWILIO_NUMBER_INFISSI", ""),
		TwilioNumberVetrate: getEnv("TWILIO_NUMBER_VETRATE", ""),

		GHLClientID:     getEnv("GHL_CLIENT_ID", ""),
		GHLClientSecret: getEnv("GHL_CLIENT_SECRET", ""),
		GHLRedirectURI:  getEnv("GHL_REDIRECT_URI", ""),
		GHLLocationID:   getEnv("GHL_LOCATION_ID", ""),
		GHLCalendarID:   getEnv("GHL_CALENDAR_ID", ""),
		GHLBaseURL:      getEnv("GHL_BASE_URL", "https://services.leadconnectorhq.com"),

		GHLNoRepWorkflowID:         getEnv("GHL_NO_REP_WORKFLOW_ID", ""),
		GHLCallScheduledWorkflowID: getEnv("GHL_CALL_SCHEDULED_WORKFLOW_ID", ""),

		ElevenLabsAPIKey:          getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsOutboundAgentID: getEnv("ELEVENLABS_OUTBOUND_AGENT_ID", ""),
		ElevenLabsInboundAgentID:  getEnv("ELEVENLABS_INBOUND_AGENT_ID", ""),
		ElevenLabsWebhookSecret:   getEnv("ELEVENLABS_WEBHOOK_SECRET", ""),

		NotifierWebhookURL: getEnv("NOTIFIER_WEBHOOK_URL", ""),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),

		SheetsAPIKey:  getEnv("SHEETS_API_KEY", ""),
		ZipSheetID:    getEnv("ZIP_SHEET_ID", ""),
		ZipSheetRange: getEnv("ZIP_SHEET_RANGE", "Sheet1!A:B"),

		MaxActiveCalls:         getEnvAsInt("MAX_ACTIVE_CALLS", 3),
		QueueTickInterval:      getEnvAsDuration("QUEUE_TICK_INTERVAL", 10*time.Second),
		FollowUpSweepInterval:  getEnvAsDuration("FOLLOWUP_SWEEP_INTERVAL", time.Hour),
		EnablePostCallAnalysis: getEnvAsBool("ENABLE_POST_CALL_ANALYSIS", true),
		EnableMockAnalysis:     getEnvAsBool("ENABLE_MOCK_ANALYSIS", false),

		DefaultAppointmentAddress: getEnv("DEFAULT_APPOINTMENT_ADDRESS", "Indirizzo da definire"),
		SalesRepsJSON:             getEnv("SALES_REPS_JSON", ""),
	}
}

// Validate checks that every required variable is present. All missing
// variables are reported at once so operators can fix the environment in
// a single pass.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"DATABASE_PATH", c.DatabasePath},
		{"PUBLIC_BASE_URL", c.PublicBaseURL},
		{"TWILIO_ACCOUNT_SID", c.TwilioAccountSID},
		{"TWILIO_AUTH_TOKEN", c.TwilioAuthToken},
		{"TWILIO_NUMBER_INFISSI", c.TwilioNumberInfissi},
		{"TWILIO_NUMBER_VETRATE", c.TwilioNumberVetrate},
		{"GHL_CLIENT_ID", c.GHLClientID},
		{"GHL_CLIENT_SECRET", c.GHLClientSecret},
		{"GHL_REDIRECT_URI", c.GHLRedirectURI},
		{"GHL_LOCATION_ID", c.GHLLocationID},
		{"GHL_CALENDAR_ID", c.GHLCalendarID},
		{"NOTIFIER_WEBHOOK_URL", c.NotifierWebhookURL},
		{"ELEVENLABS_API_KEY", c.ElevenLabsAPIKey},
		{"ELEVENLABS_OUTBOUND_AGENT_ID", c.ElevenLabsOutboundAgentID},
		{"ELEVENLABS_INBOUND_AGENT_ID", c.ElevenLabsInboundAgentID},
	}

	var missing []string
	for _, v := range required {
		if strings.TrimSpace(v.value) == "" {
			missing = append(missing, v.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if c.MaxActiveCalls < 1 {
		return fmt.Errorf("MAX_ACTIVE_CALLS must be at least 1, got %d", c.MaxActiveCalls)
	}
	if c.QueueTickInterval < 5*time.Second {
		return fmt.Errorf("QUEUE_TICK_INTERVAL must be at least 5s, got %s", c.QueueTickInterval)
	}
	return nil
}

// OutboundNumberFor returns the caller id used for a given service.
func (c *Config) OutboundNumberFor(service string) string {
	if service == "Infissi" {
		return c.TwilioNumberInfissi
	}
	return c.TwilioNumberVetrate
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
