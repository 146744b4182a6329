package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventAuthFailure      EventType = "auth_failure"
	EventRateLimitExceed  EventType = "rate_limit_exceeded"
	EventCodeIssue        EventType = "pairing_code_issue"
	EventClaimStart       EventType = "claim_start"
	EventClaimReject      EventType = "claim_reject"
	EventClaimComplete    EventType = "claim_complete"
	EventDeviceUnpair     EventType = "device_unpair"
	EventCommandLeaseLost EventType = "command_lease_expired"
)

// Event is one audit line. Time defaults to the wall clock; services pass
// their own clock's reading.
type Event struct {
	Type      EventType
	Time      time.Time
	UserID    string
	AnchorID  string
	IP        string
	UserAgent string
	Details   map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	logger := log.With().
		Str("audit", "security").
		Str("event_type", string(event.Type)).
		Time("timestamp", event.Time).
		Logger()

	if event.UserID != "" {
		logger = logger.With().Str("user_id", event.UserID).Logger()
	}
	if event.AnchorID != "" {
		logger = logger.With().Str("anchor_id", event.AnchorID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = ClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

// ClientIP trusts RemoteAddr only. chi's RealIP middleware has already
// rewritten it from X-Forwarded-For or X-Real-IP when the server sits behind
// a proxy.
func ClientIP(r *http.Request) string {
	return r.RemoteAddr
}
