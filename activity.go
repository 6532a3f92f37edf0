package authclient

import (
	"context"
	"time"
)

// ActivityEventType names a session action taken by the client.
type ActivityEventType string

const (
	ActivityEventLoginSuccess    ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure    ActivityEventType = "auth.login.failure"
	ActivityEventRegisterSuccess ActivityEventType = "auth.register.success"
	ActivityEventRegisterFailure ActivityEventType = "auth.register.failure"
	ActivityEventLogout          ActivityEventType = "auth.logout"
	ActivityEventRefreshSuccess  ActivityEventType = "auth.refresh.success"
	ActivityEventRefreshFailure  ActivityEventType = "auth.refresh.failure"
	ActivityEventPasswordReset   ActivityEventType = "auth.password.reset"
)

// ActivityEvent describes one login, logout, refresh or account call. Subject
// is the token "sub" claim when the result carried a token.
type ActivityEvent struct {
	EventType  ActivityEventType
	Subject    string
	StatusCode int
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink receives events after each Service call. A failing sink is
// logged and never changes the call result.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc lets a plain func act as a sink, as the CLI does.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record calls f. A nil func drops the event.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

// sinkOrNoop keeps Service.record free of nil checks
func sinkOrNoop(sink ActivitySink) ActivitySink {
	if sink == nil {
		return noopActivitySink{}
	}
	return sink
}

func newActivityEvent(kind ActivityEventType, result AuthResult, now time.Time) ActivityEvent {
	event := ActivityEvent{
		EventType:  kind,
		StatusCode: result.StatusCode(),
		OccurredAt: now,
		Metadata:   map[string]any{},
	}
	if sub, ok := result.Token.Claim("sub"); ok {
		if s, ok := sub.(string); ok {
			event.Subject = s
		}
	}
	if len(result.Errors) > 0 {
		event.Metadata["errors"] = result.Errors
	}
	if result.Err != nil {
		event.Metadata["error"] = result.Err.Error()
	}
	return event
}
