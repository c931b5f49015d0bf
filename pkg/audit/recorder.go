package audit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tcangola/portal/pkg/ids"
	"github.com/tcangola/portal/pkg/observability"
)

// Recorder appends auth events. Record never reports failure to the caller.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

// Sink persists a fully built event
type Sink interface {
	Write(ctx context.Context, event *AuthEvent) error
}

// Log is the Recorder used by the portal
type Log struct {
	sink    Sink
	logger  logrus.FieldLogger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewLog creates a Log writing to sink
func NewLog(sink Sink, logger logrus.FieldLogger, metrics *observability.Metrics) *Log {
	if logger == nil {
		logger = logrus.New()
	}
	return &Log{
		sink:    sink,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Record builds the event and writes it. Errors go to the log and metrics only.
func (l *Log) Record(ctx context.Context, entry Entry) {
	if !entry.Kind.Valid() {
		l.logger.WithField("event_kind", entry.Kind).Error("refusing to record auth event of unknown kind")
		return
	}

	event := l.build(ctx, entry)

	if err := l.sink.Write(ctx, event); err != nil {
		l.metrics.AuthEventFailure(string(event.Kind))
		l.logger.WithError(err).WithFields(logrus.Fields{
			"event_id":     event.ID,
			"event_kind":   event.Kind,
			"success":      event.Success,
			"principal_id": entry.PrincipalID,
		}).Warn("failed to record auth event")
		return
	}

	l.metrics.AuthEvent(string(event.Kind), event.Success)
}

func (l *Log) build(ctx context.Context, entry Entry) *AuthEvent {
	createdAt := l.now().UTC()
	client := ClientInfoFrom(ctx)

	userAgent := entry.UserAgent
	if userAgent == "" {
		userAgent = client.UserAgent
	}

	metadata := make(map[string]interface{}, len(entry.Details)+2)
	for k, v := range entry.Details {
		metadata[k] = v
	}
	if client.IPAddress != "" {
		if _, ok := metadata["ip_address"]; !ok {
			metadata["ip_address"] = client.IPAddress
		}
	}
	if client.RequestID != "" {
		if _, ok := metadata["request_id"]; !ok {
			metadata["request_id"] = client.RequestID
		}
	}

	return &AuthEvent{
		ID:             ids.NewAt(createdAt),
		Kind:           entry.Kind,
		Success:        entry.Success,
		PrincipalID:    optionalString(entry.PrincipalID),
		Email:          optionalString(entry.Email),
		UserAgent:      userAgent,
		ClientMetadata: metadata,
		CreatedAt:      createdAt,
	}
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Entry) {}

// Nop returns a Recorder that discards everything
func Nop() Recorder {
	return nopRecorder{}
}
