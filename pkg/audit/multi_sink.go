package audit

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// MultiSink writes every event to all of its sinks. One sink failing does not
// stop the others; the errors are joined.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Write writes event to every sink
func (m *MultiSink) Write(ctx context.Context, event *AuthEvent) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Write(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoggerSink emits each event as a structured log line
type LoggerSink struct {
	logger logrus.FieldLogger
}

// NewLoggerSink creates a sink over logger
func NewLoggerSink(logger logrus.FieldLogger) *LoggerSink {
	if logger == nil {
		logger = logrus.New()
	}
	return &LoggerSink{logger: logger}
}

// Write logs the event at info level
func (s *LoggerSink) Write(ctx context.Context, event *AuthEvent) error {
	fields := logrus.Fields{
		"event_id":   event.ID,
		"event_kind": event.Kind,
		"success":    event.Success,
		"user_agent": event.UserAgent,
		"created_at": event.CreatedAt,
	}
	if event.PrincipalID != nil {
		fields["principal_id"] = *event.PrincipalID
	}
	if event.Email != nil {
		fields["email"] = *event.Email
	}
	for k, v := range event.ClientMetadata {
		fields["meta_"+k] = v
	}

	s.logger.WithFields(fields).Info("auth event")
	return nil
}
