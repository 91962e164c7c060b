package audit

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// LogSink streams audit entries as JSON lines for log shipping. It keeps no
// history and cannot be searched.
type LogSink struct {
	logger *logrus.Logger
}

// NewLogSink creates a sink writing to w. A nil writer means stdout.
func NewLogSink(w io.Writer) *LogSink {
	if w == nil {
		w = os.Stdout
	}

	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	return &LogSink{logger: logger}
}

func (s *LogSink) Write(ctx context.Context, entry *Entry) error {
	fields := logrus.Fields{
		"channel": "audit",
		"user_id": entry.UserID,
		"action":  string(entry.Action),
		"entity":  entry.Entity,
	}
	if entry.ProjectID != "" {
		fields["project_id"] = entry.ProjectID
	}
	if entry.EntityID != "" {
		fields["entity_id"] = entry.EntityID
	}
	if len(entry.Meta) > 0 {
		fields["meta"] = entry.Meta
	}

	s.logger.WithContext(ctx).WithFields(fields).WithTime(entry.Timestamp).Info("audit")
	return nil
}

func (s *LogSink) Close() error { return nil }

var _ Sink = (*LogSink)(nil)
