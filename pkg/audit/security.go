package audit

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// SecurityEvent describes an authentication or authorization rejection
type SecurityEvent struct {
	Kind          string
	Code          string
	Message       string
	Operation     string
	PrincipalID   string
	ProjectID     string
	Module        string
	Permission    string
	OriginIP      string
	CorrelationID string
}

// SecurityLogger is the security audit channel. 401 and 403 outcomes are
// written here as JSON lines, separate from service logs.
type SecurityLogger struct {
	logger *logrus.Logger
}

// NewSecurityLogger creates a security channel writing JSON to w.
// A nil writer means stderr.
func NewSecurityLogger(w io.Writer) *SecurityLogger {
	if w == nil {
		w = os.Stderr
	}

	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	return &SecurityLogger{logger: logger}
}

// Record writes one security event
func (l *SecurityLogger) Record(ctx context.Context, event SecurityEvent) {
	fields := logrus.Fields{
		"channel":        "security",
		"kind":           event.Kind,
		"code":           event.Code,
		"operation":      event.Operation,
		"correlation_id": event.CorrelationID,
	}
	if event.PrincipalID != "" {
		fields["principal_id"] = event.PrincipalID
	}
	if event.ProjectID != "" {
		fields["project_id"] = event.ProjectID
	}
	if event.Module != "" {
		fields["module"] = event.Module
	}
	if event.Permission != "" {
		fields["permission"] = event.Permission
	}
	if event.OriginIP != "" {
		fields["origin_ip"] = event.OriginIP
	}

	l.logger.WithContext(ctx).WithFields(fields).Warn(event.Message)
}
