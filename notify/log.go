package notify

import (
	"context"
	"sort"
	"strings"

	"github.com/goliatone/go-workflow/engine"
)

// LogSink writes each notification as a log line. Useful for development and the CLI.
type LogSink struct {
	logger engine.Logger
}

// NewLogSink logs through logger, or the engine's default logger when nil.
func NewLogSink(logger engine.Logger) *LogSink {
	if logger == nil {
		logger = engine.NewDefaultLogger(nil)
	}
	return &LogSink{logger: logger}
}

// Notify implements engine.NotificationSink.
func (s *LogSink) Notify(ctx context.Context, n engine.Notification) error {
	logger := s.logger.WithContext(ctx)
	if fl, ok := logger.(engine.FieldsLogger); ok {
		fields := map[string]any{
			"workflow_id":   n.WorkflowID,
			"workflow_type": n.WorkflowType,
			"state":         n.State,
		}
		if n.OrganizationID != "" {
			fields["organization_id"] = n.OrganizationID
		}
		logger = fl.WithFields(fields)
	}
	logger.Info("notify %s to %s", n.Template, describeRecipients(n.Recipients))
	return nil
}

func describeRecipients(r engine.Recipients) string {
	if r.Empty() {
		return "nobody"
	}
	parts := make([]string, 0, len(r.Roles)+len(r.Users))
	for _, role := range r.Roles {
		parts = append(parts, "role:"+string(role))
	}
	users := append([]string(nil), r.Users...)
	sort.Strings(users)
	for _, u := range users {
		parts = append(parts, "user:"+u)
	}
	return strings.Join(parts, ",")
}
