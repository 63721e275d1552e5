package local

import (
	"context"
	"log/slog"

	"business-escalation/internal/domain"
)

// LogNotifier is a domain.Notifier and domain.Deliverer that only logs the
// request. It stands in for a notifier transport or a delivery channel in
// single-node and development setups.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "log-notifier")}
}

// SendBusinessVolunteerRequest logs req and reports it as sent.
func (n *LogNotifier) SendBusinessVolunteerRequest(_ context.Context, req *domain.VolunteerRequest) (bool, error) {
	n.log(req)
	return true, nil
}

// Deliver logs req as delivered.
func (n *LogNotifier) Deliver(_ context.Context, req *domain.VolunteerRequest) (string, error) {
	n.log(req)
	return "logged request for task " + req.TaskInfo.ID, nil
}

func (n *LogNotifier) log(req *domain.VolunteerRequest) {
	n.logger.Info("volunteer request",
		"business_id", req.BusinessID,
		"business_contact", req.BusinessContact.Name,
		"business_email", req.BusinessContact.Email,
		"task_id", req.TaskInfo.ID,
		"task_category", req.TaskInfo.Category,
		"urgency", req.TaskInfo.Urgency,
	)
}
