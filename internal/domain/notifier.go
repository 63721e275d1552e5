// internal/domain/notifier.go
package domain

import (
	"context"

	"business-escalation/internal/geo"
)

// TaskInfo is the task summary sent to a business.
type TaskInfo struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Category     string    `json:"category"`
	Urgency      Urgency   `json:"urgency"`
	Location     geo.Point `json:"location"`
	PeopleNeeded int       `json:"people_needed"`
}

// VolunteerRequest asks a business to supply a volunteer for a task.
type VolunteerRequest struct {
	BusinessID      string      `json:"business_id"`
	BusinessContact ContactInfo `json:"business_contact"`
	TaskInfo        TaskInfo    `json:"task_info"`
	CustomerInfo    ContactInfo `json:"customer_info"`
}

// NewVolunteerRequest builds the request for contacting business about task.
func NewVolunteerRequest(business *Business, task *Task) *VolunteerRequest {
	contactName := business.ContactPerson
	if contactName == "" {
		contactName = business.Name
	}
	return &VolunteerRequest{
		BusinessID: business.ID,
		BusinessContact: ContactInfo{
			Name:  contactName,
			Email: business.Email,
			Phone: business.Phone,
		},
		TaskInfo: TaskInfo{
			ID:           task.ID,
			Title:        task.Title,
			Description:  task.Description,
			Category:     task.Category,
			Urgency:      task.Urgency,
			Location:     task.Location,
			PeopleNeeded: task.PeopleNeeded,
		},
		CustomerInfo: task.Requester,
	}
}

// Notifier delivers a volunteer request to a business. Delivery is
// fire-and-forget from the engine's point of view.
type Notifier interface {
	SendBusinessVolunteerRequest(ctx context.Context, req *VolunteerRequest) (bool, error)
}

// Deliverer performs the last hop of a volunteer request on a notifier node.
type Deliverer interface {
	Deliver(ctx context.Context, req *VolunteerRequest) (output string, err error)
}
