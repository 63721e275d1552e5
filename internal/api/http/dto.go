package http

import (
	"time"

	"business-escalation/internal/domain"
	"business-escalation/internal/geo"
)

// DayHoursRequest is the DTO for one weekday's opening window.
type DayHoursRequest struct {
	Open   string `json:"open" validate:"required_if=IsOpen true,clock"`
	Close  string `json:"close" validate:"required_if=IsOpen true,clock"`
	IsOpen bool   `json:"is_open"`
}

// SaveBusinessRequest is the DTO for creating or updating a business.
type SaveBusinessRequest struct {
	ID                   string                     `json:"id" validate:"omitempty,max=128"`
	Name                 string                     `json:"name" validate:"required,min=1,max=256"`
	ContactPerson        string                     `json:"contact_person" validate:"max=256"`
	Email                string                     `json:"email" validate:"omitempty,email"`
	Phone                string                     `json:"phone" validate:"max=64"`
	Services             []string                   `json:"services" validate:"required,min=1,dive,required"`
	Lat                  float64                    `json:"lat" validate:"gte=-90,lte=90"`
	Lng                  float64                    `json:"lng" validate:"gte=-180,lte=180"`
	CoverageRadiusKm     float64                    `json:"coverage_radius_km" validate:"gt=0"`
	Capacity             int                        `json:"capacity" validate:"gte=0"`
	Reliability          float64                    `json:"reliability" validate:"omitempty,gte=1,lte=5"`
	AvgResponseTimeHours float64                    `json:"avg_response_time_hours" validate:"gte=0"`
	OperatingHours       map[string]DayHoursRequest `json:"operating_hours" validate:"dive,keys,weekday,endkeys"`
	Timezone             string                     `json:"timezone" validate:"omitempty,timezone"`
	IsActive             *bool                      `json:"is_active"`
}

// ToDomainBusiness converts the DTO to a domain.Business. Businesses are
// active unless is_active is explicitly false.
func (r *SaveBusinessRequest) ToDomainBusiness() *domain.Business {
	var hours domain.WeeklyHours
	for name, d := range r.OperatingHours {
		if day, ok := weekday(name); ok {
			hours[day] = domain.DayHours{Open: d.Open, Close: d.Close, IsOpen: d.IsOpen}
		}
	}

	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}

	return &domain.Business{
		ID:                   r.ID,
		Name:                 r.Name,
		ContactPerson:        r.ContactPerson,
		Email:                r.Email,
		Phone:                r.Phone,
		Services:             r.Services,
		Location:             geo.Point{Lat: r.Lat, Lng: r.Lng},
		CoverageRadiusKm:     r.CoverageRadiusKm,
		Capacity:             r.Capacity,
		Reliability:          r.Reliability,
		AvgResponseTimeHours: r.AvgResponseTimeHours,
		OperatingHours:       hours,
		Timezone:             r.Timezone,
		IsActive:             active,
	}
}

// ContactRequest is the DTO for a requester.
type ContactRequest struct {
	Name  string `json:"name" validate:"max=256"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"max=64"`
}

// SaveTaskRequest is the DTO for creating or updating a task. Contact fields
// are owned by the engine and cannot be set here.
type SaveTaskRequest struct {
	ID                     string         `json:"id" validate:"omitempty,max=128"`
	Title                  string         `json:"title" validate:"required,max=256"`
	Description            string         `json:"description"`
	Category               string         `json:"category" validate:"required"`
	Urgency                string         `json:"urgency" validate:"omitempty,oneof=normal urgent emergency"`
	Lat                    float64        `json:"lat" validate:"gte=-90,lte=90"`
	Lng                    float64        `json:"lng" validate:"gte=-180,lte=180"`
	PeopleNeeded           int            `json:"people_needed" validate:"gte=0"`
	AcceptedVolunteerCount int            `json:"accepted_volunteer_count" validate:"gte=0"`
	Requester              ContactRequest `json:"requester"`
	CreatedAt              *time.Time     `json:"created_at"`
	EndTime                *time.Time     `json:"end_time"`
}

// ToDomainTask converts the DTO to a domain.Task.
func (r *SaveTaskRequest) ToDomainTask() *domain.Task {
	task := &domain.Task{
		ID:                     r.ID,
		Title:                  r.Title,
		Description:            r.Description,
		Category:               r.Category,
		Urgency:                domain.Urgency(r.Urgency),
		Location:               geo.Point{Lat: r.Lat, Lng: r.Lng},
		PeopleNeeded:           r.PeopleNeeded,
		AcceptedVolunteerCount: r.AcceptedVolunteerCount,
		Requester: domain.ContactInfo{
			Name:  r.Requester.Name,
			Email: r.Requester.Email,
			Phone: r.Requester.Phone,
		},
		EndTime: r.EndTime,
	}
	if r.CreatedAt != nil {
		task.CreatedAt = *r.CreatedAt
	}
	return task
}

// EligibilityResponse is returned by the business eligibility check.
type EligibilityResponse struct {
	BusinessID string  `json:"business_id"`
	Category   string  `json:"category"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	CanHandle  bool    `json:"can_handle"`
}

// ResetLoadResponse is returned by the daily load reset.
type ResetLoadResponse struct {
	Reset int `json:"reset"`
}

func weekday(name string) (time.Weekday, bool) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if name == lowerWeekdays[d] {
			return d, true
		}
	}
	return 0, false
}

var lowerWeekdays = [7]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}
