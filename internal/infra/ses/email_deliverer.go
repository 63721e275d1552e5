// Package ses delivers volunteer requests to businesses by email through
// Amazon SES.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"business-escalation/internal/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// ErrNoRecipient is returned when the business has no email address.
var ErrNoRecipient = errors.New("business has no email address")

// API is the part of the SES v2 client the deliverer uses.
type API interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// NewClient builds an SES v2 client from the default AWS credential chain.
func NewClient(ctx context.Context, region string) (*sesv2.Client, error) {
	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return sesv2.NewFromConfig(cfg), nil
}

// EmailDeliverer implements domain.Deliverer with SES.
type EmailDeliverer struct {
	client    API
	fromEmail string
	logger    *slog.Logger
}

// NewEmailDeliverer creates an EmailDeliverer sending from fromEmail.
func NewEmailDeliverer(client API, fromEmail string, logger *slog.Logger) (*EmailDeliverer, error) {
	if fromEmail == "" {
		return nil, fmt.Errorf("sender email address is not set")
	}
	return &EmailDeliverer{
		client:    client,
		fromEmail: fromEmail,
		logger:    logger.With("deliverer", "email"),
	}, nil
}

// Deliver sends the request to the business contact and returns the SES
// message ID.
func (d *EmailDeliverer) Deliver(ctx context.Context, req *domain.VolunteerRequest) (string, error) {
	to := req.BusinessContact.Email
	if to == "" {
		return "", fmt.Errorf("cannot email business %s: %w", req.BusinessID, ErrNoRecipient)
	}

	out, err := d.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(d.fromEmail),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(Subject(req))},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(Body(req))},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to send email to %s: %w", to, err)
	}

	messageID := aws.ToString(out.MessageId)
	d.logger.Info("volunteer request emailed", "business_id", req.BusinessID, "task_id", req.TaskInfo.ID, "message_id", messageID)
	return messageID, nil
}

// Subject is the email subject for req.
func Subject(req *domain.VolunteerRequest) string {
	return fmt.Sprintf("[%s] Volunteer needed: %s", strings.ToUpper(string(req.TaskInfo.Urgency)), req.TaskInfo.Title)
}

// Body is the plain text email body for req.
func Body(req *domain.VolunteerRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", req.BusinessContact.Name)
	fmt.Fprintf(&b, "No volunteer has accepted the following task in time. Could you provide someone?\n\n")
	fmt.Fprintf(&b, "Task:          %s\n", req.TaskInfo.Title)
	fmt.Fprintf(&b, "Category:      %s\n", req.TaskInfo.Category)
	fmt.Fprintf(&b, "People needed: %d\n", req.TaskInfo.PeopleNeeded)
	fmt.Fprintf(&b, "Location:      %.5f, %.5f\n", req.TaskInfo.Location.Lat, req.TaskInfo.Location.Lng)
	if req.TaskInfo.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", req.TaskInfo.Description)
	}
	fmt.Fprintf(&b, "\nRequester: %s", req.CustomerInfo.Name)
	if req.CustomerInfo.Phone != "" {
		fmt.Fprintf(&b, " (%s)", req.CustomerInfo.Phone)
	}
	fmt.Fprintf(&b, "\nTask ID: %s\n", req.TaskInfo.ID)
	return b.String()
}
