package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"business-escalation/internal/domain"
	"business-escalation/internal/notifierpb"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type recordingDeliverer struct {
	mu        sync.Mutex
	delivered []*domain.VolunteerRequest
	err       error
	panicMsg  string
}

func (d *recordingDeliverer) Deliver(_ context.Context, req *domain.VolunteerRequest) (string, error) {
	if d.panicMsg != "" {
		panic(d.panicMsg)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, req)
	return "ok", d.err
}

func (d *recordingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.delivered)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func volunteerRequest() *domain.VolunteerRequest {
	return &domain.VolunteerRequest{
		BusinessID:      "b1",
		BusinessContact: domain.ContactInfo{Name: "Pat", Email: "pat@example.com"},
		TaskInfo: domain.TaskInfo{
			ID:           "t1",
			Title:        "Move boxes",
			Category:     "Moving",
			Urgency:      domain.UrgencyUrgent,
			PeopleNeeded: 2,
		},
		CustomerInfo: domain.ContactInfo{Name: "Ada"},
	}
}

func TestServer_SendVolunteerRequest(t *testing.T) {
	t.Parallel()

	deliverer := &recordingDeliverer{}
	s := NewServer(deliverer, "webhook", "node-1", discardLogger())

	msg, err := notifierpb.FromDomain(volunteerRequest())
	if err != nil {
		t.Fatalf("FromDomain failed: %v", err)
	}
	resp, err := s.SendVolunteerRequest(context.Background(), msg)
	if err != nil {
		t.Fatalf("SendVolunteerRequest failed: %v", err)
	}
	if resp.GetValue() == "" {
		t.Error("expected a delivery id")
	}

	s.Wait()
	if got := deliverer.count(); got != 1 {
		t.Fatalf("mismatch:\n  got:  %v\n  want: %v", got, 1)
	}
	got := deliverer.delivered[0]
	if got.TaskInfo.PeopleNeeded != 2 || got.TaskInfo.Urgency != domain.UrgencyUrgent || got.BusinessContact.Email != "pat@example.com" {
		t.Errorf("unexpected delivered request: %+v", got)
	}
}

func TestServer_RejectsMalformedRequest(t *testing.T) {
	t.Parallel()

	deliverer := &recordingDeliverer{}
	s := NewServer(deliverer, "webhook", "node-1", discardLogger())

	msg, err := structpb.NewStruct(map[string]any{"task_info": map[string]any{"id": "t1"}})
	if err != nil {
		t.Fatalf("NewStruct failed: %v", err)
	}
	_, err = s.SendVolunteerRequest(context.Background(), msg)
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("mismatch:\n  got:  %v\n  want: %v", status.Code(err), codes.InvalidArgument)
	}

	s.Wait()
	if got := deliverer.count(); got != 0 {
		t.Errorf("malformed request was delivered %d times", got)
	}
}

func TestServer_Handle(t *testing.T) {
	t.Parallel()

	errDown := errors.New("smtp down")

	tests := map[string]struct {
		deliverer *recordingDeliverer
		wantErr   error
	}{
		"success": {
			deliverer: &recordingDeliverer{},
		},
		"deliverer error is returned": {
			deliverer: &recordingDeliverer{err: errDown},
			wantErr:   errDown,
		},
		"panic is recovered": {
			deliverer: &recordingDeliverer{panicMsg: "boom"},
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := NewServer(tt.deliverer, "command", "node-1", discardLogger())
			err := s.Handle(context.Background(), volunteerRequest())

			switch {
			case tt.deliverer.panicMsg != "":
				if err == nil {
					t.Error("expected an error from a panicking deliverer")
				}
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("mismatch:\n  got:  %v\n  want: %v", err, tt.wantErr)
				}
			default:
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		})
	}
}
