package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"business-escalation/internal/domain"

	kgo "github.com/segmentio/kafka-go"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func volunteerRequest(taskID string) *domain.VolunteerRequest {
	return &domain.VolunteerRequest{
		BusinessID:      "b1",
		BusinessContact: domain.ContactInfo{Name: "Pat", Email: "pat@example.com"},
		TaskInfo:        domain.TaskInfo{ID: taskID, Title: "Move boxes", Category: "Moving"},
	}
}

type fakeWriter struct {
	msgs []kgo.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kgo.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// fakeReader serves queued messages and then blocks until the context is done.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kgo.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kgo.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kgo.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kgo.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestProducer_SendBusinessVolunteerRequest(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	p := newProducer(w, discardLogger())

	sent, err := p.SendBusinessVolunteerRequest(context.Background(), volunteerRequest("t1"))
	if err != nil || !sent {
		t.Fatalf("expected publish to succeed, got sent=%v err=%v", sent, err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("mismatch:\n  got:  %v\n  want: %v", len(w.msgs), 1)
	}
	if got := string(w.msgs[0].Key); got != "t1" {
		t.Errorf("mismatch:\n  got:  %v\n  want: %v", got, "t1")
	}
	var got domain.VolunteerRequest
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("value is not JSON: %v", err)
	}
	if got.BusinessID != "b1" || got.TaskInfo.ID != "t1" {
		t.Errorf("unexpected value: %+v", got)
	}

	errDown := errors.New("broker down")
	p = newProducer(&fakeWriter{err: errDown}, discardLogger())
	if sent, err := p.SendBusinessVolunteerRequest(context.Background(), volunteerRequest("t1")); sent || !errors.Is(err, errDown) {
		t.Errorf("expected broker error, got sent=%v err=%v", sent, err)
	}
}

func TestConsumer_Run(t *testing.T) {
	t.Parallel()

	encode := func(v any) []byte {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		return b
	}

	reader := &fakeReader{queue: []kgo.Message{
		{Offset: 1, Value: encode(volunteerRequest("t1"))},
		{Offset: 2, Value: []byte("not json")},
		{Offset: 3, Value: encode(volunteerRequest("t-fails"))},
		{Offset: 4, Value: encode(map[string]string{"business_id": "b1"})},
		{Offset: 5, Value: encode(volunteerRequest("t2"))},
	}}
	c := newConsumer(reader, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	var handled []string
	handle := func(_ context.Context, req *domain.VolunteerRequest) error {
		handled = append(handled, req.TaskInfo.ID)
		if req.TaskInfo.ID == "t-fails" {
			return errors.New("webhook down")
		}
		if req.TaskInfo.ID == "t2" {
			cancel()
		}
		return nil
	}

	if err := c.Run(ctx, handle); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if want := []string{"t1", "t-fails", "t2"}; !slices.Equal(handled, want) {
		t.Errorf("mismatch:\n  got:  %v\n  want: %v", handled, want)
	}
	reader.mu.Lock()
	defer reader.mu.Unlock()
	if want := []int64{1, 2, 3, 4, 5}; !slices.Equal(reader.committed, want) {
		t.Errorf("mismatch:\n  got:  %v\n  want: %v", reader.committed, want)
	}
}

func TestSplitBrokers(t *testing.T) {
	t.Parallel()

	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092,")
	if want := []string{"kafka-1:9092", "kafka-2:9092"}; !slices.Equal(got, want) {
		t.Errorf("mismatch:\n  got:  %v\n  want: %v", got, want)
	}
}
