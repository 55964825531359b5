package kafkabus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koios/camera-sim/pkg/models"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

type fakeEnsurer struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (e *fakeEnsurer) EnsureTopic(context.Context) error {
	e.calls.Add(1)
	time.Sleep(e.delay)
	return e.err
}

func newTestPublisher(ensurer *fakeEnsurer, w *fakeWriter) (*Publisher, *atomic.Int32) {
	var built atomic.Int32
	p := NewPublisherWithWriter("device-events", ensurer, func() MessageWriter {
		built.Add(1)
		return w
	}, zap.NewNop())
	return p, &built
}

func testEvent(id string) *models.Event {
	return &models.Event{DeviceID: id, EventType: models.EventTypeCameraCapture, Value: 42.5}
}

func TestPublish_KeyedByDevice(t *testing.T) {
	w := &fakeWriter{}
	p, _ := newTestPublisher(&fakeEnsurer{}, w)

	if err := p.Publish(context.Background(), testEvent("CAM-1")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if p.State() != StateReady {
		t.Errorf("state = %s, want ready", p.State())
	}

	if len(w.messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(w.messages))
	}
	msg := w.messages[0]
	if string(msg.Key) != "CAM-1" {
		t.Errorf("key = %q, want CAM-1", msg.Key)
	}

	var decoded models.Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("value is not JSON: %v", err)
	}
	if decoded.DeviceID != "CAM-1" || decoded.Value != 42.5 {
		t.Errorf("decoded %+v", decoded)
	}

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event-type"] != models.EventTypeCameraCapture {
		t.Errorf("event-type header = %q", headers["event-type"])
	}
	if headers["event-id"] == "" {
		t.Error("missing event-id header")
	}
}

func TestPublish_ConnectsOnce(t *testing.T) {
	ensurer := &fakeEnsurer{delay: 20 * time.Millisecond}
	w := &fakeWriter{}
	p, built := newTestPublisher(ensurer, w)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Publish(context.Background(), testEvent("CAM-1")); err != nil {
				t.Errorf("Publish: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := ensurer.calls.Load(); n != 1 {
		t.Errorf("EnsureTopic called %d times, want 1", n)
	}
	if n := built.Load(); n != 1 {
		t.Errorf("writer built %d times, want 1", n)
	}
	if len(w.messages) != 20 {
		t.Errorf("got %d messages, want 20", len(w.messages))
	}
}

func TestPublish_ConnectFailureRetries(t *testing.T) {
	ensurer := &fakeEnsurer{err: errors.New("broker down")}
	w := &fakeWriter{}
	p, _ := newTestPublisher(ensurer, w)

	err := p.Publish(context.Background(), testEvent("CAM-1"))
	if !errors.Is(err, models.ErrConnection) {
		t.Fatalf("got %v, want ErrConnection", err)
	}
	if p.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", p.State())
	}

	ensurer.err = nil
	if err := p.Publish(context.Background(), testEvent("CAM-1")); err != nil {
		t.Fatalf("second Publish: %v", err)
	}
	if n := ensurer.calls.Load(); n != 2 {
		t.Errorf("EnsureTopic called %d times, want 2", n)
	}
}

func TestPublish_WriteFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p, _ := newTestPublisher(&fakeEnsurer{}, w)

	err := p.Publish(context.Background(), testEvent("CAM-1"))
	if !errors.Is(err, models.ErrPublish) {
		t.Fatalf("got %v, want ErrPublish", err)
	}
	if p.State() != StateReady {
		t.Errorf("a failed write should not drop the connection, state = %s", p.State())
	}
}

func TestClose(t *testing.T) {
	w := &fakeWriter{}
	p, _ := newTestPublisher(&fakeEnsurer{}, w)

	if err := p.Close(); err != nil {
		t.Fatalf("Close before connect: %v", err)
	}
	if w.closed {
		t.Error("writer closed before it was built")
	}

	p, _ = newTestPublisher(&fakeEnsurer{}, w)
	if err := p.Publish(context.Background(), testEvent("CAM-1")); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !w.closed {
		t.Error("writer not closed")
	}
	if err := p.Publish(context.Background(), testEvent("CAM-1")); !errors.Is(err, models.ErrConnection) {
		t.Errorf("publish after close: got %v, want ErrConnection", err)
	}
}
