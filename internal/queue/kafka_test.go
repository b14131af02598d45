package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type flakyWriter struct {
	failures int
	calls    int
	written  []kafka.Message
	closed   bool
}

func (w *flakyWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.calls++
	if w.calls <= w.failures {
		return errors.New("leader not available")
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *flakyWriter) Close() error {
	w.closed = true
	return nil
}

func TestProducer_PublishRetries(t *testing.T) {
	w := &flakyWriter{failures: 2}
	p := newProducer(w, ProducerConfig{Topic: "aire.alerts", MaxRetries: 3, RetryBackoff: time.Millisecond})

	if err := p.Publish(context.Background(), "7", []byte(`{}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if w.calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", w.calls)
	}
	if len(w.written) != 1 || string(w.written[0].Key) != "7" {
		t.Errorf("Unexpected messages: %+v", w.written)
	}
}

func TestProducer_PublishGivesUp(t *testing.T) {
	w := &flakyWriter{failures: 10}
	p := newProducer(w, ProducerConfig{Topic: "aire.alerts", MaxRetries: 1, RetryBackoff: time.Millisecond})

	if err := p.Publish(context.Background(), "7", []byte(`{}`)); err == nil {
		t.Fatal("Expected an error")
	}
	if w.calls != 2 {
		t.Errorf("Expected 2 attempts, got %d", w.calls)
	}
}

func TestProducer_Closed(t *testing.T) {
	w := &flakyWriter{}
	p := newProducer(w, ProducerConfig{Topic: "aire.alerts"})

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}
	if !w.closed {
		t.Error("Expected writer to be closed")
	}
	if err := p.Publish(context.Background(), "7", nil); !errors.Is(err, ErrProducerClosed) {
		t.Errorf("Expected ErrProducerClosed, got %v", err)
	}
}

func TestProducer_EmptyBatch(t *testing.T) {
	w := &flakyWriter{}
	p := newProducer(w, ProducerConfig{Topic: "aire.measurements.raw"})

	if err := p.PublishBatch(context.Background(), nil); err != nil {
		t.Fatalf("PublishBatch failed: %v", err)
	}
	if w.calls != 0 {
		t.Errorf("Expected no write, got %d", w.calls)
	}
}

func TestCompression(t *testing.T) {
	for _, name := range []string{"gzip", "snappy", "lz4", "zstd"} {
		if compression(name) == 0 {
			t.Errorf("Expected a codec for %s", name)
		}
	}
	if compression("") != 0 {
		t.Error("Expected no compression by default")
	}
}
