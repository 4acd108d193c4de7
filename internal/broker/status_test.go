package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	closed    bool
	publishes []published
	err       error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.publishes = append(f.publishes, published{exchange: exchange, key: key, msg: msg})
	return f.err
}

func (f *fakeChannel) IsClosed() bool { return f.closed }

func decodeEvent(t *testing.T, body []byte) Event {
	t.Helper()
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return ev
}

func TestPublish(t *testing.T) {
	ch := &fakeChannel{}
	p := &StatusPublisher{ch: ch, timeout: time.Second}

	p.Publish(context.Background(), "podcast.42.status", "CLUSTERING", "grouping chunks",
		map[string]any{"clusters": 3})

	if len(ch.publishes) != 1 {
		t.Fatalf("publishes = %d, want 1", len(ch.publishes))
	}
	pub := ch.publishes[0]
	if pub.exchange != EventsExchange {
		t.Errorf("exchange = %q, want %q", pub.exchange, EventsExchange)
	}
	if pub.key != "podcast.42.status" {
		t.Errorf("routing key = %q", pub.key)
	}
	if pub.msg.ContentType != "application/json" {
		t.Errorf("content type = %q", pub.msg.ContentType)
	}

	ev := decodeEvent(t, pub.msg.Body)
	if ev.EventName != "jobStatusUpdate" {
		t.Errorf("event name = %q", ev.EventName)
	}
	if ev.Payload["stage"] != "CLUSTERING" || ev.Payload["message"] != "grouping chunks" {
		t.Errorf("payload = %v", ev.Payload)
	}
	if ev.Payload["clusters"] != float64(3) {
		t.Errorf("extra field missing from payload: %v", ev.Payload)
	}
}

func TestError_SetsErrorFlag(t *testing.T) {
	ch := &fakeChannel{}
	p := &StatusPublisher{ch: ch, timeout: time.Second}

	p.Error(context.Background(), "summary.7.status", "error", "synthesis failed")

	if len(ch.publishes) != 1 {
		t.Fatalf("publishes = %d, want 1", len(ch.publishes))
	}
	ev := decodeEvent(t, ch.publishes[0].msg.Body)
	if ev.Payload["error"] != true {
		t.Errorf("payload = %v, want error flag", ev.Payload)
	}
	if ev.Payload["message"] != "synthesis failed" {
		t.Errorf("message = %v", ev.Payload["message"])
	}
}

func TestPublish_DropsOnClosedChannel(t *testing.T) {
	ch := &fakeChannel{closed: true}
	p := &StatusPublisher{ch: ch, timeout: time.Second}

	p.Publish(context.Background(), "job.1.status", "STARTED", "", nil)

	if len(ch.publishes) != 0 {
		t.Errorf("publishes = %d, want dropped", len(ch.publishes))
	}
}

func TestPublish_SwallowsPublishError(t *testing.T) {
	ch := &fakeChannel{err: errors.New("broker gone")}
	p := &StatusPublisher{ch: ch, timeout: time.Second}

	// Must not panic or surface the error; publishes are best-effort.
	p.Publish(context.Background(), "job.1.status", "CHUNKED", "", nil)
}

func TestRoutingKeys(t *testing.T) {
	if got := JobKey("abc"); got != "job.abc.status" {
		t.Errorf("JobKey = %q", got)
	}
	if got := EntityKey("podcast", "42"); got != "podcast.42.status" {
		t.Errorf("EntityKey = %q", got)
	}
}
