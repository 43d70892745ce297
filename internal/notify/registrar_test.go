package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/capturesync/internal/domain"
)

type stubTokenSource struct {
	mu    sync.Mutex
	token string
	err   error
	calls int
}

func (s *stubTokenSource) DeviceToken(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.token, s.err
}

type sentMessage struct {
	token string
	msg   Message
}

type stubSender struct {
	sent []sentMessage
	err  error
}

func (s *stubSender) Send(_ context.Context, token string, msg Message) error {
	s.sent = append(s.sent, sentMessage{token, msg})
	return s.err
}

type stubRecorder struct{ outcomes []string }

func (r *stubRecorder) ObserveNotification(outcome string) {
	r.outcomes = append(r.outcomes, outcome)
}

func TestRegistrarRegisterOnce(t *testing.T) {
	src := &stubTokenSource{token: "tok123"}
	r := NewRegistrar(src, &stubSender{}, "Saved", nil, slog.Default())
	ctx := context.Background()

	token, ok := r.Register(ctx)
	require.True(t, ok)
	assert.Equal(t, "tok123", token)

	src.token = "other"
	token, ok = r.Register(ctx)
	require.True(t, ok)
	assert.Equal(t, "tok123", token)
	assert.Equal(t, 1, src.calls)
}

func TestRegistrarRegisterNoToken(t *testing.T) {
	tests := []struct {
		name string
		src  *stubTokenSource
	}{
		{name: "source error", src: &stubTokenSource{err: errors.New("must use physical device")}},
		{name: "empty token", src: &stubTokenSource{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistrar(tt.src, &stubSender{}, "Saved", nil, slog.Default())

			token, ok := r.Register(context.Background())
			assert.False(t, ok)
			assert.Empty(t, token)
		})
	}
}

func TestRegistrarStartIsAsync(t *testing.T) {
	src := &stubTokenSource{token: "tok123"}
	r := NewRegistrar(src, &stubSender{}, "Saved", nil, slog.Default())

	r.Start(context.Background())

	select {
	case <-r.Ready():
	case <-time.After(time.Second):
		t.Fatal("registration did not finish")
	}
	token, ok := r.Token()
	assert.True(t, ok)
	assert.Equal(t, "tok123", token)
}

func TestRegistrarSubscribeAndRelease(t *testing.T) {
	r := NewRegistrar(&stubTokenSource{}, &stubSender{}, "Saved", nil, slog.Default())

	var got []Event
	unsub := r.Subscribe(func(ev Event) { got = append(got, ev) })
	assert.Equal(t, 1, r.ListenerCount())

	r.Deliver(Event{Title: "one"})
	r.Deliver(Event{Title: "two"})
	assert.Len(t, got, 2)

	unsub()
	unsub()
	assert.Zero(t, r.ListenerCount())

	r.Deliver(Event{Title: "three"})
	assert.Len(t, got, 2)
}

func TestRegistrarSubscribeOnceReleasesAfterFirstEvent(t *testing.T) {
	r := NewRegistrar(&stubTokenSource{}, &stubSender{}, "Saved", nil, slog.Default())

	calls := 0
	unsub := r.SubscribeOnce(func(Event) { calls++ })
	defer unsub()

	r.Deliver(Event{Title: "first"})
	r.Deliver(Event{Title: "second"})

	assert.Equal(t, 1, calls)
	assert.Zero(t, r.ListenerCount())
}

func TestRegistrarSubscribeOnceReleasedWithoutEvent(t *testing.T) {
	r := NewRegistrar(&stubTokenSource{}, &stubSender{}, "Saved", nil, slog.Default())

	func() {
		unsub := r.SubscribeOnce(func(Event) {})
		defer unsub()
		assert.Equal(t, 1, r.ListenerCount())
	}()

	assert.Zero(t, r.ListenerCount())
}

func TestRegistrarSend(t *testing.T) {
	sender := &stubSender{}
	rec := &stubRecorder{}
	r := NewRegistrar(&stubTokenSource{}, sender, "Record saved", rec, slog.Default())
	payload := domain.NewCaptureRecord(domain.Identity{First: "A", Last: "B", Born: 1990})

	r.Send(context.Background(), "tok123", payload)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "tok123", sender.sent[0].token)
	assert.Equal(t, "Record saved", sender.sent[0].msg.Title)
	assert.Equal(t, "A B (1990) saved", sender.sent[0].msg.Body)
	assert.Same(t, payload, sender.sent[0].msg.Data)
	assert.Equal(t, []string{"sent"}, rec.outcomes)
}

func TestRegistrarSendFailureIsSwallowed(t *testing.T) {
	sender := &stubSender{err: errors.New("push service unavailable")}
	rec := &stubRecorder{}
	r := NewRegistrar(&stubTokenSource{}, sender, "Saved", rec, slog.Default())

	assert.NotPanics(t, func() {
		r.Send(context.Background(), "tok123", map[string]any{"first": "A"})
	})
	assert.Len(t, sender.sent, 1)
	assert.Equal(t, []string{"failed"}, rec.outcomes)
}
