package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vbonduro/capturesync/internal/domain"
)

// TokenSource obtains the device push token from the platform. It may fail
// on simulators or when the user refuses notifications.
type TokenSource interface {
	DeviceToken(ctx context.Context) (string, error)
}

// Message is what gets pushed to a device.
type Message struct {
	Title string
	Body  string
	Data  any
}

// Sender delivers a message to a push token through an external service.
type Sender interface {
	Send(ctx context.Context, token string, msg Message) error
}

// Event is a notification received while the app is in the foreground.
type Event struct {
	Title string
	Body  string
	Data  map[string]any
}

type Handler func(Event)

// Recorder receives notification outcomes; *metrics.Metrics satisfies it.
type Recorder interface {
	ObserveNotification(outcome string)
}

// Registrar owns the process-wide device registration and the foreground
// listener set.
type Registrar struct {
	source   TokenSource
	sender   Sender
	title    string
	recorder Recorder
	logger   *slog.Logger

	once sync.Once
	done chan struct{}
	reg  *domain.DeviceRegistration

	mu        sync.Mutex
	nextID    int
	listeners map[int]Handler
}

func NewRegistrar(source TokenSource, sender Sender, title string, recorder Recorder, logger *slog.Logger) *Registrar {
	return &Registrar{
		source:    source,
		sender:    sender,
		title:     title,
		recorder:  recorder,
		logger:    logger,
		done:      make(chan struct{}),
		listeners: make(map[int]Handler),
	}
}

// Start runs Register in the background so startup is never blocked on it.
func (r *Registrar) Start(ctx context.Context) {
	go r.Register(ctx)
}

// Register acquires the device token once per process. Later calls return
// the cached outcome. A missing token is not an error.
func (r *Registrar) Register(ctx context.Context) (string, bool) {
	r.once.Do(func() {
		defer close(r.done)

		token, err := r.source.DeviceToken(ctx)
		if err != nil {
			r.logger.Warn("push registration failed", "error", err)
			return
		}
		if token == "" {
			r.logger.Info("no notification token found")
			return
		}
		r.mu.Lock()
		r.reg = &domain.DeviceRegistration{Token: token}
		r.mu.Unlock()
		r.logger.Info("notification token acquired", "token", token)
	})
	return r.Token()
}

// Ready is closed once registration has finished, with or without a token.
func (r *Registrar) Ready() <-chan struct{} {
	return r.done
}

// Token returns the cached token, if registration produced one.
func (r *Registrar) Token() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reg == nil {
		return "", false
	}
	return r.reg.Token, true
}

// Subscribe adds a foreground listener. The returned func removes it and is
// safe to call more than once. Every subscription must be released.
func (r *Registrar) Subscribe(h Handler) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = h
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.listeners, id)
			r.mu.Unlock()
		})
	}
}

// SubscribeOnce adds a listener that releases itself after the first event.
// Callers still defer the returned func so release happens when no event
// ever arrives.
func (r *Registrar) SubscribeOnce(h Handler) (unsubscribe func()) {
	var (
		mu    sync.Mutex
		fired bool
		unsub func()
	)
	// mu is held until unsub is assigned so an early event cannot see it nil.
	mu.Lock()
	defer mu.Unlock()
	unsub = r.Subscribe(func(ev Event) {
		mu.Lock()
		if fired {
			mu.Unlock()
			return
		}
		fired = true
		mu.Unlock()

		unsub()
		h(ev)
	})
	return unsub
}

// Deliver fans a foreground event out to the current listeners.
func (r *Registrar) Deliver(ev Event) {
	r.mu.Lock()
	handlers := make([]Handler, 0, len(r.listeners))
	for _, h := range r.listeners {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (r *Registrar) ListenerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

// Send pushes payload to token. Failures are logged and swallowed; there is
// no retry.
func (r *Registrar) Send(ctx context.Context, token string, payload any) {
	msg := Message{Title: r.title, Body: summarize(payload), Data: payload}
	if err := r.sender.Send(ctx, token, msg); err != nil {
		r.logger.Error("failed to send notification", "error", fmt.Errorf("%w: %w", domain.ErrNotificationSendFailed, err))
		r.observe("failed")
		return
	}
	r.logger.Info("notification sent", "token", token)
	r.observe("sent")
}

func (r *Registrar) observe(outcome string) {
	if r.recorder != nil {
		r.recorder.ObserveNotification(outcome)
	}
}

func summarize(payload any) string {
	if rec, ok := payload.(*domain.CaptureRecord); ok {
		return fmt.Sprintf("%s %s (%d) saved", rec.First, rec.Last, rec.Born)
	}
	return "record saved"
}
