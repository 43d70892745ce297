package permission

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vbonduro/capturesync/internal/domain"
)

// OS is the platform permission subsystem. Request may block on a native dialog.
type OS interface {
	Check(ctx context.Context, c domain.Capability) (bool, error)
	Request(ctx context.Context, c domain.Capability) (domain.PermissionState, error)
}

// Recorder receives permission outcomes; *metrics.Metrics satisfies it.
type Recorder interface {
	ObservePermission(capability, state string)
}

type Options struct {
	// LegacyLocation is set on platforms with no runtime location permission.
	LegacyLocation bool
	Recorder       Recorder
}

// Gate checks and requests OS capability grants. It remembers permanent
// denials so the OS dialog is never shown again for that capability.
type Gate struct {
	os     OS
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	states map[domain.Capability]domain.PermissionState
}

func NewGate(os OS, opts Options, logger *slog.Logger) *Gate {
	return &Gate{
		os:     os,
		opts:   opts,
		logger: logger,
		states: make(map[domain.Capability]domain.PermissionState),
	}
}

// Has reports whether c is currently granted.
func (g *Gate) Has(ctx context.Context, c domain.Capability) (bool, error) {
	if c == domain.CapabilityLocation && g.opts.LegacyLocation {
		g.setState(c, domain.PermissionGranted)
		return true, nil
	}

	ok, err := g.os.Check(ctx, c)
	if err != nil {
		return false, fmt.Errorf("failed to check %s permission: %w", c, err)
	}
	if ok {
		g.setState(c, domain.PermissionGranted)
	}
	return ok, nil
}

// Request prompts for c once. After a permanent denial it returns
// PermissionPermanentlyDenied without prompting.
func (g *Gate) Request(ctx context.Context, c domain.Capability) (domain.PermissionState, error) {
	if g.State(c) == domain.PermissionPermanentlyDenied {
		g.logger.Debug("permission request skipped", "capability", c, "state", domain.PermissionPermanentlyDenied)
		return domain.PermissionPermanentlyDenied, nil
	}

	state, err := g.os.Request(ctx, c)
	if err != nil {
		return domain.PermissionUnknown, fmt.Errorf("failed to request %s permission: %w", c, err)
	}
	g.setState(c, state)
	g.record(c, state)

	switch state {
	case domain.PermissionGranted:
		g.logger.Info("permission granted", "capability", c)
	case domain.PermissionDenied:
		g.logger.Info("permission denied by user", "capability", c)
	case domain.PermissionPermanentlyDenied:
		g.logger.Info("permission revoked by user", "capability", c)
	}
	return state, nil
}

// Ensure checks c and prompts if needed. It returns an error wrapping
// domain.ErrPermissionDenied unless c ends up granted.
func (g *Gate) Ensure(ctx context.Context, c domain.Capability) error {
	ok, err := g.Has(ctx, c)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	state, err := g.Request(ctx, c)
	if err != nil {
		return err
	}
	if state != domain.PermissionGranted {
		return fmt.Errorf("%w: %s is %s", domain.ErrPermissionDenied, c, state)
	}
	return nil
}

// State returns the last observed state for c.
func (g *Gate) State(c domain.Capability) domain.PermissionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.states[c]
}

func (g *Gate) setState(c domain.Capability, s domain.PermissionState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.states[c] = s
}

func (g *Gate) record(c domain.Capability, s domain.PermissionState) {
	if g.opts.Recorder != nil {
		g.opts.Recorder.ObservePermission(string(c), s.String())
	}
}
