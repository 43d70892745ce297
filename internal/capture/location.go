package capture

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vbonduro/capturesync/internal/domain"
)

type LocatorConfig struct {
	SkipPermissionRequests bool
}

type PositionOptions struct {
	Timeout            time.Duration
	MaximumAge         time.Duration
	DistanceFilter     float64
	EnableHighAccuracy bool
}

// DefaultPositionOptions is the single-fix policy: reduced accuracy, cached
// fixes up to 10s old, give up after 15s.
var DefaultPositionOptions = PositionOptions{
	Timeout:            15 * time.Second,
	MaximumAge:         10 * time.Second,
	DistanceFilter:     0,
	EnableHighAccuracy: false,
}

// Locator is the platform geolocation provider. CurrentPosition should
// report provider failures as *domain.CaptureError.
type Locator interface {
	Configure(cfg LocatorConfig)
	CurrentPosition(ctx context.Context, opts PositionOptions) (domain.GeoCoordinates, error)
}

type LocationCapture struct {
	locator  Locator
	gate     PermissionGate
	opts     PositionOptions
	recorder Recorder
	logger   *slog.Logger
}

func NewLocationCapture(locator Locator, gate PermissionGate, recorder Recorder, logger *slog.Logger) *LocationCapture {
	return &LocationCapture{
		locator:  locator,
		gate:     gate,
		opts:     DefaultPositionOptions,
		recorder: recorder,
		logger:   logger,
	}
}

// Capture requests one position fix. There is no retry on timeout; the
// caller decides whether to trigger again.
func (l *LocationCapture) Capture(ctx context.Context) (*domain.GeoCoordinates, error) {
	coords, err := l.capture(ctx)
	if l.recorder != nil {
		l.recorder.ObserveCapture("location", outcome(err))
	}
	return coords, err
}

func (l *LocationCapture) capture(ctx context.Context) (*domain.GeoCoordinates, error) {
	if err := l.gate.Ensure(ctx, domain.CapabilityLocation); err != nil {
		l.logger.Info("location permission not granted", "error", err)
		return nil, err
	}

	// The gate has already prompted; the provider must not prompt again.
	l.locator.Configure(LocatorConfig{SkipPermissionRequests: true})

	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	coords, err := l.locator.CurrentPosition(ctx, l.opts)
	if err != nil {
		var ce *domain.CaptureError
		if !errors.As(err, &ce) {
			ce = &domain.CaptureError{Code: "position_unavailable", Message: err.Error()}
			if errors.Is(err, context.DeadlineExceeded) {
				ce.Code = "timeout"
			}
		}
		l.logger.Error("location fix failed", "code", ce.Code, "message", ce.Message)
		return nil, ce
	}

	l.logger.Info("location captured", "latitude", coords.Latitude, "longitude", coords.Longitude)
	return &coords, nil
}

func outcome(err error) string {
	var ce *domain.CaptureError
	switch {
	case err == nil:
		return "captured"
	case errors.Is(err, domain.ErrCaptureCancelled):
		return "cancelled"
	case errors.Is(err, domain.ErrPermissionDenied):
		return "permission_denied"
	case errors.As(err, &ce):
		return "failed"
	default:
		return "error"
	}
}
