// Package app holds the application state that UI events mutate and the
// sync trigger reads.
package app

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/vbonduro/capturesync/internal/capture"
	"github.com/vbonduro/capturesync/internal/domain"
)

type photoCapturer interface {
	Capture(ctx context.Context, source capture.Source) (*domain.CapturedImage, error)
}

type locationCapturer interface {
	Capture(ctx context.Context) (*domain.GeoCoordinates, error)
}

type registrar interface {
	Start(ctx context.Context)
	Token() (string, bool)
}

type syncer interface {
	SyncRecord(ctx context.Context, state domain.CaptureState, token string) (string, error)
}

// Controller owns the in-memory capture state. Capture handlers are the only
// writers; Save reads a snapshot.
type Controller struct {
	photos    photoCapturer
	location  locationCapturer
	registrar registrar
	sync      syncer
	logger    *slog.Logger

	mu    sync.Mutex
	state domain.CaptureState

	inflight singleflight.Group
}

func NewController(photos photoCapturer, location locationCapturer, reg registrar, s syncer, logger *slog.Logger) *Controller {
	return &Controller{
		photos:    photos,
		location:  location,
		registrar: reg,
		sync:      s,
		logger:    logger,
	}
}

// Start kicks off push registration without waiting for it.
func (c *Controller) Start(ctx context.Context) {
	c.registrar.Start(ctx)
}

// TakePhoto captures from the camera. On any failure the held image is left
// as it was.
func (c *Controller) TakePhoto(ctx context.Context) error {
	return c.capturePhoto(ctx, capture.SourceCamera)
}

// PickPhoto captures from the photo library.
func (c *Controller) PickPhoto(ctx context.Context) error {
	return c.capturePhoto(ctx, capture.SourceGallery)
}

func (c *Controller) capturePhoto(ctx context.Context, source capture.Source) error {
	img, err := c.photos.Capture(ctx, source)
	if err != nil {
		c.logger.Info("photo capture ended without image", "source", source, "error", err)
		return err
	}
	c.mu.Lock()
	c.state.Image = img
	c.mu.Unlock()
	return nil
}

func (c *Controller) ClearPhoto() {
	c.mu.Lock()
	c.state.Image = nil
	c.mu.Unlock()
}

// CaptureLocation replaces the held coordinates with a fresh fix.
func (c *Controller) CaptureLocation(ctx context.Context) error {
	coords, err := c.location.Capture(ctx)
	if err != nil {
		c.logger.Info("location capture ended without fix", "error", err)
		return err
	}
	c.mu.Lock()
	c.state.Coordinates = coords
	c.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current capture state.
func (c *Controller) Snapshot() domain.CaptureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	var snap domain.CaptureState
	if c.state.Image != nil {
		img := *c.state.Image
		snap.Image = &img
	}
	if c.state.Coordinates != nil {
		coords := *c.state.Coordinates
		snap.Coordinates = &coords
	}
	return snap
}

// Save syncs the current state. Calls made while a sync is in flight join
// it and receive its result instead of starting another.
func (c *Controller) Save(ctx context.Context) (string, error) {
	v, err, shared := c.inflight.Do("sync", func() (any, error) {
		token, _ := c.registrar.Token()
		return c.sync.SyncRecord(ctx, c.Snapshot(), token)
	})
	if shared {
		c.logger.Debug("joined in-flight sync")
	}
	if err != nil {
		c.logger.Error("error adding document", "error", err)
		return "", err
	}
	id := v.(string)
	c.logger.Info("document written", "id", id)
	return id, nil
}
