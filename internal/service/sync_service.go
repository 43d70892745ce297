package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/vbonduro/capturesync/internal/domain"
	"github.com/vbonduro/capturesync/internal/notify"
	"github.com/vbonduro/capturesync/internal/objectstore"
)

// UsersCollection is where capture records are written.
const UsersCollection = "users"

// documentRepository is the subset of store.DocumentStore that SyncService requires.
type documentRepository interface {
	Insert(ctx context.Context, collection string, doc any) (string, error)
	Get(ctx context.Context, collection, id string) (json.RawMessage, error)
}

// ContentFetcher opens the bytes behind a local content handle.
type ContentFetcher interface {
	Fetch(ctx context.Context, uri string) (io.ReadCloser, error)
}

// notifier is the subset of notify.Registrar that SyncService requires.
type notifier interface {
	SubscribeOnce(h notify.Handler) (unsubscribe func())
	Send(ctx context.Context, token string, payload any)
}

// syncRecorder is the subset of *metrics.Metrics that SyncService requires.
type syncRecorder interface {
	ObserveSync(outcome string, d time.Duration)
	AddUploadBytes(n int64)
	ObserveNotification(outcome string)
}

type Options struct {
	Identity domain.Identity
	// Namespace scopes the fixed upload key, e.g. "test-app".
	Namespace string
	// ForegroundWindow bounds how long a sync waits for the pushed
	// notification to arrive back in the foreground. Zero does not wait.
	ForegroundWindow time.Duration
}

type SyncService struct {
	docs     documentRepository
	objects  objectstore.ObjectStore
	fetcher  ContentFetcher
	notifier notifier
	recorder syncRecorder
	tracer   trace.Tracer
	opts     Options
	logger   *slog.Logger
}

func NewSyncService(
	docs documentRepository,
	objects objectstore.ObjectStore,
	fetcher ContentFetcher,
	notifier notifier,
	recorder syncRecorder,
	opts Options,
	logger *slog.Logger,
) *SyncService {
	return &SyncService{
		docs:     docs,
		objects:  objects,
		fetcher:  fetcher,
		notifier: notifier,
		recorder: recorder,
		tracer:   otel.Tracer("capturesync/service"),
		opts:     opts,
		logger:   logger,
	}
}

// UploadKey is the fixed destination for an image with extension ext.
// Every upload with the same extension replaces the previous object.
func UploadKey(namespace, ext string) string {
	return fmt.Sprintf("%s/newImage.%s", namespace, ext)
}

// SyncRecord builds a record from state, uploads the image if one is held,
// writes the record, reads it back and notifies token when it is set.
// Only upload and write failures are returned; notification problems are
// logged.
func (s *SyncService) SyncRecord(ctx context.Context, state domain.CaptureState, token string) (id string, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "SyncRecord", trace.WithAttributes(
		attribute.Bool("capture.image", state.Image != nil),
		attribute.Bool("capture.coordinates", state.Coordinates != nil),
	))
	defer func() {
		s.observeSync(err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s.logger.Info("sync started", "has_image", state.Image != nil, "has_coordinates", state.Coordinates != nil)

	record, err := s.buildRecord(ctx, state)
	if err != nil {
		return "", err
	}

	id, err = s.docs.Insert(ctx, UsersCollection, record)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrWriteFailed, err)
	}
	span.SetAttributes(attribute.String("document.id", id))
	s.logger.Info("document written", "collection", UsersCollection, "id", id)

	persisted := s.readBack(ctx, id)
	s.maybeNotify(ctx, token, persisted)

	s.logger.Info("sync complete", "id", id, "elapsed", time.Since(start))
	return id, nil
}

// buildRecord assembles the record from identity plus whatever was captured.
// The image upload and the coordinates run as independent steps; each writes
// only its own fields.
func (s *SyncService) buildRecord(ctx context.Context, state domain.CaptureState) (*domain.CaptureRecord, error) {
	record := domain.NewCaptureRecord(s.opts.Identity)

	var (
		locator string
		coords  *domain.GeoCoordinates
	)
	g, gctx := errgroup.WithContext(ctx)
	if state.Image != nil {
		img := *state.Image
		g.Go(func() error {
			url, err := s.uploadImage(gctx, img)
			if err != nil {
				return fmt.Errorf("%w: %w", domain.ErrUploadFailed, err)
			}
			locator = url
			return nil
		})
	}
	if state.Coordinates != nil {
		c := *state.Coordinates
		g.Go(func() error {
			coords = &c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("image upload failed", "error", err)
		return nil, err
	}

	if state.Image != nil {
		record.AttachImage(locator)
	}
	if coords != nil {
		record.AttachCoordinates(*coords)
	}
	return record, nil
}

func (s *SyncService) uploadImage(ctx context.Context, img domain.CapturedImage) (string, error) {
	ctx, span := s.tracer.Start(ctx, "UploadImage")
	defer span.End()

	ext := domain.ImageExt(img.URI)
	contentType := img.ContentType
	if contentType == "" {
		contentType = domain.ContentTypeForExt(ext)
	}
	key := UploadKey(s.opts.Namespace, ext)
	span.SetAttributes(attribute.String("object.key", key), attribute.String("object.content_type", contentType))

	s.logger.Info("upload started", "uri", img.URI, "key", key, "content_type", contentType)
	rc, err := s.fetcher.Fetch(ctx, img.URI)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	defer func() {
		if err := rc.Close(); err != nil {
			s.logger.Error("failed to close image content", "error", err)
		}
	}()

	ref, err := s.objects.Put(ctx, key, rc, contentType)
	if err != nil {
		return "", fmt.Errorf("failed to store image: %w", err)
	}
	if s.recorder != nil {
		s.recorder.AddUploadBytes(ref.Size)
	}
	s.logger.Debug("image stored", "key", ref.Key, "bytes", ref.Size)

	url, err := s.objects.DownloadURL(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("failed to get download url: %w", err)
	}
	s.logger.Info("image uploaded", "url", url)
	return url, nil
}

// readBack fetches the document just written. A failed or empty read is
// logged and reported as absent.
func (s *SyncService) readBack(ctx context.Context, id string) *domain.CaptureRecord {
	body, err := s.docs.Get(ctx, UsersCollection, id)
	if err != nil {
		s.logger.Error("failed to read back document", "id", id, "error", err)
		return nil
	}
	if body == nil {
		s.logger.Warn("document missing on read back", "id", id)
		return nil
	}

	var persisted domain.CaptureRecord
	if err := json.Unmarshal(body, &persisted); err != nil {
		s.logger.Error("failed to decode read back document", "id", id, "error", err)
		return nil
	}
	return &persisted
}

func (s *SyncService) maybeNotify(ctx context.Context, token string, persisted *domain.CaptureRecord) {
	if token == "" || persisted == nil {
		s.logger.Info("notification skipped", "has_token", token != "", "confirmed", persisted != nil)
		if s.recorder != nil {
			s.recorder.ObserveNotification("skipped")
		}
		return
	}

	received := make(chan notify.Event, 1)
	unsubscribe := s.notifier.SubscribeOnce(func(ev notify.Event) {
		s.logger.Info("foreground notification received", "title", ev.Title)
		received <- ev
	})
	defer unsubscribe()

	s.notifier.Send(ctx, token, persisted)

	if s.opts.ForegroundWindow <= 0 {
		return
	}
	timer := time.NewTimer(s.opts.ForegroundWindow)
	defer timer.Stop()
	select {
	case <-received:
	case <-timer.C:
		s.logger.Debug("no foreground notification within window", "window", s.opts.ForegroundWindow)
	case <-ctx.Done():
	}
}

func (s *SyncService) observeSync(err error, d time.Duration) {
	if s.recorder == nil {
		return
	}
	outcome := "ok"
	switch {
	case errors.Is(err, domain.ErrUploadFailed):
		outcome = "upload_failed"
	case errors.Is(err, domain.ErrWriteFailed):
		outcome = "write_failed"
	case err != nil:
		outcome = "error"
	}
	s.recorder.ObserveSync(outcome, d)
}
