package capture

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vbonduro/capturesync/internal/domain"
)

type Source string

const (
	SourceCamera  Source = "camera"
	SourceGallery Source = "gallery"
)

type PhotoOptions struct {
	MediaType     string
	MaxWidth      int
	MaxHeight     int
	IncludeBase64 bool
}

// DefaultPhotoOptions are the picker constraints used for every capture.
var DefaultPhotoOptions = PhotoOptions{
	MediaType: "photo",
	MaxWidth:  2000,
	MaxHeight: 2000,
}

type Asset struct {
	URI string
}

// PickerResponse is the raw result of a camera or library launch.
type PickerResponse struct {
	DidCancel    bool
	ErrorCode    string
	ErrorMessage string
	Assets       []Asset
}

// Picker is the platform camera and photo library UI.
type Picker interface {
	LaunchCamera(ctx context.Context, opts PhotoOptions) PickerResponse
	LaunchLibrary(ctx context.Context, opts PhotoOptions) PickerResponse
}

// PermissionGate is the subset of permission.Gate that captures require.
type PermissionGate interface {
	Ensure(ctx context.Context, c domain.Capability) error
}

// Recorder receives capture outcomes; *metrics.Metrics satisfies it.
type Recorder interface {
	ObserveCapture(kind, outcome string)
}

type PhotoCapture struct {
	picker   Picker
	gate     PermissionGate
	opts     PhotoOptions
	recorder Recorder
	logger   *slog.Logger
}

func NewPhotoCapture(picker Picker, gate PermissionGate, recorder Recorder, logger *slog.Logger) *PhotoCapture {
	return &PhotoCapture{
		picker:   picker,
		gate:     gate,
		opts:     DefaultPhotoOptions,
		recorder: recorder,
		logger:   logger,
	}
}

// Capture launches the camera or library and returns the picked image.
// It returns domain.ErrCaptureCancelled, a *domain.CaptureError, or an error
// wrapping domain.ErrPermissionDenied when the camera is not granted.
func (p *PhotoCapture) Capture(ctx context.Context, source Source) (*domain.CapturedImage, error) {
	img, err := p.capture(ctx, source)
	p.observe(err)
	return img, err
}

func (p *PhotoCapture) capture(ctx context.Context, source Source) (*domain.CapturedImage, error) {
	var resp PickerResponse
	switch source {
	case SourceCamera:
		if err := p.gate.Ensure(ctx, domain.CapabilityCamera); err != nil {
			p.logger.Info("camera permission not granted", "error", err)
			return nil, err
		}
		resp = p.picker.LaunchCamera(ctx, p.opts)
	case SourceGallery:
		resp = p.picker.LaunchLibrary(ctx, p.opts)
	default:
		return nil, fmt.Errorf("unknown photo source %q", source)
	}

	switch {
	case resp.DidCancel:
		p.logger.Info("user cancelled image picker", "source", source)
		return nil, domain.ErrCaptureCancelled
	case resp.ErrorCode != "":
		p.logger.Warn("image picker error", "source", source, "code", resp.ErrorCode, "message", resp.ErrorMessage)
		return nil, &domain.CaptureError{Code: resp.ErrorCode, Message: resp.ErrorMessage}
	case len(resp.Assets) == 0:
		p.logger.Warn("no assets found in the response", "source", source)
		return nil, &domain.CaptureError{Code: "no_assets", Message: "picker returned no assets"}
	case resp.Assets[0].URI == "":
		p.logger.Warn("no uri found in the response", "source", source)
		return nil, &domain.CaptureError{Code: "no_uri", Message: "picked asset has no uri"}
	}

	img := domain.NewCapturedImage(resp.Assets[0].URI)
	p.logger.Info("image captured", "source", source, "uri", img.URI, "content_type", img.ContentType)
	return img, nil
}

func (p *PhotoCapture) observe(err error) {
	if p.recorder != nil {
		p.recorder.ObserveCapture("photo", outcome(err))
	}
}
