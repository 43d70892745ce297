// Package device provides headless stand-ins for the platform subsystems so
// the capture and sync flow can run from a terminal.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vbonduro/capturesync/internal/capture"
	"github.com/vbonduro/capturesync/internal/domain"
)

// Permissions answers permission checks from a fixed grant list. Requests for
// capabilities outside the list are denied, or permanently denied when
// listed in permanent.
type Permissions struct {
	mu        sync.Mutex
	granted   map[domain.Capability]bool
	permanent map[domain.Capability]bool
}

func NewPermissions(granted, permanent []domain.Capability) *Permissions {
	p := &Permissions{
		granted:   make(map[domain.Capability]bool),
		permanent: make(map[domain.Capability]bool),
	}
	for _, c := range granted {
		p.granted[c] = true
	}
	for _, c := range permanent {
		p.permanent[c] = true
	}
	return p
}

func (p *Permissions) Check(_ context.Context, c domain.Capability) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted[c], nil
}

func (p *Permissions) Request(_ context.Context, c domain.Capability) (domain.PermissionState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.granted[c]:
		return domain.PermissionGranted, nil
	case p.permanent[c]:
		return domain.PermissionPermanentlyDenied, nil
	default:
		return domain.PermissionDenied, nil
	}
}

// ParseCapabilities splits a comma separated list such as "camera,location".
func ParseCapabilities(s string) ([]domain.Capability, error) {
	var caps []domain.Capability
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		switch domain.Capability(part) {
		case "":
			continue
		case domain.CapabilityCamera, domain.CapabilityLocation:
			caps = append(caps, domain.Capability(part))
		default:
			return nil, fmt.Errorf("unknown capability %q", part)
		}
	}
	return caps, nil
}

// FilePicker "picks" a file that already exists on disk. An empty path acts
// like the user dismissing the picker.
type FilePicker struct {
	Path string
}

func (p *FilePicker) LaunchCamera(ctx context.Context, opts capture.PhotoOptions) capture.PickerResponse {
	return p.pick()
}

func (p *FilePicker) LaunchLibrary(ctx context.Context, opts capture.PhotoOptions) capture.PickerResponse {
	return p.pick()
}

func (p *FilePicker) pick() capture.PickerResponse {
	if p.Path == "" {
		return capture.PickerResponse{DidCancel: true}
	}
	abs, err := filepath.Abs(p.Path)
	if err != nil {
		return capture.PickerResponse{ErrorCode: "others", ErrorMessage: err.Error()}
	}
	if _, err := os.Stat(abs); err != nil {
		return capture.PickerResponse{ErrorCode: "others", ErrorMessage: err.Error()}
	}
	uri := (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
	return capture.PickerResponse{Assets: []capture.Asset{{URI: uri}}}
}

// FixedLocator reports a fixed position, or fails when none is set.
type FixedLocator struct {
	Coordinates *domain.GeoCoordinates
	cfg         capture.LocatorConfig
}

func (l *FixedLocator) Configure(cfg capture.LocatorConfig) {
	l.cfg = cfg
}

func (l *FixedLocator) CurrentPosition(ctx context.Context, opts capture.PositionOptions) (domain.GeoCoordinates, error) {
	if err := ctx.Err(); err != nil {
		return domain.GeoCoordinates{}, err
	}
	if l.Coordinates == nil {
		return domain.GeoCoordinates{}, &domain.CaptureError{Code: "2", Message: "no location provider available"}
	}
	return *l.Coordinates, nil
}

// StaticToken is a TokenSource holding a preconfigured push token.
type StaticToken string

func (t StaticToken) DeviceToken(context.Context) (string, error) {
	if t == "" {
		return "", errors.New("no push token configured for this device")
	}
	return string(t), nil
}

// Fetcher opens file:// URIs and plain paths from disk and http(s) URIs
// over the network.
type Fetcher struct {
	Client *http.Client
}

func (f *Fetcher) Fetch(ctx context.Context, uri string) (io.ReadCloser, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid content uri: %w", err)
	}

	switch u.Scheme {
	case "", "file":
		path := u.Path
		if u.Scheme == "" {
			path = uri
		}
		file, err := os.Open(filepath.FromSlash(path))
		if err != nil {
			return nil, fmt.Errorf("failed to open content: %w", err)
		}
		return file, nil
	case "http", "https":
		return f.fetchHTTP(ctx, uri)
	default:
		return nil, fmt.Errorf("unsupported content scheme %q", u.Scheme)
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, uri string) (io.ReadCloser, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch content: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("content fetch returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
