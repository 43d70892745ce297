package domain

import (
	"path"
	"strings"
)

// Capability is a device feature gated behind an OS permission.
type Capability string

const (
	CapabilityCamera   Capability = "camera"
	CapabilityLocation Capability = "location"
)

type PermissionState int

const (
	PermissionUnknown PermissionState = iota
	PermissionGranted
	PermissionDenied
	PermissionPermanentlyDenied
)

func (s PermissionState) String() string {
	switch s {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	case PermissionPermanentlyDenied:
		return "permanently_denied"
	default:
		return "unknown"
	}
}

// Identity holds the fixed fields every record carries.
type Identity struct {
	First string
	Last  string
	Born  int
}

// CaptureRecord is the document written to the "users" collection.
// Optional fields stay nil unless the matching capture succeeded.
type CaptureRecord struct {
	First        string   `json:"first"`
	Last         string   `json:"last"`
	Born         int      `json:"born"`
	ImageLocator *string  `json:"imageLocator,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
}

func NewCaptureRecord(id Identity) *CaptureRecord {
	return &CaptureRecord{First: id.First, Last: id.Last, Born: id.Born}
}

func (r *CaptureRecord) AttachImage(locator string) {
	r.ImageLocator = &locator
}

// AttachCoordinates sets latitude and longitude together.
func (r *CaptureRecord) AttachCoordinates(c GeoCoordinates) {
	lat, long := c.Latitude, c.Longitude
	r.Latitude = &lat
	r.Longitude = &long
}

// CapturedImage is a local content handle plus the content type inferred
// from its extension.
type CapturedImage struct {
	URI         string
	ContentType string
}

// NewCapturedImage infers the content type from uri's extension.
func NewCapturedImage(uri string) *CapturedImage {
	return &CapturedImage{URI: uri, ContentType: ContentTypeForExt(ImageExt(uri))}
}

type GeoCoordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// CaptureState is a snapshot of what the user has captured so far.
type CaptureState struct {
	Image       *CapturedImage
	Coordinates *GeoCoordinates
}

type DeviceRegistration struct {
	Token string
}

// ImageExt returns the lower-cased extension of uri without the dot.
// Handles without an extension fall back to "jpg".
func ImageExt(uri string) string {
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(uri)), ".")
	if ext == "" {
		return "jpg"
	}
	return ext
}

// ContentTypeForExt maps an image extension to its MIME type.
func ContentTypeForExt(ext string) string {
	switch ext {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "heic":
		return "image/heic"
	default:
		return "image/" + ext
	}
}
