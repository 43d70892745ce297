package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied       = errors.New("permission denied")
	ErrCaptureCancelled       = errors.New("capture cancelled")
	ErrUploadFailed           = errors.New("upload failed")
	ErrWriteFailed            = errors.New("write failed")
	ErrNotificationSendFailed = errors.New("notification send failed")
)

// CaptureError is a coded failure reported by the picker or location provider.
type CaptureError struct {
	Code    string
	Message string
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture failed [%s]: %s", e.Code, e.Message)
}
