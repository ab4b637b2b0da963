package flash

import (
	"errors"
	"fmt"
)

var (
	ErrOTAActive     = errors.New("ota session active")
	ErrBusy          = errors.New("flash actor busy")
	ErrSessionActive = errors.New("another ota session is active")
	ErrNoSession     = errors.New("no ota session")
	ErrStopped       = errors.New("flash actor stopped")
)

// OTAErrorKind classifies OTA failures for the adapter that started the update.
type OTAErrorKind uint8

const (
	OTAErase OTAErrorKind = iota
	OTAWrite
	OTAActivate
	OTARead
)

func (k OTAErrorKind) String() string {
	switch k {
	case OTAErase:
		return "erase"
	case OTAWrite:
		return "write"
	case OTAActivate:
		return "activate"
	case OTARead:
		return "read"
	default:
		return fmt.Sprintf("ota_error(%d)", uint8(k))
	}
}

// OTAError is the single error type reported back for a failed update.
type OTAError struct {
	Kind OTAErrorKind
	Err  error
}

func (e *OTAError) Error() string {
	return fmt.Sprintf("ota %s failed: %v", e.Kind, e.Err)
}

func (e *OTAError) Unwrap() error {
	return e.Err
}

func otaError(kind OTAErrorKind, err error) *OTAError {
	return &OTAError{Kind: kind, Err: err}
}

// ReadError wraps an upload stream failure on the adapter side.
func ReadError(err error) error {
	return otaError(OTARead, err)
}
