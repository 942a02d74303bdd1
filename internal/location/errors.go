package location

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the referenced session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrForbidden means the caller neither owns the session nor appears
	// in its share list.
	ErrForbidden = errors.New("session not shared with caller")
	// ErrInactive means the session has already been stopped.
	ErrInactive = errors.New("session is not active")
	// ErrValidation covers malformed points and metadata, detected before
	// any store write.
	ErrValidation = errors.New("invalid location payload")
)

// Ingest stages that can fail after the sample is durably written.
const (
	StageTouch    = "touch"
	StagePresence = "presence"
)

// IngestError reports a partial ingest failure: the location append
// succeeded but a follow-up write did not. Nothing is rolled back; the
// caller decides whether to retry the whole operation.
type IngestError struct {
	Stage string
	Err   error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest %s stage failed: %v", e.Stage, e.Err)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}
