package domain

import (
	"errors"
	"fmt"
)

// Errors shared by the registry, the audio pipeline and the insight engine.
var (
	ErrUnknownConnection   = errors.New("unknown connection")
	ErrDuplicateConnection = errors.New("duplicate connection")
	ErrUnknownSession      = errors.New("unknown session")
	ErrDeliveryFailed      = errors.New("delivery failed")
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrEnrichmentFailed    = errors.New("enrichment failed")
	ErrNotRunning          = errors.New("service not running")
	ErrInvalidArgument     = errors.New("invalid argument")
)

// ErrParseFailed is an enrichment failure caused by an unparseable model response.
var ErrParseFailed = fmt.Errorf("%w: response could not be parsed", ErrEnrichmentFailed)
