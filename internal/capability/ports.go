// Package capability defines the narrow, single-purpose external
// collaborator interfaces (C5) consumed by the Stage Runner: LLM
// completion, image generation, content moderation, and object storage.
// Provider-specific error shapes never leak past this package's adapters --
// each implementation classifies its own transport into the fixed error
// kinds the Orchestrator understands, mirroring the teacher's
// cursor.Client/APIError boundary.
package capability

import (
	"context"
	"errors"
	"time"
)

// LLMError classifies an LLM completion failure into one of the three kinds
// the Stage Runner understands (spec.md §6).
type LLMError struct {
	Kind LLMErrorKind
	Err  error
}

func (e *LLMError) Error() string { return string(e.Kind) + ": " + e.Err.Error() }
func (e *LLMError) Unwrap() error { return e.Err }

type LLMErrorKind string

const (
	LLMTimeout     LLMErrorKind = "LLM_TIMEOUT"
	LLMInvalidJSON LLMErrorKind = "LLM_INVALID_JSON"
	LLMOther       LLMErrorKind = "LLM_OTHER"
)

// LLMCompletion is the C5 capability port for structured LLM completions.
// The prompt and schema are opaque to the Orchestrator; only this
// interface's implementation understands the wire format of a given
// provider.
type LLMCompletion interface {
	// Complete requests a structured completion conforming to schema
	// (a JSON Schema document) before deadline elapses. The raw bytes of
	// the parsed JSON object are returned for the caller to unmarshal into
	// its own Go type.
	Complete(ctx context.Context, prompt string, schema []byte, deadline time.Time) ([]byte, error)
}

// ImageError classifies an image generation failure (spec.md §4.2 Stage F).
type ImageError struct {
	Kind ImageErrorKind
	Err  error
}

func (e *ImageError) Error() string { return string(e.Kind) + ": " + e.Err.Error() }
func (e *ImageError) Unwrap() error { return e.Err }

type ImageErrorKind string

const (
	ImageTimeout   ImageErrorKind = "IMAGE_TIMEOUT"
	ImageRateLimit ImageErrorKind = "IMAGE_RATE_LIMIT"
	ImageOther     ImageErrorKind = "IMAGE_OTHER"
)

// ImageGeneration is the C5 capability port for rendering a single image.
type ImageGeneration interface {
	Generate(ctx context.Context, prompt, negativePrompt, styleToken string, deadline time.Time) ([]byte, error)
}

// ModerationVerdict mirrors job.ModerationVerdict without importing the job
// package, keeping capability a leaf dependency.
type ModerationVerdict struct {
	Safe   bool
	Reason string
}

// ContentModeration is the C5 capability port for safety classification. It
// is a pure function from the Orchestrator's perspective: no retries, no
// backoff (spec.md §4.2 stages B and G have zero configured retries).
type ContentModeration interface {
	ClassifyText(ctx context.Context, text string) (ModerationVerdict, error)
	ClassifyImage(ctx context.Context, imageBytes []byte) (ModerationVerdict, error)
}

// ErrStorageUnavailable is returned by ObjectStore methods on a transport
// failure, classified by the Stage Runner as STORAGE_UPLOAD_FAILED.
var ErrStorageUnavailable = errors.New("capability: object store unavailable")

// ObjectStore is the C5 capability port for uploading rendered images.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) (url string, err error)
	// BucketExists is probed once per process with cached success, per
	// spec.md §6.
	BucketExists(ctx context.Context) (bool, error)
}
