package generation

import (
	"errors"

	"diffusion_backend/payload"
	"diffusion_backend/pipelines"
	"diffusion_backend/sdruntime"
)

// Error reports that the pipeline was reached but produced no image.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return "generation failed: " + e.Err.Error()
}

// Unwrap exposes both the generic sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	return []error{sdruntime.ErrGenerationFailed, e.Err}
}

// Failure kinds reported by KindOf.
const (
	KindValidation   = "validation"
	KindNotFound     = "not_found"
	KindConstruction = "construction"
	KindGeneration   = "generation"
	KindUnknown      = "unknown"
)

// KindOf names the failure class of an error returned by Generate, or ""
// for nil.
func KindOf(err error) string {
	var (
		pe *payload.Error
		nf *pipelines.NotFoundError
		ce *pipelines.ConstructionError
		ge *Error
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return KindValidation
	case errors.As(err, &nf):
		return KindNotFound
	case errors.As(err, &ce):
		return KindConstruction
	case errors.As(err, &ge):
		return KindGeneration
	default:
		return KindUnknown
	}
}
