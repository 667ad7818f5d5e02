package pipelines

import (
	"fmt"
	"strings"

	"diffusion_backend/sdruntime"
)

// NotFoundError reports that the fine-tuned adapter weights are not on disk.
// It matches sdruntime.ErrModelNotFound with errors.Is.
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("fine-tuned weights not found at %s", e.Path)
}

func (e *NotFoundError) Unwrap() []error {
	if e.Err == nil {
		return []error{sdruntime.ErrModelNotFound}
	}
	return []error{sdruntime.ErrModelNotFound, e.Err}
}

// ConstructionError reports that a pipeline could not be built. For the
// fine-tuned variant Causes holds the adapter failure followed by the
// single-file fallback failure.
type ConstructionError struct {
	Variant Variant
	Causes  []error
}

func (e *ConstructionError) Error() string {
	parts := make([]string, 0, len(e.Causes))
	for _, c := range e.Causes {
		parts = append(parts, c.Error())
	}
	return fmt.Sprintf("failed to build %s pipeline: %s", e.Variant, strings.Join(parts, "; fallback: "))
}

func (e *ConstructionError) Unwrap() []error {
	return append([]error{sdruntime.ErrModelLoadFailed}, e.Causes...)
}
