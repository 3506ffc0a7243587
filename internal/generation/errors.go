package generation

import (
	"strings"

	appErr "github.com/genflow-studio/engine/pkg/errors"
)

// QuotaMessage replaces backend messages that signal quota exhaustion.
const QuotaMessage = "API quota exceeded. Please check your billing details or try again later."

var (
	ErrNoInputs         = appErr.New(appErr.CodeInvalid, "no inputs")
	ErrNoImageInput     = appErr.New(appErr.CodeInvalid, "no image input")
	ErrNothingToEnhance = appErr.New(appErr.CodeInvalid, "nothing to enhance")
	ErrBusy             = appErr.New(appErr.CodeConflict, "generation already in progress")
)

// classify maps a failure to the error surfaced in the error slot. Validation
// errors pass through; backend errors become unavailable, or
// resource_exhausted with QuotaMessage when they mention quota.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if appErr.IsCode(err, appErr.CodeInvalid) || appErr.IsCode(err, appErr.CodeNotFound) {
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "quota") {
		return appErr.Wrap(err, appErr.CodeResourceExhausted, QuotaMessage)
	}
	if appErr.IsCode(err, appErr.CodeUnavailable) {
		return err
	}
	return appErr.Wrap(err, appErr.CodeUnavailable, msg)
}
