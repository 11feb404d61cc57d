package bbu

import (
	"errors"
	"fmt"

	"github.com/ostafen/bbupdate/internal/errs"
)

// Stage is a step of an update.
type Stage int

const (
	StageValidate Stage = iota
	StageConfirm
	StagePrep
	StageWrite
	StageRestore
)

func (s Stage) String() string {
	switch s {
	case StageValidate:
		return "validate"
	case StageConfirm:
		return "confirm"
	case StagePrep:
		return "prep"
	case StageWrite:
		return "write"
	case StageRestore:
		return "restore"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// StageError reports the step an update failed at.
type StageError struct {
	Stage  Stage
	Device string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Device, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func (env *Env) fail(stage Stage, device string, err error) error {
	if !errors.Is(err, errs.ErrAborted) {
		env.log().Error("update failed", "stage", stage, "device", device, "error", err)
	}
	return &StageError{Stage: stage, Device: device, Err: err}
}
