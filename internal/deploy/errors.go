package deploy

import (
	"errors"
	"fmt"
)

// Step names a stage of the deploy pipeline
type Step string

const (
	StepBuild    Step = "build"
	StepPlan     Step = "plan"
	StepConnect  Step = "connect"
	StepPrepare  Step = "prepare"
	StepSecret   Step = "secret"
	StepClean    Step = "clean"
	StepSync     Step = "sync"
	StepActivate Step = "activate"
)

var (
	// ErrMissingSecret means neither the remote secrets file nor the local
	// fallback exists. The remote directory is left untouched.
	ErrMissingSecret = errors.New("no remote secrets file and no local fallback")

	// ErrBackupFailed means the remote secrets file could not be copied
	// aside, so nothing was deleted.
	ErrBackupFailed = errors.New("failed to back up remote secrets file")
)

// StepError tags a failure with the pipeline step it happened in
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// FailedStep returns the step a deploy error originated from
func FailedStep(err error) (Step, bool) {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step, true
	}
	return "", false
}
