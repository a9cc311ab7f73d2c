package worker

import (
	"fmt"
	"voxagent/pkg/model"
)

// StageError is a terminal job failure with the code reported to the coordinator
type StageError struct {
	Stage  model.JobStage
	Code   string
	Detail string
	Err    error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Code, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(stage model.JobStage, code, detail string, err error) *StageError {
	return &StageError{Stage: stage, Code: code, Detail: detail, Err: err}
}
