package orchestrator

import "errors"

// Sentinel errors for agent turn processing, package-level Err*
// values usable with errors.Is/As.
var (
	ErrProviderFailure = errors.New("orchestrator: provider transport error")
	ErrToolExecution   = errors.New("orchestrator: tool execution error")
	ErrApprovalDenied  = errors.New("orchestrator: tool call denied")
	ErrTurnLimit       = errors.New("orchestrator: llm call limit reached")
	ErrValidation      = errors.New("orchestrator: validation error")
	ErrStorage         = errors.New("orchestrator: storage error")
	ErrNotFound        = errors.New("orchestrator: not found")
	ErrConflict        = errors.New("orchestrator: conflict")
	ErrTimeout         = errors.New("orchestrator: timeout")
)
