package assist

import "errors"

var (
	// ErrProviderFailure wraps completion and bootstrap failures that are not cancellations.
	ErrProviderFailure = errors.New("language provider failure")
	// ErrNoExecutionError is returned when a repair is requested without a failed execution.
	ErrNoExecutionError = errors.New("last execution has no error")
	// ErrRepairInProgress is returned while a repair request is loading.
	ErrRepairInProgress = errors.New("repair already in progress")
	// ErrNoAIClient is returned when no chat completion service is configured.
	ErrNoAIClient = errors.New("no AI client configured")
	// ErrNothingStaged is returned when accepting without a staged rewrite.
	ErrNothingStaged = errors.New("no staged rewrite")
	// ErrNoHintFix is returned when the active hint carries no fix.
	ErrNoHintFix = errors.New("active hint has no fix")
	// ErrNoDatasource is returned by operations that need a datasource before one is set.
	ErrNoDatasource = errors.New("no datasource")
)
