package scheduler

import "time"

const (
	// DefaultTickInterval is the pause between the end of one tick and the start of the next
	DefaultTickInterval = 1000 * time.Millisecond

	// DefaultRecoverStaleAfter is how old a running execution must be to be
	// considered abandoned at startup
	DefaultRecoverStaleAfter = 10 * time.Minute

	// DefaultPruneInterval is how often execution history is trimmed
	DefaultPruneInterval = time.Hour

	staleExecutionReason = "scheduler restarted before execution completed"
)
