package domain

// ActionType represents the kind of mutation the sync phase performs
type ActionType string

const (
	ActionDelete  ActionType = "delete"
	ActionCopy    ActionType = "copy"
	ActionRefresh ActionType = "refresh"
)

// SyncPhase names a step of the sync executor
type SyncPhase int

const (
	PhaseIdle SyncPhase = iota
	PhaseDelete
	PhaseCopy
	PhaseRefresh
	PhaseDone
)

func (p SyncPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDelete:
		return "delete"
	case PhaseCopy:
		return "copy"
	case PhaseRefresh:
		return "refresh"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// SyncStats summarizes one rank's (or the reduced global) sync work
type SyncStats struct {
	Deleted   int64
	Copied    int64
	Refreshed int64
	// BytesCopied counts regular file payload written by the copy phase
	BytesCopied int64
}
