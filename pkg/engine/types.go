package engine

import "time"

// AutoscalerStatusData is the state recorded for one autoscaler while a
// sequence is active. It is round-tripped both as the status ConfigMap body
// and as the per-autoscaler status annotation.
type AutoscalerStatusData struct {
	OriginalMinReplicas     int32 `json:"originalMinReplicas"`
	OriginalCurrentReplicas int32 `json:"originalCurrentReplicas"`
	AppliedMinReplicas      int32 `json:"appliedMinReplicas"`
	AppliedAt               int64 `json:"appliedAt"`
}

// ManagedAutoscaler is the identity plus status of one autoscaler tracked by
// the current sequence.
type ManagedAutoscaler struct {
	Name      string               `json:"name"`
	Namespace string               `json:"namespace"`
	Status    AutoscalerStatusData `json:"status"`
}

// SequenceState is the full state of one active sequence. StartedAt is
// anchored to the creation timestamp of the persisted status object, so
// duration expiry survives restarts.
type SequenceState struct {
	StartedAt time.Time
	Managed   []ManagedAutoscaler
}

// Trigger is an opaque fire-and-coalesce token naming the source that
// produced it.
type Trigger struct {
	Source string
}

// sequenceState enumerates the states of the sequence lifecycle.
type sequenceState int

const (
	stateIdle sequenceState = iota
	stateStartSequence
	stateActive
	stateReconcile
	stateEndSequence
)

func (s sequenceState) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateStartSequence:
		return "StartSequence"
	case stateActive:
		return "Active"
	case stateReconcile:
		return "Reconcile"
	case stateEndSequence:
		return "EndSequence"
	default:
		return "Unknown"
	}
}
