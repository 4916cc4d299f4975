package engine

import "errors"

// Per-autoscaler scale-up rejections. These are always wrapped with the
// offending autoscaler's identity before being logged; callers that need to
// distinguish the kind should use errors.Is against these sentinels.
var (
	ErrAlreadyScaled    = errors.New("autoscaler already carries an in-progress status annotation")
	ErrBadScalePercent  = errors.New("scale-percentage-of-actual annotation missing or not an integer")
	ErrWouldNotIncrease = errors.New("computed target would not increase minReplicas")
)

// ErrOrphanSweepConflict is returned by the orphan sweeper when asked to run
// while a sequence is active.
var ErrOrphanSweepConflict = errors.New("refusing orphan sweep while a sequence is active")
