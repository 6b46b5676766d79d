package jobs

import "fmt"

// happyPath lists every non-error successor.
var happyPath = map[Status]Status{
	StatusIdle:               StatusPending,
	StatusPending:            StatusGeneratingBrief,
	StatusGeneratingBrief:    StatusAnalyzingPlacement,
	StatusAnalyzingPlacement: StatusGeneratingImage,
	StatusGeneratingImage:    StatusUploading,
	StatusUploading:          StatusInserting,
	StatusInserting:          StatusSettingFeatured,
	StatusSettingFeatured:    StatusUpdatingMeta,
	StatusUpdatingMeta:       StatusSuccess,
	StatusAnalyzing:          StatusAnalysisSuccess,
}

// Terminal reports whether a pass ends in s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusAnalysisSuccess
}

// Next returns the happy-path successor of s.
func Next(s Status) (Status, bool) {
	n, ok := happyPath[s]
	return n, ok
}

// CanTransition encodes the transition table: one step forward along the
// happy path, idle into the vision side path, or error from any non-terminal state.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusError {
		return true
	}
	if from == StatusIdle && to == StatusAnalyzing {
		return true
	}
	n, ok := happyPath[from]
	return ok && n == to
}

// Transition moves j to status to, or fails when the table forbids it.
func (j *Job) Transition(to Status, message string) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("invalid transition %s -> %s", j.Status, to)
	}
	j.Status = to
	j.StatusMessage = message
	return nil
}
