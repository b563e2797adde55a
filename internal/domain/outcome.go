package domain

import "time"

// Outcome is the terminal result of processing one file node.
type Outcome string

const (
	OutcomeCompleted           Outcome = "completed"
	OutcomeSkippedAlreadyDone  Outcome = "skipped_already_done"
	OutcomeSkippedOnRemote     Outcome = "skipped_already_on_remote"
	OutcomeFailed              Outcome = "failed"
)

// IsSkip returns true for the two resume short-circuit outcomes.
func (o Outcome) IsSkip() bool {
	return o == OutcomeSkippedAlreadyDone || o == OutcomeSkippedOnRemote
}

// RunStats aggregates per-file outcomes over one orchestration pass.
type RunStats struct {
	TotalFiles int
	Done       int
	Skipped    int
	Failed     int
	StartedAt  time.Time
}

// Record folds one outcome into the counters. Skips count as done for the
// completion fraction, mirroring how the run summary reports them.
func (s *RunStats) Record(o Outcome) {
	switch o {
	case OutcomeCompleted:
		s.Done++
	case OutcomeSkippedAlreadyDone, OutcomeSkippedOnRemote:
		s.Skipped++
		s.Done++
	case OutcomeFailed:
		s.Failed++
	}
}

// Fraction returns done/total in [0,1].
func (s *RunStats) Fraction() float64 {
	if s.TotalFiles == 0 {
		return 0
	}
	return float64(s.Done) / float64(s.TotalFiles)
}

// Elapsed returns time since the run started.
func (s *RunStats) Elapsed() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return time.Since(s.StartedAt)
}
