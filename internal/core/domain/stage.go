package domain

import "fmt"

type Stage string

const (
	StagePending          Stage = "pending"
	StageDownloading      Stage = "downloading"
	StageDecrypting       Stage = "decrypting"
	StageExtracting       Stage = "extracting"
	StageAnalyzing        Stage = "analyzing"
	StageAwaitingApproval Stage = "awaiting_approval"
	StageCompleted        Stage = "completed"
	StageFailed           Stage = "failed"
	StageSuperseded       Stage = "superseded"
	StageExpired          Stage = "expired"
)

// stageOrder is the position of each stage along the lifecycle. Stages sharing
// a position are alternative outcomes of the same step.
var stageOrder = map[Stage]int{
	StagePending:          0,
	StageDownloading:      1,
	StageDecrypting:       2,
	StageExtracting:       3,
	StageAnalyzing:        4,
	StageAwaitingApproval: 5,
	StageCompleted:        6,
	StageSuperseded:       7,
	StageExpired:          7,
	StageFailed:           8,
}

var transitions = map[Stage][]Stage{
	StagePending:          {StageDownloading, StageFailed},
	StageDownloading:      {StageDecrypting, StageFailed},
	StageDecrypting:       {StageExtracting, StageFailed},
	StageExtracting:       {StageAnalyzing, StageFailed},
	StageAnalyzing:        {StageAwaitingApproval, StageCompleted, StageFailed},
	StageAwaitingApproval: {StageCompleted, StageFailed},
	StageCompleted:        {StageSuperseded, StageExpired},
}

func ParseStage(raw string) (Stage, error) {
	s := Stage(raw)
	if _, ok := stageOrder[s]; !ok {
		return "", WrapError(ErrInvalidInput, "parse stage", fmt.Errorf("unknown stage %q", raw))
	}
	return s, nil
}

// Order returns the lifecycle position of s, or -1 for unknown stages.
func (s Stage) Order() int {
	if o, ok := stageOrder[s]; ok {
		return o
	}
	return -1
}

// CanTransition reports whether the forward table allows from -> to.
func CanTransition(from, to Stage) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition when from -> to is not in the table.
func ValidateTransition(from, to Stage) error {
	if CanTransition(from, to) {
		return nil
	}
	return WrapError(ErrInvalidTransition, "validate transition", fmt.Errorf("%s -> %s", from, to))
}

// IsRunnable reports stages the orchestrator advances without an external trigger.
func (s Stage) IsRunnable() bool {
	switch s {
	case StagePending, StageDownloading, StageDecrypting, StageExtracting, StageAnalyzing:
		return true
	default:
		return false
	}
}

// IsRemoved reports the terminal markers set by reconciliation.
func (s Stage) IsRemoved() bool {
	return s == StageSuperseded || s == StageExpired
}

// Next returns the stage that follows a successful handler run for linear
// work stages. Analyzing branches and is decided by the verdict.
func (s Stage) Next() (Stage, bool) {
	switch s {
	case StagePending:
		return StageDownloading, true
	case StageDownloading:
		return StageDecrypting, true
	case StageDecrypting:
		return StageExtracting, true
	case StageExtracting:
		return StageAnalyzing, true
	default:
		return "", false
	}
}
