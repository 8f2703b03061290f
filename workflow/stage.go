package workflow

// Stage is the workflow state machine's state. Values are persisted on
// ChatSession.Stage.
type Stage string

const (
	StageGreeting           Stage = "greeting"
	StageNameCollection     Stage = "name_collection"
	StagePanCollection      Stage = "pan_collection"
	StagePanVerification    Stage = "pan_verification"
	StageSelfieVerification Stage = "selfie_verification"
	StageLoanDetails        Stage = "loan_details"
	StageSalaryVerification Stage = "salary_verification"
	StageCompleted          Stage = "completed"
	StageRejected           Stage = "rejected"
)

// transitions is the directed stage graph. Every stage may also self-loop
// (verification retries and re-prompts), so self edges are implied.
var transitions = map[Stage][]Stage{
	StageGreeting:           {StageNameCollection, StagePanCollection},
	StageNameCollection:     {StagePanCollection},
	StagePanCollection:      {StagePanVerification},
	StagePanVerification:    {StageSelfieVerification},
	StageSelfieVerification: {StageLoanDetails, StagePanVerification}, // explicit fail-closed edge back to re-upload
	StageLoanDetails:        {StageSalaryVerification, StageCompleted, StageRejected, StagePanVerification},
	StageSalaryVerification: {StageCompleted},
	StageCompleted:          {},
	StageRejected:           {},
}

// ParseStage maps a stored stage string to a Stage. ok is false for
// unknown/corrupt values, which callers must treat as a reset to greeting.
func ParseStage(raw string) (Stage, bool) {
	stage := Stage(raw)
	if _, known := transitions[stage]; !known {
		return StageGreeting, false
	}
	return stage, true
}

// CanTransition reports whether moving from one stage to another follows the
// graph. Staying in place is always legal.
func CanTransition(from, to Stage) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the stage accepts no further workflow progress.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageRejected
}

// RequiresUpload names the document kind a stage is waiting on, empty when
// the stage advances on free-text turns.
func (s Stage) RequiresUpload() string {
	switch s {
	case StagePanVerification:
		return "pan_card"
	case StageSelfieVerification:
		return "selfie"
	case StageSalaryVerification:
		return "salary_slip"
	}
	return ""
}
