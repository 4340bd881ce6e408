package domain

// JobState is the lifecycle state of a video job.
type JobState string

// Job lifecycle states. queued and processing are non-terminal.
const (
	JobStateQueued     JobState = "queued"
	JobStateProcessing JobState = "processing"
	JobStateDone       JobState = "done"
	JobStateFailed     JobState = "failed"
)

// IsTerminal reports whether no further transition may leave s.
func (s JobState) IsTerminal() bool {
	return s == JobStateDone || s == JobStateFailed
}

// Valid reports whether s is one of the known states.
func (s JobState) Valid() bool {
	switch s {
	case JobStateQueued, JobStateProcessing, JobStateDone, JobStateFailed:
		return true
	default:
		return false
	}
}

// Plan is an account's subscription tier.
type Plan string

const (
	PlanTrial Plan = "trial"
	PlanBasic Plan = "basic"
	PlanPro   Plan = "pro"
)

// Valid reports whether p is a plan an account may be moved to.
func (p Plan) Valid() bool {
	switch p {
	case PlanTrial, PlanBasic, PlanPro:
		return true
	default:
		return false
	}
}

const (
	// MinSourceImages is the minimum number of reference images per job
	MinSourceImages = 1
	// MaxSourceImages is the maximum number of reference images per job
	MaxSourceImages = 3
)
