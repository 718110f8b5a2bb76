package model

// Dialogue states. Idle is both the initial and the terminal state; each
// other state waits for exactly one input event.
const (
	StateIdle = iota
	StateAwaitingQuestionText
	StateAwaitingDomain
	StateAwaitingDomainSimilarity
	StateAwaitingSensitivity
	StateAwaitingSocialCloseness
	StateAwaitingProximity
	StateAwaitingAskerAnonymity
	StateAwaitingAnswerText
	StateAwaitingAnswererAnonymity
	StateAwaitingReportReason
	StateAwaitingReportComment
)

// AnswerDraft is the in-progress answer a candidate is composing.
type AnswerDraft struct {
	QuestionID string
	DeliveryID string
	Text       string
}

// ReportDraft is the in-progress report a user is composing. AnswerID is
// empty when the report targets a question prompt.
type ReportDraft struct {
	QuestionID string
	AnswerID   string
	DeliveryID string
	Reason     ReportReason
}

// UserState is the per-user dialogue record: the current state plus the
// draft payload that state is building. At most one of the drafts is
// non-nil at a time.
type UserState struct {
	State       int
	Draft       *Question
	AnswerDraft *AnswerDraft
	ReportDraft *ReportDraft
}

func (s *UserState) Idle() bool { return s.State == StateIdle }

// Reset discards any in-progress draft and returns to Idle.
func (s *UserState) Reset() {
	s.State = StateIdle
	s.Draft = nil
	s.AnswerDraft = nil
	s.ReportDraft = nil
}
