package model

import "time"

type AnswerStatus string

const (
	AnswerPending   AnswerStatus = "pending"
	AnswerDelivered AnswerStatus = "delivered"
	AnswerSelected  AnswerStatus = "selected"
	AnswerReported  AnswerStatus = "reported"
)

type Answer struct {
	ID         string       `firestore:"id"`
	QuestionID string       `firestore:"questionID"`
	AnswererID string       `firestore:"answererID"`
	Text       string       `firestore:"text"`
	Anonymous  bool         `firestore:"anonymous"`
	Status     AnswerStatus `firestore:"status"`
	CreatedAt  time.Time    `firestore:"createdAt"`
}

type DeliveryStatus string

const (
	DeliverySent       DeliveryStatus = "sent"
	DeliveryAnswered   DeliveryStatus = "answered"
	DeliveryDeclined   DeliveryStatus = "declined"
	DeliveryRemindered DeliveryStatus = "remindered"
	DeliveryReported   DeliveryStatus = "reported"
	DeliveryExpired    DeliveryStatus = "expired"
)

// Active reports whether the candidate still owes a response.
func (s DeliveryStatus) Active() bool {
	return s == DeliverySent || s == DeliveryRemindered
}

// Delivery tracks one question notification sent to one candidate.
type Delivery struct {
	ID          string         `firestore:"id"`
	QuestionID  string         `firestore:"questionID"`
	CandidateID string         `firestore:"candidateID"`
	Status      DeliveryStatus `firestore:"status"`
	CreatedAt   time.Time      `firestore:"createdAt"`
	RemindAt    *time.Time     `firestore:"remindAt"`
}

type ReportReason string

const (
	ReportAbusive ReportReason = "abusive"
	ReportSpam    ReportReason = "spam"
	ReportOther   ReportReason = "other"
)

func (r ReportReason) Valid() bool {
	return r == ReportAbusive || r == ReportSpam || r == ReportOther
}

// Report flags an answer, or a question prompt when AnswerID is empty.
// Moderation action stays with an external reviewer.
type Report struct {
	ID         string       `firestore:"id"`
	QuestionID string       `firestore:"questionID"`
	AnswerID   string       `firestore:"answerID"`
	ReporterID string       `firestore:"reporterID"`
	Reason     ReportReason `firestore:"reason"`
	Comment    string       `firestore:"comment"`
	CreatedAt  time.Time    `firestore:"createdAt"`
}
