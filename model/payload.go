package model

// Button intents carried by cached payloads or directly in callback data.
const (
	IntentAnswerQuestion    = "answer_question"
	IntentAnswerRemindLater = "answer_remind_later"
	IntentAnswerNot         = "answer_not"
	IntentQuestionReport    = "question_report"
	IntentAnswerReport      = "answer_report"
	IntentBestAnswer        = "best_answer"
	IntentAskMoreAnswers    = "ask_more_answers"
	IntentCancel            = "cancel"
)

// ButtonPayload is the cached context behind an inline button. Related lists
// the ids of sibling buttons on the same message; they are invalidated
// together once any one of them is pressed.
type ButtonPayload struct {
	Intent  string            `json:"intent"`
	Data    map[string]string `json:"data"`
	Related []string          `json:"related"`
}

// Outbound is a transport-neutral message: a catalog key plus parameters,
// optionally with inline choice buttons. The core never composes final text.
type Outbound struct {
	Key     string
	Params  map[string]string
	Buttons []Button
}

// Button is one inline choice. PayloadID points at a cached ButtonPayload;
// Intent is used directly when no payload context is needed.
type Button struct {
	LabelKey  string
	PayloadID string
	Intent    string
}
