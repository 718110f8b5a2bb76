// Package registry is the sole authority for question, answer and report
// lifecycle transitions. Mutations touching a single question are serialized
// through striped per-question locks so concurrent answer submissions and
// best-answer selections cannot corrupt the answer sequence or
// double-resolve a question. Unrelated questions never contend on the same
// lock stripe by design of the hash spread.
package registry

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"AskBot/model"
	"AskBot/repo"
)

const lockStripes = 64

type Registry struct {
	store repo.Store
	locks [lockStripes]sync.Mutex
}

func New(store repo.Store) *Registry {
	return &Registry{store: store}
}

func (r *Registry) lock(questionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(questionID))
	return &r.locks[h.Sum32()%lockStripes]
}

// Open transitions a question from Draft to Open. Opening an already-open
// question is a no-op; a terminal question is rejected.
func (r *Registry) Open(ctx context.Context, questionID string) (*model.Question, error) {
	mu := r.lock(questionID)
	mu.Lock()
	defer mu.Unlock()

	question, err := r.store.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	switch question.Status {
	case model.QuestionOpen:
		return question, nil
	case model.QuestionDraft:
	default:
		return nil, model.ErrAlreadyResolved
	}
	question.Status = model.QuestionOpen
	if err := r.store.SaveQuestion(ctx, question); err != nil {
		return nil, err
	}
	return question, nil
}

// Resolve atomically marks the answer Selected and the question Resolved.
// Resolving an already-resolved question with the same answer is a no-op;
// with a different answer, or from any other terminal state, it fails with
// ErrAlreadyResolved.
func (r *Registry) Resolve(ctx context.Context, questionID, answerID string) error {
	mu := r.lock(questionID)
	mu.Lock()
	defer mu.Unlock()

	question, err := r.store.GetQuestion(ctx, questionID)
	if err != nil {
		return err
	}
	if question.Status == model.QuestionResolved {
		if question.BestAnswerID == answerID {
			return nil
		}
		return model.ErrAlreadyResolved
	}
	if question.Status != model.QuestionOpen {
		return model.ErrAlreadyResolved
	}

	answer, err := r.store.GetAnswer(ctx, answerID)
	if err != nil {
		return err
	}
	if answer.QuestionID != questionID {
		return model.ErrAnswerDoesNotExist
	}

	answer.Status = model.AnswerSelected
	if err := r.store.SaveAnswer(ctx, answer); err != nil {
		return err
	}
	question.Status = model.QuestionResolved
	question.BestAnswerID = answerID
	return r.store.SaveQuestion(ctx, question)
}

// Cancel transitions an open question to Cancelled. Idempotent under
// re-application; rejected from any other terminal state.
func (r *Registry) Cancel(ctx context.Context, questionID string) error {
	return r.close(ctx, questionID, model.QuestionCancelled)
}

// Expire transitions an open question to Expired. Idempotent under
// re-application; rejected from any other terminal state.
func (r *Registry) Expire(ctx context.Context, questionID string) error {
	return r.close(ctx, questionID, model.QuestionExpired)
}

func (r *Registry) close(ctx context.Context, questionID string, target model.QuestionStatus) error {
	mu := r.lock(questionID)
	mu.Lock()
	defer mu.Unlock()

	question, err := r.store.GetQuestion(ctx, questionID)
	if err != nil {
		return err
	}
	if question.Status == target {
		return nil
	}
	if question.Status != model.QuestionOpen {
		return model.ErrAlreadyResolved
	}
	question.Status = target
	return r.store.SaveQuestion(ctx, question)
}

// AppendAnswer appends an answer to an open question and marks it
// Delivered. Fails with ErrQuestionResolved when the question is no longer
// open; the answer is not stored in that case.
func (r *Registry) AppendAnswer(ctx context.Context, answer *model.Answer) error {
	mu := r.lock(answer.QuestionID)
	mu.Lock()
	defer mu.Unlock()

	question, err := r.store.GetQuestion(ctx, answer.QuestionID)
	if err != nil {
		return err
	}
	if question.Status != model.QuestionOpen {
		return model.ErrQuestionResolved
	}

	if answer.ID == "" {
		answer.ID = uuid.NewString()
	}
	if answer.CreatedAt.IsZero() {
		answer.CreatedAt = time.Now()
	}
	answer.Status = model.AnswerDelivered
	if err := r.store.SaveAnswer(ctx, answer); err != nil {
		return err
	}
	question.AnswerIDs = append(question.AnswerIDs, answer.ID)
	return r.store.SaveQuestion(ctx, question)
}

// ReportAnswer validates the target answer and writes a report. A reporter
// may report a given answer only once.
func (r *Registry) ReportAnswer(ctx context.Context, answerID, reporterID string, reason model.ReportReason, comment string) (*model.Report, error) {
	answer, err := r.store.GetAnswer(ctx, answerID)
	if err != nil {
		return nil, model.ErrReportTargetMissing
	}

	mu := r.lock(answer.QuestionID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := r.store.ListReportsByAnswer(ctx, answerID)
	if err != nil {
		return nil, err
	}
	for _, report := range existing {
		if report.ReporterID == reporterID {
			return nil, model.ErrDuplicateReport
		}
	}

	report := &model.Report{
		ID:         uuid.NewString(),
		QuestionID: answer.QuestionID,
		AnswerID:   answerID,
		ReporterID: reporterID,
		Reason:     reason,
		Comment:    comment,
		CreatedAt:  time.Now(),
	}
	if err := r.store.SaveReport(ctx, report); err != nil {
		return nil, err
	}
	answer.Status = model.AnswerReported
	if err := r.store.SaveAnswer(ctx, answer); err != nil {
		return nil, err
	}
	return report, nil
}

// ReportQuestion writes a report against a question prompt, for candidates
// flagging the question itself rather than an answer.
func (r *Registry) ReportQuestion(ctx context.Context, questionID, reporterID string, reason model.ReportReason, comment string) (*model.Report, error) {
	if _, err := r.store.GetQuestion(ctx, questionID); err != nil {
		return nil, model.ErrReportTargetMissing
	}
	report := &model.Report{
		ID:         uuid.NewString(),
		QuestionID: questionID,
		ReporterID: reporterID,
		Reason:     reason,
		Comment:    comment,
		CreatedAt:  time.Now(),
	}
	if err := r.store.SaveReport(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}
