package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"AskBot/model"
	"AskBot/repo"
)

func newTestRegistry(t *testing.T) (*Registry, *repo.MemoryStore) {
	t.Helper()
	store := repo.NewMemoryStore()
	return New(store), store
}

func seedQuestion(t *testing.T, store *repo.MemoryStore, status model.QuestionStatus) *model.Question {
	t.Helper()
	question := &model.Question{
		ID:        "q1",
		AskerID:   "asker",
		Text:      "where can I find a quiet study spot?",
		Domain:    model.DomainStudyingCareer,
		Status:    status,
		CreatedAt: time.Now(),
	}
	if err := store.SaveQuestion(context.Background(), question); err != nil {
		t.Fatalf("SaveQuestion: %v", err)
	}
	return question
}

func seedAnswer(t *testing.T, reg *Registry, questionID, answererID string) *model.Answer {
	t.Helper()
	answer := &model.Answer{QuestionID: questionID, AnswererID: answererID, Text: "try the north wing"}
	if err := reg.AppendAnswer(context.Background(), answer); err != nil {
		t.Fatalf("AppendAnswer: %v", err)
	}
	return answer
}

func TestOpenTransitionsDraft(t *testing.T) {
	reg, store := newTestRegistry(t)
	seedQuestion(t, store, model.QuestionDraft)

	question, err := reg.Open(context.Background(), "q1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if question.Status != model.QuestionOpen {
		t.Fatalf("status = %s, want open", question.Status)
	}

	// Re-opening an open question is a no-op.
	if _, err := reg.Open(context.Background(), "q1"); err != nil {
		t.Fatalf("second Open: %v", err)
	}
}

func TestOpenRejectsTerminalQuestion(t *testing.T) {
	reg, store := newTestRegistry(t)
	seedQuestion(t, store, model.QuestionCancelled)

	if _, err := reg.Open(context.Background(), "q1"); !errors.Is(err, model.ErrAlreadyResolved) {
		t.Fatalf("Open on cancelled = %v, want ErrAlreadyResolved", err)
	}
}

func TestResolveMarksAnswerAndQuestion(t *testing.T) {
	reg, store := newTestRegistry(t)
	seedQuestion(t, store, model.QuestionOpen)
	answer := seedAnswer(t, reg, "q1", "helper")

	if err := reg.Resolve(context.Background(), "q1", answer.ID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	question, _ := store.GetQuestion(context.Background(), "q1")
	if question.Status != model.QuestionResolved || question.BestAnswerID != answer.ID {
		t.Fatalf("question after resolve: %+v", question)
	}
	stored, _ := store.GetAnswer(context.Background(), answer.ID)
	if stored.Status != model.AnswerSelected {
		t.Fatalf("answer status = %s, want selected", stored.Status)
	}

	// Same answer again: idempotent.
	if err := reg.Resolve(context.Background(), "q1", answer.ID); err != nil {
		t.Fatalf("repeated Resolve: %v", err)
	}
}

func TestResolveRejectsConflictingAnswer(t *testing.T) {
	reg, store := newTestRegistry(t)
	seedQuestion(t, store, model.QuestionOpen)
	first := seedAnswer(t, reg, "q1", "helper1")
	second := seedAnswer(t, reg, "q1", "helper2")

	if err := reg.Resolve(context.Background(), "q1", first.ID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := reg.Resolve(context.Background(), "q1", second.ID); !errors.Is(err, model.ErrAlreadyResolved) {
		t.Fatalf("conflicting Resolve = %v, want ErrAlreadyResolved", err)
	}

	question, _ := store.GetQuestion(context.Background(), "q1")
	if question.BestAnswerID != first.ID {
		t.Fatalf("best answer changed to %s", question.BestAnswerID)
	}
}

func TestAppendAnswerAfterResolveIsRejected(t *testing.T) {
	reg, store := newTestRegistry(t)
	seedQuestion(t, store, model.QuestionOpen)
	answer := seedAnswer(t, reg, "q1", "helper")
	if err := reg.Resolve(context.Background(), "q1", answer.ID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	late := &model.Answer{QuestionID: "q1", AnswererID: "latecomer", Text: "too late"}
	if err := reg.AppendAnswer(context.Background(), late); !errors.Is(err, model.ErrQuestionResolved) {
		t.Fatalf("AppendAnswer after resolve = %v, want ErrQuestionResolved", err)
	}

	question, _ := store.GetQuestion(context.Background(), "q1")
	if len(question.AnswerIDs) != 1 {
		t.Fatalf("rejected answer must not appear in sequence: %v", question.AnswerIDs)
	}
}

func TestCancelAndExpireAreIdempotent(t *testing.T) {
	reg, store := newTestRegistry(t)
	seedQuestion(t, store, model.QuestionOpen)

	if err := reg.Cancel(context.Background(), "q1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := reg.Cancel(context.Background(), "q1"); err != nil {
		t.Fatalf("repeated Cancel: %v", err)
	}
	if err := reg.Expire(context.Background(), "q1"); !errors.Is(err, model.ErrAlreadyResolved) {
		t.Fatalf("Expire on cancelled = %v, want ErrAlreadyResolved", err)
	}
}

func TestReportAnswerOncePerReporter(t *testing.T) {
	reg, store := newTestRegistry(t)
	seedQuestion(t, store, model.QuestionOpen)
	answer := seedAnswer(t, reg, "q1", "helper")

	report, err := reg.ReportAnswer(context.Background(), answer.ID, "asker", model.ReportSpam, "")
	if err != nil {
		t.Fatalf("ReportAnswer: %v", err)
	}
	if report.QuestionID != "q1" || report.AnswerID != answer.ID {
		t.Fatalf("report targets wrong entities: %+v", report)
	}

	stored, _ := store.GetAnswer(context.Background(), answer.ID)
	if stored.Status != model.AnswerReported {
		t.Fatalf("answer status = %s, want reported", stored.Status)
	}

	if _, err := reg.ReportAnswer(context.Background(), answer.ID, "asker", model.ReportAbusive, ""); !errors.Is(err, model.ErrDuplicateReport) {
		t.Fatalf("duplicate report = %v, want ErrDuplicateReport", err)
	}
	// A different reporter may still report the same answer.
	if _, err := reg.ReportAnswer(context.Background(), answer.ID, "other", model.ReportAbusive, ""); err != nil {
		t.Fatalf("second reporter: %v", err)
	}
}

func TestReportAnswerMissingTarget(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if _, err := reg.ReportAnswer(context.Background(), "ghost", "asker", model.ReportSpam, ""); !errors.Is(err, model.ErrReportTargetMissing) {
		t.Fatalf("ReportAnswer on missing answer = %v, want ErrReportTargetMissing", err)
	}
}

func TestReportQuestionPrompt(t *testing.T) {
	reg, store := newTestRegistry(t)
	seedQuestion(t, store, model.QuestionOpen)

	report, err := reg.ReportQuestion(context.Background(), "q1", "candidate", model.ReportAbusive, "hostile wording")
	if err != nil {
		t.Fatalf("ReportQuestion: %v", err)
	}
	if report.AnswerID != "" {
		t.Fatalf("question report must not reference an answer: %+v", report)
	}
	if _, err := reg.ReportQuestion(context.Background(), "ghost", "candidate", model.ReportSpam, ""); !errors.Is(err, model.ErrReportTargetMissing) {
		t.Fatalf("ReportQuestion on missing question = %v, want ErrReportTargetMissing", err)
	}
}

func TestConcurrentAppendsKeepSequenceIntact(t *testing.T) {
	reg, store := newTestRegistry(t)
	seedQuestion(t, store, model.QuestionOpen)

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			answer := &model.Answer{
				QuestionID: "q1",
				AnswererID: fmt.Sprintf("helper-%d", i),
				Text:       "a suggestion",
			}
			if err := reg.AppendAnswer(context.Background(), answer); err != nil {
				t.Errorf("AppendAnswer: %v", err)
			}
		}(i)
	}
	wg.Wait()

	question, _ := store.GetQuestion(context.Background(), "q1")
	if len(question.AnswerIDs) != workers {
		t.Fatalf("answer sequence lost entries: %d of %d", len(question.AnswerIDs), workers)
	}
	seen := make(map[string]bool, workers)
	for _, id := range question.AnswerIDs {
		if seen[id] {
			t.Fatalf("duplicate answer id in sequence: %s", id)
		}
		seen[id] = true
	}
}
