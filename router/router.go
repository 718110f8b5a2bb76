// Package router delivers question prompts to candidates and routes their
// responses (answer, decline, remind-later, report) back into the registry,
// forwarding answers to askers with anonymity honoured.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"AskBot/matching"
	"AskBot/model"
	"AskBot/registry"
	"AskBot/repo"
)

// Transport sends one outbound message to one user. Implementations must be
// safe for concurrent use.
type Transport interface {
	Send(ctx context.Context, to *model.User, msg model.Outbound) error
}

// FlowInterrupter cancels a user's in-progress dialogue before an unrelated
// prompt is shown to them. The dialogue layer implements it; partial state
// is never silently overwritten.
type FlowInterrupter interface {
	InterruptFlow(ctx context.Context, userID string)
}

const (
	defaultRemindDelay    = time.Hour
	defaultMaxSendRetries = 4
)

type Router struct {
	store     repo.Store
	registry  *registry.Registry
	engine    *matching.Engine
	transport Transport
	cache     repo.PayloadCache
	interrupt FlowInterrupter

	// RemindDelay is how long a "remind me later" defers re-delivery.
	RemindDelay time.Duration
	// MaxSendRetries bounds the exponential backoff on outbound sends.
	MaxSendRetries uint64
	// RetryInterval is the initial backoff interval.
	RetryInterval time.Duration

	mu        sync.Mutex
	reminders map[string]*time.Timer
	sends     sync.WaitGroup
}

func New(store repo.Store, reg *registry.Registry, engine *matching.Engine, transport Transport, cache repo.PayloadCache) *Router {
	return &Router{
		store:          store,
		registry:       reg,
		engine:         engine,
		transport:      transport,
		cache:          cache,
		RemindDelay:    defaultRemindDelay,
		MaxSendRetries: defaultMaxSendRetries,
		RetryInterval:  500 * time.Millisecond,
		reminders:      make(map[string]*time.Timer),
	}
}

// SetFlowInterrupter wires the dialogue layer in after construction; the
// two depend on each other only through this narrow hook.
func (r *Router) SetFlowInterrupter(interrupt FlowInterrupter) {
	r.interrupt = interrupt
}

// OpenQuestion transitions the question to Open and notifies the selected
// candidates. On ErrNoCandidates the asker is offered to retry with more
// people and the error is returned as the retry-later signal.
func (r *Router) OpenQuestion(ctx context.Context, questionID string) error {
	question, err := r.registry.Open(ctx, questionID)
	if err != nil {
		return err
	}
	if err := r.dispatch(ctx, question); err != nil {
		if errors.Is(err, model.ErrNoCandidates) {
			r.notifyNoCandidates(ctx, question)
		}
		return err
	}
	return nil
}

// AskMore re-invokes matching for the same question, excluding everyone
// already notified (they hold deliveries and are filtered by the engine).
func (r *Router) AskMore(ctx context.Context, questionID string) error {
	question, err := r.store.GetQuestion(ctx, questionID)
	if err != nil {
		return err
	}
	if question.Status != model.QuestionOpen {
		return model.ErrQuestionResolved
	}
	if err := r.dispatch(ctx, question); err != nil {
		if errors.Is(err, model.ErrNoCandidates) {
			r.notifyNoCandidates(ctx, question)
		}
		return err
	}
	return nil
}

func (r *Router) dispatch(ctx context.Context, question *model.Question) error {
	candidates, err := r.engine.Select(ctx, question, nil)
	if err != nil {
		return err
	}
	for _, candidate := range candidates {
		delivery := &model.Delivery{
			ID:          uuid.NewString(),
			QuestionID:  question.ID,
			CandidateID: candidate.ID,
			Status:      model.DeliverySent,
			CreatedAt:   time.Now(),
		}
		if err := r.store.SaveDelivery(ctx, delivery); err != nil {
			return err
		}
		out, err := r.questionPrompt(ctx, question, delivery)
		if err != nil {
			return err
		}
		r.notifyCandidate(candidate, out)
	}
	return nil
}

// questionPrompt builds the candidate-facing prompt for a question,
// including the safety banner variant when the question is sensitive and
// masking the asker when the question is anonymous.
func (r *Router) questionPrompt(ctx context.Context, question *model.Question, delivery *model.Delivery) (model.Outbound, error) {
	asker, err := r.store.GetUser(ctx, question.AskerID)
	if err != nil {
		return model.Outbound{}, err
	}

	key := "answer_message_0"
	if question.Sensitive {
		key = "answer_sensitive_message_0"
	}

	data := map[string]string{
		"question_id": question.ID,
		"delivery_id": delivery.ID,
	}
	intents := []string{
		model.IntentAnswerQuestion,
		model.IntentAnswerRemindLater,
		model.IntentAnswerNot,
		model.IntentQuestionReport,
	}
	labels := []string{
		"answer_question_button",
		"answer_remind_later_button",
		"answer_not_button",
		"answer_report_button",
	}

	ids := make([]string, len(intents))
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	buttons := make([]model.Button, len(intents))
	for i, intent := range intents {
		payload := &model.ButtonPayload{Intent: intent, Data: data, Related: ids}
		if err := r.cache.Put(ctx, ids[i], payload); err != nil {
			return model.Outbound{}, err
		}
		buttons[i] = model.Button{LabelKey: labels[i], PayloadID: ids[i]}
	}

	return model.Outbound{
		Key: key,
		Params: map[string]string{
			"question": question.Text,
			"user":     asker.DisplayName(question.Anonymous),
		},
		Buttons: buttons,
	}, nil
}

func (r *Router) notifyNoCandidates(ctx context.Context, question *model.Question) {
	asker, err := r.store.GetUser(ctx, question.AskerID)
	if err != nil {
		log.Error().Err(err).Str("question", question.ID).Msg("cannot notify asker about missing candidates")
		return
	}
	id := uuid.NewString()
	payload := &model.ButtonPayload{
		Intent: model.IntentAskMoreAnswers,
		Data:   map[string]string{"question_id": question.ID},
	}
	if err := r.cache.Put(ctx, id, payload); err != nil {
		log.Error().Err(err).Msg("cannot cache ask-more payload")
		return
	}
	r.sendAsync(asker, model.Outbound{
		Key:     "no_candidates_text",
		Buttons: []model.Button{{LabelKey: "more_answers_button", PayloadID: id}},
	})
}

// SubmitAnswer appends the answer to the question, closes the answerer's
// delivery and forwards the answer to the asker with the answerer's
// identity masked when requested.
func (r *Router) SubmitAnswer(ctx context.Context, questionID, answererID, text string, anonymous bool) error {
	if strings.TrimSpace(text) == "" {
		return model.ErrInvalidInputShape
	}
	answer := &model.Answer{
		ID:         uuid.NewString(),
		QuestionID: questionID,
		AnswererID: answererID,
		Text:       text,
		Anonymous:  anonymous,
		CreatedAt:  time.Now(),
	}
	if err := r.registry.AppendAnswer(ctx, answer); err != nil {
		return err
	}

	deliveries, err := r.store.ListDeliveriesByQuestion(ctx, questionID)
	if err != nil {
		return err
	}
	for _, delivery := range deliveries {
		if delivery.CandidateID == answererID && delivery.Status.Active() {
			r.cancelReminder(delivery.ID)
			delivery.Status = model.DeliveryAnswered
			delivery.RemindAt = nil
			if err := r.store.SaveDelivery(ctx, delivery); err != nil {
				return err
			}
			break
		}
	}

	question, err := r.store.GetQuestion(ctx, questionID)
	if err != nil {
		return err
	}
	asker, err := r.store.GetUser(ctx, question.AskerID)
	if err != nil {
		return err
	}
	answerer, err := r.store.GetUser(ctx, answererID)
	if err != nil {
		return err
	}

	data := map[string]string{
		"question_id": questionID,
		"answer_id":   answer.ID,
	}
	intents := []string{model.IntentBestAnswer, model.IntentAskMoreAnswers, model.IntentAnswerReport}
	labels := []string{"best_answer_button", "more_answers_button", "answer_report_button"}
	ids := make([]string, len(intents))
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	buttons := make([]model.Button, len(intents))
	for i, intent := range intents {
		payload := &model.ButtonPayload{Intent: intent, Data: data, Related: ids}
		if err := r.cache.Put(ctx, ids[i], payload); err != nil {
			return err
		}
		buttons[i] = model.Button{LabelKey: labels[i], PayloadID: ids[i]}
	}

	r.sendAsync(asker, model.Outbound{
		Key: "new_answer_message",
		Params: map[string]string{
			"question": question.Text,
			"answer":   text,
			"username": answerer.DisplayName(anonymous),
		},
		Buttons: buttons,
	})
	return nil
}

// SelectBestAnswer resolves the question, closes the remaining deliveries
// and notifies the selected answerer.
func (r *Router) SelectBestAnswer(ctx context.Context, questionID, answerID string) error {
	if err := r.registry.Resolve(ctx, questionID, answerID); err != nil {
		return err
	}
	question, err := r.store.GetQuestion(ctx, questionID)
	if err != nil {
		return err
	}
	if err := r.expireDeliveries(ctx, questionID); err != nil {
		return err
	}

	answer, err := r.store.GetAnswer(ctx, answerID)
	if err != nil {
		return err
	}
	answerer, err := r.store.GetUser(ctx, answer.AnswererID)
	if err != nil {
		return err
	}
	r.sendAsync(answerer, model.Outbound{
		Key:    "picked_best_answer",
		Params: map[string]string{"question": question.Text},
	})
	r.ack(ctx, question.AskerID, "best_answer_final_message", nil)
	return nil
}

// DeclineDelivery closes the candidate's obligation without side effects on
// other candidates. A no-op when the delivery is already closed.
func (r *Router) DeclineDelivery(ctx context.Context, deliveryID string) error {
	delivery, err := r.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return err
	}
	if !delivery.Status.Active() {
		return nil
	}
	r.cancelReminder(deliveryID)
	delivery.Status = model.DeliveryDeclined
	delivery.RemindAt = nil
	if err := r.store.SaveDelivery(ctx, delivery); err != nil {
		return err
	}
	r.ack(ctx, delivery.CandidateID, "not_answer_response", nil)
	return nil
}

// RemindLater schedules a single deferred re-delivery of the prompt. A
// second remind-later on an already-remindered delivery is a no-op; the
// timer is cancelled if the delivery transitions away before it fires.
func (r *Router) RemindLater(ctx context.Context, deliveryID string) error {
	delivery, err := r.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return err
	}
	if delivery.Status != model.DeliverySent {
		return nil
	}
	at := time.Now().Add(r.RemindDelay)
	delivery.Status = model.DeliveryRemindered
	delivery.RemindAt = &at
	if err := r.store.SaveDelivery(ctx, delivery); err != nil {
		return err
	}

	r.mu.Lock()
	r.reminders[deliveryID] = time.AfterFunc(r.RemindDelay, func() {
		r.fireReminder(deliveryID)
	})
	r.mu.Unlock()

	r.ack(ctx, delivery.CandidateID, "answer_remind_later_message", nil)
	return nil
}

// fireReminder re-delivers the prompt when the reminder elapses. A stale
// fire, after the delivery already left Remindered, is a no-op.
func (r *Router) fireReminder(deliveryID string) {
	ctx := context.Background()

	r.mu.Lock()
	delete(r.reminders, deliveryID)
	r.mu.Unlock()

	delivery, err := r.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		log.Error().Err(err).Str("delivery", deliveryID).Msg("reminder fired for unknown delivery")
		return
	}
	if delivery.Status != model.DeliveryRemindered {
		return
	}

	question, err := r.store.GetQuestion(ctx, delivery.QuestionID)
	if err != nil {
		log.Error().Err(err).Str("delivery", deliveryID).Msg("reminder fired for unknown question")
		return
	}
	if question.Status != model.QuestionOpen {
		delivery.Status = model.DeliveryExpired
		delivery.RemindAt = nil
		if err := r.store.SaveDelivery(ctx, delivery); err != nil {
			log.Error().Err(err).Str("delivery", deliveryID).Msg("cannot expire delivery")
		}
		return
	}

	delivery.Status = model.DeliverySent
	delivery.RemindAt = nil
	if err := r.store.SaveDelivery(ctx, delivery); err != nil {
		log.Error().Err(err).Str("delivery", deliveryID).Msg("cannot reset remindered delivery")
		return
	}

	candidate, err := r.store.GetUser(ctx, delivery.CandidateID)
	if err != nil {
		log.Error().Err(err).Str("delivery", deliveryID).Msg("reminder fired for unknown candidate")
		return
	}
	out, err := r.questionPrompt(ctx, question, delivery)
	if err != nil {
		log.Error().Err(err).Str("delivery", deliveryID).Msg("cannot rebuild question prompt")
		return
	}
	r.notifyCandidate(candidate, out)
}

// ReportAnswer routes an answer report into the registry and acknowledges
// the reporter.
func (r *Router) ReportAnswer(ctx context.Context, answerID, reporterID string, reason model.ReportReason, comment string) error {
	if _, err := r.registry.ReportAnswer(ctx, answerID, reporterID, reason, comment); err != nil {
		return err
	}
	r.ack(ctx, reporterID, "report_final_message", nil)
	return nil
}

// ReportQuestion handles a candidate reporting the question prompt itself,
// closing their delivery obligation.
func (r *Router) ReportQuestion(ctx context.Context, deliveryID, reporterID string, reason model.ReportReason, comment string) error {
	delivery, err := r.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return err
	}
	if _, err := r.registry.ReportQuestion(ctx, delivery.QuestionID, reporterID, reason, comment); err != nil {
		return err
	}
	r.cancelReminder(deliveryID)
	delivery.Status = model.DeliveryReported
	delivery.RemindAt = nil
	if err := r.store.SaveDelivery(ctx, delivery); err != nil {
		return err
	}
	r.ack(ctx, reporterID, "report_final_message", nil)
	return nil
}

// ExpireStale expires open questions older than maxAge, together with their
// outstanding deliveries, and tells the asker.
func (r *Router) ExpireStale(ctx context.Context, maxAge time.Duration) {
	questions, err := r.store.ListOpenQuestions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("cannot list open questions")
		return
	}
	cutoff := time.Now().Add(-maxAge)
	for _, question := range questions {
		if !question.CreatedAt.Before(cutoff) {
			continue
		}
		if err := r.registry.Expire(ctx, question.ID); err != nil {
			log.Error().Err(err).Str("question", question.ID).Msg("cannot expire question")
			continue
		}
		if err := r.expireDeliveries(ctx, question.ID); err != nil {
			log.Error().Err(err).Str("question", question.ID).Msg("cannot expire deliveries")
		}
		r.ack(ctx, question.AskerID, "question_expired_message", map[string]string{"question": question.Text})
	}
}

func (r *Router) expireDeliveries(ctx context.Context, questionID string) error {
	deliveries, err := r.store.ListDeliveriesByQuestion(ctx, questionID)
	if err != nil {
		return err
	}
	for _, delivery := range deliveries {
		if !delivery.Status.Active() {
			continue
		}
		r.cancelReminder(delivery.ID)
		delivery.Status = model.DeliveryExpired
		delivery.RemindAt = nil
		if err := r.store.SaveDelivery(ctx, delivery); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) cancelReminder(deliveryID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if timer, ok := r.reminders[deliveryID]; ok {
		timer.Stop()
		delete(r.reminders, deliveryID)
	}
}

func (r *Router) ack(ctx context.Context, userID, key string, params map[string]string) {
	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user", userID).Msg("cannot load user for acknowledgement")
		return
	}
	r.sendAsync(user, model.Outbound{Key: key, Params: params})
}

// sendAsync delivers the message in the background with bounded exponential
// backoff. No operation blocks the dialogue of an unrelated user; after
// retries are exhausted the failure is logged as permanent and the delivery
// is left for re-trigger.
func (r *Router) sendAsync(to *model.User, out model.Outbound) {
	r.sends.Add(1)
	go func() {
		defer r.sends.Done()
		r.deliver(to, out)
	}()
}

func (r *Router) deliver(to *model.User, out model.Outbound) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.RetryInterval
	op := func() error {
		return r.transport.Send(context.Background(), to, out)
	}
	if err := backoff.Retry(op, backoff.WithMaxRetries(bo, r.MaxSendRetries)); err != nil {
		log.Error().
			Err(fmt.Errorf("%w: %v", model.ErrDeliveryFailure, err)).
			Str("user", to.ID).
			Str("key", out.Key).
			Msg("permanent delivery failure")
	}
}

// notifyCandidate interrupts the candidate's dialogue, then delivers the
// prompt. Both happen off the caller's goroutine: the caller may itself be
// a dialogue handler holding another user's session, so interrupting
// inline could block one conversation on another.
func (r *Router) notifyCandidate(candidate *model.User, out model.Outbound) {
	r.sends.Add(1)
	go func() {
		defer r.sends.Done()
		if r.interrupt != nil {
			r.interrupt.InterruptFlow(context.Background(), candidate.ID)
		}
		r.deliver(candidate, out)
	}()
}

// Wait blocks until all in-flight sends have finished.
func (r *Router) Wait() {
	r.sends.Wait()
}

// Shutdown stops pending reminder timers and waits for in-flight sends.
func (r *Router) Shutdown() {
	r.mu.Lock()
	for id, timer := range r.reminders {
		timer.Stop()
		delete(r.reminders, id)
	}
	r.mu.Unlock()
	r.sends.Wait()
}
