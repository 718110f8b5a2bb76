// Package handler drives the per-user dialogue: the question wizard, answer
// composition and report flows. Each user has a single session holding the
// current state and its draft payload; sessions are isolated from each
// other.
package handler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"AskBot/model"
	"AskBot/repo"
	"AskBot/router"
)

// Inbound is a transport-neutral incoming event: either a typed message or
// a button choice. Choice carries the raw callback data.
type Inbound struct {
	UserID        string
	ChatID        int64
	Name          string
	Locale        string
	Text          string
	Choice        string
	HasAttachment bool
}

// maxProposedQuestions bounds the /answer listing.
const maxProposedQuestions = 3

type session struct {
	sync.Mutex
	model.UserState
}

type HelpBotHandler struct {
	store     repo.Store
	router    *router.Router
	transport router.Transport
	cache     repo.PayloadCache

	// BadgeBoardURL links to the external badge board; only ever passed
	// through as an opaque parameter.
	BadgeBoardURL string

	mu       sync.Mutex
	sessions map[string]*session
}

func New(store repo.Store, rt *router.Router, transport router.Transport, cache repo.PayloadCache) *HelpBotHandler {
	return &HelpBotHandler{
		store:     store,
		router:    rt,
		transport: transport,
		cache:     cache,
		sessions:  make(map[string]*session),
	}
}

func (h *HelpBotHandler) session(userID string) *session {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[userID]
	if !ok {
		s = &session{}
		h.sessions[userID] = s
	}
	return s
}

// Handle processes one inbound event for one user.
func (h *HelpBotHandler) Handle(ctx context.Context, in Inbound) {
	user, err := h.ensureUser(ctx, in)
	if err != nil {
		log.Error().Err(err).Str("user", in.UserID).Msg("cannot load user")
		return
	}

	s := h.session(user.ID)
	s.Lock()
	defer s.Unlock()
	st := &s.UserState

	if strings.HasPrefix(in.Choice, repo.PayloadDataPrefix) {
		h.handlePayload(ctx, user, st, strings.TrimPrefix(in.Choice, repo.PayloadDataPrefix))
		return
	}

	input := in.Text
	if in.Choice != "" {
		input = in.Choice
	}

	// Cancel is valid from every non-idle state.
	if input == "/cancel" || input == model.IntentCancel {
		h.cancelFlow(ctx, user, st)
		return
	}

	switch st.State {
	case model.StateIdle:
		h.handleCommand(ctx, user, st, input)

	case model.StateAwaitingQuestionText:
		if in.HasAttachment || strings.TrimSpace(in.Text) == "" {
			h.send(ctx, user, model.Outbound{Key: "question_is_not_text"})
			return
		}
		st.Draft = &model.Question{
			ID:        uuid.NewString(),
			AskerID:   user.ID,
			Text:      in.Text,
			Status:    model.QuestionDraft,
			CreatedAt: time.Now(),
		}
		st.State = model.StateAwaitingDomain
		h.send(ctx, user, h.prompt(st.State))

	case model.StateAwaitingDomain:
		h.applyPreference(ctx, user, st, model.FieldDomain, input, model.StateAwaitingDomainSimilarity)

	case model.StateAwaitingDomainSimilarity:
		h.applyPreference(ctx, user, st, model.FieldSimilarity, input, model.StateAwaitingSensitivity)

	case model.StateAwaitingSensitivity:
		h.applyPreference(ctx, user, st, model.FieldSensitive, input, model.StateAwaitingSocialCloseness)

	case model.StateAwaitingSocialCloseness:
		h.applyPreference(ctx, user, st, model.FieldCloseness, input, model.StateAwaitingProximity)

	case model.StateAwaitingProximity:
		h.applyPreference(ctx, user, st, model.FieldProximity, input, model.StateAwaitingAskerAnonymity)

	case model.StateAwaitingAskerAnonymity:
		if st.Draft == nil {
			st.Reset()
			h.send(ctx, user, model.Outbound{Key: "error_text"})
			return
		}
		if err := st.Draft.ApplyPreference(model.FieldAnonymous, input); err != nil {
			h.send(ctx, user, model.Outbound{Key: "invalid_choice"})
			h.send(ctx, user, h.prompt(st.State))
			return
		}
		h.openQuestion(ctx, user, st)

	case model.StateAwaitingAnswerText:
		h.collectAnswerText(ctx, user, st, in)

	case model.StateAwaitingAnswererAnonymity:
		if st.AnswerDraft == nil {
			st.Reset()
			h.send(ctx, user, model.Outbound{Key: "error_text"})
			return
		}
		switch input {
		case "yes":
			h.submitAnswer(ctx, user, st, true)
		case "no":
			h.submitAnswer(ctx, user, st, false)
		default:
			h.send(ctx, user, model.Outbound{Key: "invalid_choice"})
			h.send(ctx, user, h.prompt(st.State))
		}

	case model.StateAwaitingReportReason:
		if st.ReportDraft == nil {
			st.Reset()
			h.send(ctx, user, model.Outbound{Key: "error_text"})
			return
		}
		reason := model.ReportReason(input)
		if !reason.Valid() {
			h.send(ctx, user, model.Outbound{Key: "invalid_choice"})
			h.send(ctx, user, h.prompt(st.State))
			return
		}
		st.ReportDraft.Reason = reason
		if reason == model.ReportOther {
			st.State = model.StateAwaitingReportComment
			h.send(ctx, user, model.Outbound{Key: "report_comment_prompt"})
			return
		}
		h.submitReport(ctx, user, st, "")

	case model.StateAwaitingReportComment:
		if st.ReportDraft == nil {
			st.Reset()
			h.send(ctx, user, model.Outbound{Key: "error_text"})
			return
		}
		if in.HasAttachment {
			h.send(ctx, user, model.Outbound{Key: "report_comment_prompt"})
			return
		}
		h.submitReport(ctx, user, st, in.Text)
	}
}

func (h *HelpBotHandler) handleCommand(ctx context.Context, user *model.User, st *model.UserState, input string) {
	switch input {
	case "/start":
		h.send(ctx, user, model.Outbound{Key: "start_text_1", Params: map[string]string{"user": user.Name}})
		h.send(ctx, user, model.Outbound{Key: "start_text_2"})
		if h.BadgeBoardURL != "" {
			h.send(ctx, user, model.Outbound{Key: "badges_promo", Params: map[string]string{"badge_url": h.BadgeBoardURL}})
		}
	case "/help":
		h.send(ctx, user, model.Outbound{Key: "info_text"})
	case "/question":
		st.State = model.StateAwaitingQuestionText
		h.send(ctx, user, model.Outbound{Key: "question_1"})
	case "/answer":
		h.proposeQuestions(ctx, user)
	default:
		h.send(ctx, user, model.Outbound{Key: "unknown_command"})
	}
}

func (h *HelpBotHandler) applyPreference(ctx context.Context, user *model.User, st *model.UserState, field model.PreferenceField, value string, next int) {
	if st.Draft == nil {
		st.Reset()
		h.send(ctx, user, model.Outbound{Key: "error_text"})
		return
	}
	if err := st.Draft.ApplyPreference(field, value); err != nil {
		h.send(ctx, user, model.Outbound{Key: "invalid_choice"})
		h.send(ctx, user, h.prompt(st.State))
		return
	}
	st.State = next
	h.send(ctx, user, h.prompt(next))
}

// prompt returns the outbound message a given awaiting state shows, so
// invalid input can re-prompt identically.
func (h *HelpBotHandler) prompt(state int) model.Outbound {
	switch state {
	case model.StateAwaitingDomain:
		return model.Outbound{Key: "question_domain", Buttons: domainButtons()}
	case model.StateAwaitingDomainSimilarity:
		return model.Outbound{Key: "question_similarity", Buttons: []model.Button{
			{LabelKey: "similarity_similar", Intent: string(model.SimilarDomain)},
			{LabelKey: "similarity_different", Intent: string(model.DifferentDomain)},
			{LabelKey: "similarity_indifferent", Intent: string(model.IndifferentDomain)},
		}}
	case model.StateAwaitingSensitivity:
		return model.Outbound{Key: "question_sensitive", Buttons: []model.Button{
			{LabelKey: "sensitive", Intent: "yes"},
			{LabelKey: "not_sensitive", Intent: "no"},
		}}
	case model.StateAwaitingSocialCloseness:
		return model.Outbound{Key: "question_closeness", Buttons: []model.Button{
			{LabelKey: "closeness_closer", Intent: string(model.CloserTie)},
			{LabelKey: "closeness_distant", Intent: string(model.DistantTie)},
			{LabelKey: "closeness_indifferent", Intent: string(model.IndifferentTie)},
		}}
	case model.StateAwaitingProximity:
		return model.Outbound{Key: "question_proximity", Buttons: []model.Button{
			{LabelKey: "location_nearby", Intent: string(model.Nearby)},
			{LabelKey: "location_anywhere", Intent: string(model.Anywhere)},
		}}
	case model.StateAwaitingAskerAnonymity:
		return model.Outbound{Key: "question_anonymous", Buttons: []model.Button{
			{LabelKey: "anonymous", Intent: "yes"},
			{LabelKey: "not_anonymous", Intent: "no"},
		}}
	case model.StateAwaitingAnswererAnonymity:
		return model.Outbound{Key: "answer_anonymously", Buttons: []model.Button{
			{LabelKey: "anonymous_answer_yes", Intent: "yes"},
			{LabelKey: "anonymous_answer_no", Intent: "no"},
		}}
	case model.StateAwaitingReportReason:
		return model.Outbound{Key: "why_reporting_message", Buttons: []model.Button{
			{LabelKey: "button_why_reporting_abusive", Intent: string(model.ReportAbusive)},
			{LabelKey: "button_why_reporting_spam", Intent: string(model.ReportSpam)},
			{LabelKey: "button_why_reporting_other", Intent: string(model.ReportOther)},
			{LabelKey: "cancel_button", Intent: model.IntentCancel},
		}}
	}
	return model.Outbound{Key: "error_text"}
}

func domainButtons() []model.Button {
	domains := model.Domains()
	buttons := make([]model.Button, len(domains))
	for i, domain := range domains {
		buttons[i] = model.Button{LabelKey: "domain_" + string(domain), Intent: string(domain)}
	}
	return buttons
}

// openQuestion persists the finished draft and hands it to the router.
func (h *HelpBotHandler) openQuestion(ctx context.Context, user *model.User, st *model.UserState) {
	draft := st.Draft
	st.Reset()

	if err := h.store.SaveQuestion(ctx, draft); err != nil {
		log.Error().Err(err).Str("question", draft.ID).Msg("cannot save question draft")
		h.send(ctx, user, model.Outbound{Key: "error_text"})
		return
	}
	err := h.router.OpenQuestion(ctx, draft.ID)
	if err != nil && !errors.Is(err, model.ErrNoCandidates) {
		log.Error().Err(err).Str("question", draft.ID).Msg("cannot open question")
		h.send(ctx, user, model.Outbound{Key: "error_text"})
		return
	}
	// On ErrNoCandidates the router has already offered "ask more people".
	h.send(ctx, user, model.Outbound{Key: "question_final"})
}

func (h *HelpBotHandler) collectAnswerText(ctx context.Context, user *model.User, st *model.UserState, in Inbound) {
	if in.HasAttachment || strings.TrimSpace(in.Text) == "" {
		h.send(ctx, user, model.Outbound{Key: "answerer_is_not_text"})
		return
	}
	if st.AnswerDraft == nil {
		st.Reset()
		h.send(ctx, user, model.Outbound{Key: "error_text"})
		return
	}
	st.AnswerDraft.Text = in.Text

	question, err := h.store.GetQuestion(ctx, st.AnswerDraft.QuestionID)
	if err != nil {
		st.Reset()
		h.send(ctx, user, model.Outbound{Key: "error_text"})
		return
	}
	if question.Sensitive {
		st.State = model.StateAwaitingAnswererAnonymity
		h.send(ctx, user, h.prompt(st.State))
		return
	}
	h.submitAnswer(ctx, user, st, false)
}

func (h *HelpBotHandler) submitAnswer(ctx context.Context, user *model.User, st *model.UserState, anonymous bool) {
	draft := st.AnswerDraft
	st.Reset()

	err := h.router.SubmitAnswer(ctx, draft.QuestionID, user.ID, draft.Text, anonymous)
	switch {
	case errors.Is(err, model.ErrQuestionResolved):
		h.send(ctx, user, model.Outbound{Key: "question_resolved_message"})
	case errors.Is(err, model.ErrInvalidInputShape):
		h.send(ctx, user, model.Outbound{Key: "answerer_is_not_text"})
	case err != nil:
		log.Error().Err(err).Str("question", draft.QuestionID).Msg("cannot submit answer")
		h.send(ctx, user, model.Outbound{Key: "error_text"})
	case anonymous:
		h.send(ctx, user, model.Outbound{Key: "answered_message_anonymously"})
	default:
		h.send(ctx, user, model.Outbound{Key: "answered_message"})
	}
}

func (h *HelpBotHandler) submitReport(ctx context.Context, user *model.User, st *model.UserState, comment string) {
	draft := st.ReportDraft
	st.Reset()

	var err error
	if draft.AnswerID != "" {
		err = h.router.ReportAnswer(ctx, draft.AnswerID, user.ID, draft.Reason, comment)
	} else {
		err = h.router.ReportQuestion(ctx, draft.DeliveryID, user.ID, draft.Reason, comment)
	}
	switch {
	case errors.Is(err, model.ErrDuplicateReport):
		h.send(ctx, user, model.Outbound{Key: "report_duplicate_message"})
	case err != nil:
		log.Error().Err(err).Str("user", user.ID).Msg("cannot submit report")
		h.send(ctx, user, model.Outbound{Key: "error_text"})
	}
	// On success the router acknowledges with report_final_message.
}

// proposeQuestions lists up to three open questions the user could answer.
func (h *HelpBotHandler) proposeQuestions(ctx context.Context, user *model.User) {
	questions, err := h.store.ListOpenQuestions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("cannot list open questions")
		h.send(ctx, user, model.Outbound{Key: "error_text"})
		return
	}

	var proposed []*model.Question
	for _, question := range questions {
		if question.AskerID == user.ID {
			continue
		}
		if h.hasAnswered(ctx, question, user.ID) {
			continue
		}
		proposed = append(proposed, question)
		if len(proposed) == maxProposedQuestions {
			break
		}
	}
	if len(proposed) == 0 {
		h.send(ctx, user, model.Outbound{Key: "answers_no_tasks"})
		return
	}

	h.send(ctx, user, model.Outbound{Key: "answers_tasks_intro"})
	for _, question := range proposed {
		asker, err := h.store.GetUser(ctx, question.AskerID)
		if err != nil {
			continue
		}
		id := uuid.NewString()
		payload := &model.ButtonPayload{
			Intent: model.IntentAnswerQuestion,
			Data:   map[string]string{"question_id": question.ID},
		}
		if err := h.cache.Put(ctx, id, payload); err != nil {
			log.Error().Err(err).Msg("cannot cache answer payload")
			continue
		}
		key := "answer_message_0"
		if question.Sensitive {
			key = "answer_sensitive_message_0"
		}
		h.send(ctx, user, model.Outbound{
			Key: key,
			Params: map[string]string{
				"question": question.Text,
				"user":     asker.DisplayName(question.Anonymous),
			},
			Buttons: []model.Button{{LabelKey: "answer_question_button", PayloadID: id}},
		})
	}
}

func (h *HelpBotHandler) hasAnswered(ctx context.Context, question *model.Question, userID string) bool {
	for _, answerID := range question.AnswerIDs {
		answer, err := h.store.GetAnswer(ctx, answerID)
		if err == nil && answer.AnswererID == userID {
			return true
		}
	}
	return false
}

func (h *HelpBotHandler) handlePayload(ctx context.Context, user *model.User, st *model.UserState, id string) {
	payload, err := h.cache.Get(ctx, id)
	if err != nil {
		h.send(ctx, user, model.Outbound{Key: "expired_button_message"})
		return
	}
	// A pressed button invalidates itself and its siblings.
	if len(payload.Related) > 0 {
		if err := h.cache.Remove(ctx, payload.Related...); err != nil {
			log.Error().Err(err).Msg("cannot invalidate related buttons")
		}
	} else if err := h.cache.Remove(ctx, id); err != nil {
		log.Error().Err(err).Msg("cannot invalidate button")
	}

	switch payload.Intent {
	case model.IntentAnswerQuestion:
		h.startAnswerFlow(ctx, user, st, payload)

	case model.IntentAnswerRemindLater:
		if err := h.router.RemindLater(ctx, payload.Data["delivery_id"]); err != nil {
			log.Error().Err(err).Msg("cannot schedule reminder")
			h.send(ctx, user, model.Outbound{Key: "error_text"})
		}

	case model.IntentAnswerNot:
		if err := h.router.DeclineDelivery(ctx, payload.Data["delivery_id"]); err != nil {
			log.Error().Err(err).Msg("cannot decline delivery")
			h.send(ctx, user, model.Outbound{Key: "error_text"})
		}

	case model.IntentQuestionReport, model.IntentAnswerReport:
		if !st.Idle() {
			h.interruptLocked(ctx, user, st)
		}
		st.ReportDraft = &model.ReportDraft{
			QuestionID: payload.Data["question_id"],
			AnswerID:   payload.Data["answer_id"],
			DeliveryID: payload.Data["delivery_id"],
		}
		st.State = model.StateAwaitingReportReason
		h.send(ctx, user, h.prompt(st.State))

	case model.IntentBestAnswer:
		err := h.router.SelectBestAnswer(ctx, payload.Data["question_id"], payload.Data["answer_id"])
		if errors.Is(err, model.ErrAlreadyResolved) {
			h.send(ctx, user, model.Outbound{Key: "question_resolved_message"})
		} else if err != nil {
			log.Error().Err(err).Msg("cannot select best answer")
			h.send(ctx, user, model.Outbound{Key: "error_text"})
		}

	case model.IntentAskMoreAnswers:
		err := h.router.AskMore(ctx, payload.Data["question_id"])
		switch {
		case err == nil:
			h.send(ctx, user, model.Outbound{Key: "ask_more_answers_text"})
		case errors.Is(err, model.ErrNoCandidates):
			// The router has already told the asker.
		case errors.Is(err, model.ErrQuestionResolved):
			h.send(ctx, user, model.Outbound{Key: "question_resolved_message"})
		default:
			log.Error().Err(err).Msg("cannot ask more people")
			h.send(ctx, user, model.Outbound{Key: "error_text"})
		}

	default:
		log.Warn().Str("intent", payload.Intent).Msg("unrecognized button intent")
	}
}

func (h *HelpBotHandler) startAnswerFlow(ctx context.Context, user *model.User, st *model.UserState, payload *model.ButtonPayload) {
	if !st.Idle() {
		h.interruptLocked(ctx, user, st)
	}
	questionID := payload.Data["question_id"]
	question, err := h.store.GetQuestion(ctx, questionID)
	if err != nil {
		h.send(ctx, user, model.Outbound{Key: "error_text"})
		return
	}
	if question.Status != model.QuestionOpen {
		h.send(ctx, user, model.Outbound{Key: "question_resolved_message"})
		return
	}

	st.AnswerDraft = &model.AnswerDraft{
		QuestionID: questionID,
		DeliveryID: payload.Data["delivery_id"],
	}
	st.State = model.StateAwaitingAnswerText

	key := "answer_question"
	if question.Sensitive {
		key = "answer_sensitive_question"
	}
	h.send(ctx, user, model.Outbound{Key: key})

	first, err := h.cache.FirstAnswer(ctx, user.ID)
	if err == nil && first {
		h.send(ctx, user, model.Outbound{Key: "question_0"})
	}
}

// CancelActiveFlow discards the user's in-progress draft and returns the
// session to Idle.
func (h *HelpBotHandler) CancelActiveFlow(ctx context.Context, userID string) {
	user, err := h.store.GetUser(ctx, userID)
	if err != nil {
		return
	}
	s := h.session(userID)
	s.Lock()
	defer s.Unlock()
	h.cancelFlow(ctx, user, &s.UserState)
}

func (h *HelpBotHandler) cancelFlow(ctx context.Context, user *model.User, st *model.UserState) {
	if st.Idle() {
		h.send(ctx, user, model.Outbound{Key: "not_in_flow_text"})
		return
	}
	st.Reset()
	h.send(ctx, user, model.Outbound{Key: "cancel_text"})
}

// InterruptFlow implements router.FlowInterrupter: an unrelated inbound
// task cancels the user's flow exactly once and tells them, so partial
// state is never silently overwritten.
func (h *HelpBotHandler) InterruptFlow(ctx context.Context, userID string) {
	user, err := h.store.GetUser(ctx, userID)
	if err != nil {
		return
	}
	s := h.session(userID)
	s.Lock()
	defer s.Unlock()
	if s.Idle() {
		return
	}
	h.interruptLocked(ctx, user, &s.UserState)
}

func (h *HelpBotHandler) interruptLocked(ctx context.Context, user *model.User, st *model.UserState) {
	log.Debug().Err(model.ErrSessionConflict).Str("user", user.ID).Msg("cancelling active flow")
	st.Reset()
	h.send(ctx, user, model.Outbound{Key: "task_interrupted"})
}

func (h *HelpBotHandler) ensureUser(ctx context.Context, in Inbound) (*model.User, error) {
	user, err := h.store.GetUser(ctx, in.UserID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, model.ErrUserDoesNotExist) {
		return nil, err
	}
	locale := in.Locale
	if locale == "" {
		locale = "en"
	}
	user = &model.User{
		ID:        in.UserID,
		ChatID:    in.ChatID,
		Name:      in.Name,
		Locale:    locale,
		CreatedAt: time.Now(),
	}
	if err := h.store.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (h *HelpBotHandler) send(ctx context.Context, to *model.User, out model.Outbound) {
	if err := h.transport.Send(ctx, to, out); err != nil {
		log.Error().Err(err).Str("user", to.ID).Str("key", out.Key).Msg("error sending message")
	}
}
