package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"AskBot/matching"
	"AskBot/model"
	"AskBot/registry"
	"AskBot/repo"
)

type sent struct {
	to  string
	msg model.Outbound
}

// fakeTransport records outbound messages; failFirst makes the first N
// sends fail to exercise the retry path.
type fakeTransport struct {
	mu        sync.Mutex
	messages  []sent
	failFirst int
	attempts  int
}

func (f *fakeTransport) Send(_ context.Context, to *model.User, msg model.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.failFirst {
		return errors.New("transport unavailable")
	}
	f.messages = append(f.messages, sent{to: to.ID, msg: msg})
	return nil
}

func (f *fakeTransport) byKey(key string) []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sent
	for _, s := range f.messages {
		if s.msg.Key == key {
			out = append(out, s)
		}
	}
	return out
}

type fixture struct {
	router    *Router
	store     *repo.MemoryStore
	cache     *repo.MemoryCache
	transport *fakeTransport
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repo.NewMemoryStore()
	cache := repo.NewMemoryCache()
	transport := &fakeTransport{}
	reg := registry.New(store)
	engine := matching.New(store, matching.NewWeightedScorer())
	rt := New(store, reg, engine, transport, cache)
	rt.RetryInterval = time.Millisecond
	rt.RemindDelay = 20 * time.Millisecond
	t.Cleanup(rt.Shutdown)
	return &fixture{router: rt, store: store, cache: cache, transport: transport}
}

func (f *fixture) addUser(t *testing.T, id string) {
	t.Helper()
	if err := f.store.SaveUser(context.Background(), &model.User{ID: id, Name: "name-" + id}); err != nil {
		t.Fatalf("SaveUser(%s): %v", id, err)
	}
}

func (f *fixture) addQuestion(t *testing.T, q *model.Question) {
	t.Helper()
	if q.Status == "" {
		q.Status = model.QuestionDraft
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	if err := f.store.SaveQuestion(context.Background(), q); err != nil {
		t.Fatalf("SaveQuestion: %v", err)
	}
}

func TestOpenQuestionNotifiesCandidates(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "asker")
	f.addUser(t, "c1")
	f.addUser(t, "c2")
	f.addQuestion(t, &model.Question{ID: "q1", AskerID: "asker", Text: "any quiet cafes around?"})

	if err := f.router.OpenQuestion(context.Background(), "q1"); err != nil {
		t.Fatalf("OpenQuestion: %v", err)
	}
	f.router.Wait()

	prompts := f.transport.byKey("answer_message_0")
	if len(prompts) != 2 {
		t.Fatalf("expected 2 prompts, got %d", len(prompts))
	}
	for _, p := range prompts {
		if len(p.msg.Buttons) != 4 {
			t.Fatalf("prompt should carry 4 buttons, got %d", len(p.msg.Buttons))
		}
		for _, b := range p.msg.Buttons {
			if b.PayloadID == "" {
				t.Fatalf("button %s has no cached payload", b.LabelKey)
			}
			payload, err := f.cache.Get(context.Background(), b.PayloadID)
			if err != nil {
				t.Fatalf("cached payload missing: %v", err)
			}
			if len(payload.Related) != 4 {
				t.Fatalf("payload should list all 4 siblings, got %d", len(payload.Related))
			}
		}
		if p.msg.Params["user"] != "name-asker" {
			t.Fatalf("asker not named on a non-anonymous question: %q", p.msg.Params["user"])
		}
	}

	deliveries, _ := f.store.ListDeliveriesByQuestion(context.Background(), "q1")
	if len(deliveries) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(deliveries))
	}
	for _, d := range deliveries {
		if d.Status != model.DeliverySent {
			t.Fatalf("delivery status = %s, want sent", d.Status)
		}
	}
}

func TestOpenQuestionSensitiveAndAnonymous(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "asker")
	f.addUser(t, "c1")
	f.addQuestion(t, &model.Question{
		ID:        "q1",
		AskerID:   "asker",
		Text:      "I am struggling lately",
		Sensitive: true,
		Anonymous: true,
	})

	if err := f.router.OpenQuestion(context.Background(), "q1"); err != nil {
		t.Fatalf("OpenQuestion: %v", err)
	}
	f.router.Wait()

	prompts := f.transport.byKey("answer_sensitive_message_0")
	if len(prompts) != 1 {
		t.Fatalf("sensitive question should use the banner variant, got %d", len(prompts))
	}
	if prompts[0].msg.Params["user"] != model.AnonymousName {
		t.Fatalf("anonymous asker leaked: %q", prompts[0].msg.Params["user"])
	}
}

func TestOpenQuestionNoCandidates(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "asker")
	f.addQuestion(t, &model.Question{ID: "q1", AskerID: "asker", Text: "anyone?"})

	err := f.router.OpenQuestion(context.Background(), "q1")
	if !errors.Is(err, model.ErrNoCandidates) {
		t.Fatalf("OpenQuestion = %v, want ErrNoCandidates", err)
	}
	f.router.Wait()

	offers := f.transport.byKey("no_candidates_text")
	if len(offers) != 1 || offers[0].to != "asker" {
		t.Fatalf("asker should be offered to retry, got %+v", offers)
	}
	if len(offers[0].msg.Buttons) != 1 || offers[0].msg.Buttons[0].PayloadID == "" {
		t.Fatalf("offer should carry an ask-more button: %+v", offers[0].msg.Buttons)
	}
}

func TestSubmitAnswerForwardsToAsker(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "asker")
	f.addUser(t, "c1")
	f.addQuestion(t, &model.Question{ID: "q1", AskerID: "asker", Text: "best pizza in town?"})
	if err := f.router.OpenQuestion(context.Background(), "q1"); err != nil {
		t.Fatalf("OpenQuestion: %v", err)
	}

	if err := f.router.SubmitAnswer(context.Background(), "q1", "c1", "the one by the station", false); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	f.router.Wait()

	forwarded := f.transport.byKey("new_answer_message")
	if len(forwarded) != 1 || forwarded[0].to != "asker" {
		t.Fatalf("answer not forwarded to asker: %+v", forwarded)
	}
	if forwarded[0].msg.Params["username"] != "name-c1" {
		t.Fatalf("answerer not named: %q", forwarded[0].msg.Params["username"])
	}
	if forwarded[0].msg.Params["answer"] != "the one by the station" {
		t.Fatalf("answer text missing: %q", forwarded[0].msg.Params["answer"])
	}
	if len(forwarded[0].msg.Buttons) != 3 {
		t.Fatalf("asker should get best/more/report buttons, got %d", len(forwarded[0].msg.Buttons))
	}

	deliveries, _ := f.store.ListDeliveriesByQuestion(context.Background(), "q1")
	if deliveries[0].Status != model.DeliveryAnswered {
		t.Fatalf("delivery status = %s, want answered", deliveries[0].Status)
	}
}

func TestSubmitAnswerMasksAnonymousAnswerer(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "asker")
	f.addUser(t, "c1")
	f.addQuestion(t, &model.Question{ID: "q1", AskerID: "asker", Text: "anything", Sensitive: true})
	if err := f.router.OpenQuestion(context.Background(), "q1"); err != nil {
		t.Fatalf("OpenQuestion: %v", err)
	}

	if err := f.router.SubmitAnswer(context.Background(), "q1", "c1", "hang in there", true); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	f.router.Wait()

	forwarded := f.transport.byKey("new_answer_message")
	if forwarded[0].msg.Params["username"] != model.AnonymousName {
		t.Fatalf("anonymous answerer leaked: %q", forwarded[0].msg.Params["username"])
	}
}

func TestSubmitAnswerRejectsEmptyText(t *testing.T) {
	f := newFixture(t)
	if err := f.router.SubmitAnswer(context.Background(), "q1", "c1", "   ", false); !errors.Is(err, model.ErrInvalidInputShape) {
		t.Fatalf("SubmitAnswer = %v, want ErrInvalidInputShape", err)
	}
}

func TestRemindLaterRedeliversPrompt(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "asker")
	f.addUser(t, "c1")
	f.addQuestion(t, &model.Question{ID: "q1", AskerID: "asker", Text: "q"})
	if err := f.router.OpenQuestion(context.Background(), "q1"); err != nil {
		t.Fatalf("OpenQuestion: %v", err)
	}
	f.router.Wait()

	deliveries, _ := f.store.ListDeliveriesByQuestion(context.Background(), "q1")
	deliveryID := deliveries[0].ID

	if err := f.router.RemindLater(context.Background(), deliveryID); err != nil {
		t.Fatalf("RemindLater: %v", err)
	}
	delivery, _ := f.store.GetDelivery(context.Background(), deliveryID)
	if delivery.Status != model.DeliveryRemindered || delivery.RemindAt == nil {
		t.Fatalf("delivery after remind-later: %+v", delivery)
	}

	time.Sleep(5 * f.router.RemindDelay)
	f.router.Wait()

	if got := len(f.transport.byKey("answer_message_0")); got != 2 {
		t.Fatalf("prompt should be re-delivered once, got %d prompts", got)
	}
	delivery, _ = f.store.GetDelivery(context.Background(), deliveryID)
	if delivery.Status != model.DeliverySent || delivery.RemindAt != nil {
		t.Fatalf("delivery after reminder fired: %+v", delivery)
	}
}

func TestAnswerBeforeReminderCancelsTimer(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "asker")
	f.addUser(t, "c1")
	f.addQuestion(t, &model.Question{ID: "q1", AskerID: "asker", Text: "q"})
	if err := f.router.OpenQuestion(context.Background(), "q1"); err != nil {
		t.Fatalf("OpenQuestion: %v", err)
	}
	f.router.Wait()

	deliveries, _ := f.store.ListDeliveriesByQuestion(context.Background(), "q1")
	deliveryID := deliveries[0].ID
	if err := f.router.RemindLater(context.Background(), deliveryID); err != nil {
		t.Fatalf("RemindLater: %v", err)
	}
	if err := f.router.SubmitAnswer(context.Background(), "q1", "c1", "answered in time", false); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}

	time.Sleep(5 * f.router.RemindDelay)
	f.router.Wait()

	if got := len(f.transport.byKey("answer_message_0")); got != 1 {
		t.Fatalf("cancelled reminder still re-delivered: %d prompts", got)
	}
	delivery, _ := f.store.GetDelivery(context.Background(), deliveryID)
	if delivery.Status != model.DeliveryAnswered {
		t.Fatalf("delivery status = %s, want answered", delivery.Status)
	}
}

func TestDeclineDeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "asker")
	f.addUser(t, "c1")
	f.addQuestion(t, &model.Question{ID: "q1", AskerID: "asker", Text: "q"})
	if err := f.router.OpenQuestion(context.Background(), "q1"); err != nil {
		t.Fatalf("OpenQuestion: %v", err)
	}
	deliveries, _ := f.store.ListDeliveriesByQuestion(context.Background(), "q1")
	deliveryID := deliveries[0].ID

	if err := f.router.DeclineDelivery(context.Background(), deliveryID); err != nil {
		t.Fatalf("DeclineDelivery: %v", err)
	}
	if err := f.router.DeclineDelivery(context.Background(), deliveryID); err != nil {
		t.Fatalf("repeated DeclineDelivery: %v", err)
	}
	f.router.Wait()

	if got := len(f.transport.byKey("not_answer_response")); got != 1 {
		t.Fatalf("decline should be acknowledged exactly once, got %d", got)
	}
	delivery, _ := f.store.GetDelivery(context.Background(), deliveryID)
	if delivery.Status != model.DeliveryDeclined {
		t.Fatalf("delivery status = %s, want declined", delivery.Status)
	}
}

func TestSelectBestAnswerResolvesAndNotifies(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "asker")
	f.addUser(t, "c1")
	f.addUser(t, "c2")
	f.addQuestion(t, &model.Question{ID: "q1", AskerID: "asker", Text: "q"})
	if err := f.router.OpenQuestion(context.Background(), "q1"); err != nil {
		t.Fatalf("OpenQuestion: %v", err)
	}

	if err := f.router.SubmitAnswer(context.Background(), "q1", "c1", "first", false); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	question, _ := f.store.GetQuestion(context.Background(), "q1")
	bestID := question.AnswerIDs[0]

	if err := f.router.SelectBestAnswer(context.Background(), "q1", bestID); err != nil {
		t.Fatalf("SelectBestAnswer: %v", err)
	}
	f.router.Wait()

	if got := f.transport.byKey("picked_best_answer"); len(got) != 1 || got[0].to != "c1" {
		t.Fatalf("answerer not congratulated: %+v", got)
	}
	if got := f.transport.byKey("best_answer_final_message"); len(got) != 1 || got[0].to != "asker" {
		t.Fatalf("asker not acknowledged: %+v", got)
	}

	// c2's still-open delivery is expired with the question.
	deliveries, _ := f.store.ListDeliveriesByQuestion(context.Background(), "q1")
	for _, d := range deliveries {
		if d.Status.Active() {
			t.Fatalf("delivery %s still active after resolution", d.ID)
		}
	}

	if err := f.router.SubmitAnswer(context.Background(), "q1", "c2", "too late", false); !errors.Is(err, model.ErrQuestionResolved) {
		t.Fatalf("late answer = %v, want ErrQuestionResolved", err)
	}
}

func TestAskMoreNotifiesOnlyFreshCandidates(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "asker")
	f.addUser(t, "c1")
	f.addQuestion(t, &model.Question{ID: "q1", AskerID: "asker", Text: "q"})
	if err := f.router.OpenQuestion(context.Background(), "q1"); err != nil {
		t.Fatalf("OpenQuestion: %v", err)
	}
	f.router.Wait()

	f.addUser(t, "c2")
	if err := f.router.AskMore(context.Background(), "q1"); err != nil {
		t.Fatalf("AskMore: %v", err)
	}
	f.router.Wait()

	prompts := f.transport.byKey("answer_message_0")
	if len(prompts) != 2 {
		t.Fatalf("expected one prompt per candidate, got %d", len(prompts))
	}
	if prompts[1].to != "c2" {
		t.Fatalf("ask-more should notify the fresh candidate, got %s", prompts[1].to)
	}
}

func TestAskMoreOnResolvedQuestion(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "asker")
	f.addQuestion(t, &model.Question{ID: "q1", AskerID: "asker", Text: "q", Status: model.QuestionResolved})

	if err := f.router.AskMore(context.Background(), "q1"); !errors.Is(err, model.ErrQuestionResolved) {
		t.Fatalf("AskMore = %v, want ErrQuestionResolved", err)
	}
}

func TestReportQuestionClosesDelivery(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "asker")
	f.addUser(t, "c1")
	f.addQuestion(t, &model.Question{ID: "q1", AskerID: "asker", Text: "buy my stuff!!!"})
	if err := f.router.OpenQuestion(context.Background(), "q1"); err != nil {
		t.Fatalf("OpenQuestion: %v", err)
	}
	deliveries, _ := f.store.ListDeliveriesByQuestion(context.Background(), "q1")
	deliveryID := deliveries[0].ID

	if err := f.router.ReportQuestion(context.Background(), deliveryID, "c1", model.ReportSpam, ""); err != nil {
		t.Fatalf("ReportQuestion: %v", err)
	}
	f.router.Wait()

	delivery, _ := f.store.GetDelivery(context.Background(), deliveryID)
	if delivery.Status != model.DeliveryReported {
		t.Fatalf("delivery status = %s, want reported", delivery.Status)
	}
	if got := f.transport.byKey("report_final_message"); len(got) != 1 || got[0].to != "c1" {
		t.Fatalf("reporter not acknowledged: %+v", got)
	}
}

func TestExpireStaleClosesOldQuestions(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "asker")
	f.addUser(t, "c1")
	f.addQuestion(t, &model.Question{
		ID:        "q1",
		AskerID:   "asker",
		Text:      "old question",
		CreatedAt: time.Now().Add(-48 * time.Hour),
	})
	if err := f.router.OpenQuestion(context.Background(), "q1"); err != nil {
		t.Fatalf("OpenQuestion: %v", err)
	}

	f.router.ExpireStale(context.Background(), 24*time.Hour)
	f.router.Wait()

	question, _ := f.store.GetQuestion(context.Background(), "q1")
	if question.Status != model.QuestionExpired {
		t.Fatalf("question status = %s, want expired", question.Status)
	}
	deliveries, _ := f.store.ListDeliveriesByQuestion(context.Background(), "q1")
	if deliveries[0].Status != model.DeliveryExpired {
		t.Fatalf("delivery status = %s, want expired", deliveries[0].Status)
	}
	if got := f.transport.byKey("question_expired_message"); len(got) != 1 || got[0].to != "asker" {
		t.Fatalf("asker not told about expiry: %+v", got)
	}
}

func TestSendRetriesTransientFailures(t *testing.T) {
	f := newFixture(t)
	f.transport.failFirst = 2
	f.addUser(t, "asker")
	f.addUser(t, "c1")
	f.addQuestion(t, &model.Question{ID: "q1", AskerID: "asker", Text: "q"})

	if err := f.router.OpenQuestion(context.Background(), "q1"); err != nil {
		t.Fatalf("OpenQuestion: %v", err)
	}
	f.router.Wait()

	if got := len(f.transport.byKey("answer_message_0")); got != 1 {
		t.Fatalf("prompt should land after retries, got %d", got)
	}
}
