package repo

import (
	"context"
	"sync"

	"AskBot/model"
)

// MemoryStore is an in-memory Store used in tests and local development.
// All reads return copies, matching the snapshot guarantee of the
// Firestore implementation.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]*model.User
	questions  map[string]*model.Question
	answers    map[string]*model.Answer
	deliveries map[string]*model.Delivery
	reports    map[string]*model.Report
	// reportOrder preserves insertion order for deterministic listings.
	reportOrder []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]*model.User),
		questions:  make(map[string]*model.Question),
		answers:    make(map[string]*model.Answer),
		deliveries: make(map[string]*model.Delivery),
		reports:    make(map[string]*model.Report),
	}
}

func (m *MemoryStore) SaveUser(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = copyUser(user)
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return nil, model.ErrUserDoesNotExist
	}
	return copyUser(user), nil
}

func (m *MemoryStore) GetUserByChatID(_ context.Context, chatID int64) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, user := range m.users {
		if user.ChatID == chatID {
			return copyUser(user), nil
		}
	}
	return nil, model.ErrUserDoesNotExist
}

func (m *MemoryStore) ListUsers(_ context.Context) ([]*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]*model.User, 0, len(m.users))
	for _, user := range m.users {
		users = append(users, copyUser(user))
	}
	return users, nil
}

func (m *MemoryStore) SaveQuestion(_ context.Context, question *model.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.questions[question.ID] = copyQuestion(question)
	return nil
}

func (m *MemoryStore) GetQuestion(_ context.Context, id string) (*model.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	question, ok := m.questions[id]
	if !ok {
		return nil, model.ErrQuestionDoesNotExist
	}
	return copyQuestion(question), nil
}

func (m *MemoryStore) ListOpenQuestions(_ context.Context) ([]*model.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var questions []*model.Question
	for _, question := range m.questions {
		if question.Status == model.QuestionOpen {
			questions = append(questions, copyQuestion(question))
		}
	}
	return questions, nil
}

func (m *MemoryStore) SaveAnswer(_ context.Context, answer *model.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *answer
	m.answers[answer.ID] = &clone
	return nil
}

func (m *MemoryStore) GetAnswer(_ context.Context, id string) (*model.Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	answer, ok := m.answers[id]
	if !ok {
		return nil, model.ErrAnswerDoesNotExist
	}
	clone := *answer
	return &clone, nil
}

func (m *MemoryStore) SaveDelivery(_ context.Context, delivery *model.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries[delivery.ID] = copyDelivery(delivery)
	return nil
}

func (m *MemoryStore) GetDelivery(_ context.Context, id string) (*model.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	delivery, ok := m.deliveries[id]
	if !ok {
		return nil, model.ErrDeliveryDoesNotExist
	}
	return copyDelivery(delivery), nil
}

func (m *MemoryStore) ListDeliveriesByQuestion(_ context.Context, questionID string) ([]*model.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var deliveries []*model.Delivery
	for _, delivery := range m.deliveries {
		if delivery.QuestionID == questionID {
			deliveries = append(deliveries, copyDelivery(delivery))
		}
	}
	return deliveries, nil
}

func (m *MemoryStore) SaveReport(_ context.Context, report *model.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[report.ID]; !ok {
		m.reportOrder = append(m.reportOrder, report.ID)
	}
	clone := *report
	m.reports[report.ID] = &clone
	return nil
}

func (m *MemoryStore) ListReportsByAnswer(_ context.Context, answerID string) ([]*model.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var reports []*model.Report
	for _, id := range m.reportOrder {
		report := m.reports[id]
		if report.AnswerID == answerID {
			clone := *report
			reports = append(reports, &clone)
		}
	}
	return reports, nil
}

func copyUser(user *model.User) *model.User {
	clone := *user
	if user.DomainInterests != nil {
		clone.DomainInterests = make(map[model.Domain]float64, len(user.DomainInterests))
		for domain, weight := range user.DomainInterests {
			clone.DomainInterests[domain] = weight
		}
	}
	if user.SocialTies != nil {
		clone.SocialTies = make(map[string]float64, len(user.SocialTies))
		for id, tie := range user.SocialTies {
			clone.SocialTies[id] = tie
		}
	}
	return &clone
}

func copyQuestion(question *model.Question) *model.Question {
	clone := *question
	if question.AnswerIDs != nil {
		clone.AnswerIDs = append([]string(nil), question.AnswerIDs...)
	}
	return &clone
}

func copyDelivery(delivery *model.Delivery) *model.Delivery {
	clone := *delivery
	if delivery.RemindAt != nil {
		at := *delivery.RemindAt
		clone.RemindAt = &at
	}
	return &clone
}
