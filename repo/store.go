package repo

import (
	"context"

	"AskBot/model"
)

// Store is the durable CRUD layer shared by the registry, the matching
// engine and the notification router. Implementations must return copies so
// readers never observe a partially-updated record.
type Store interface {
	SaveUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByChatID(ctx context.Context, chatID int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]*model.User, error)

	SaveQuestion(ctx context.Context, question *model.Question) error
	GetQuestion(ctx context.Context, id string) (*model.Question, error)
	ListOpenQuestions(ctx context.Context) ([]*model.Question, error)

	SaveAnswer(ctx context.Context, answer *model.Answer) error
	GetAnswer(ctx context.Context, id string) (*model.Answer, error)

	SaveDelivery(ctx context.Context, delivery *model.Delivery) error
	GetDelivery(ctx context.Context, id string) (*model.Delivery, error)
	ListDeliveriesByQuestion(ctx context.Context, questionID string) ([]*model.Delivery, error)

	SaveReport(ctx context.Context, report *model.Report) error
	ListReportsByAnswer(ctx context.Context, answerID string) ([]*model.Report, error)
}
