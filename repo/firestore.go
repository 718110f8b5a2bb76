package repo

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"AskBot/model"
)

const (
	usersCollection      = "users"
	questionsCollection  = "questions"
	answersCollection    = "answers"
	deliveriesCollection = "deliveries"
	reportsCollection    = "reports"
)

// FirestoreConnector implements Store on top of Cloud Firestore.
type FirestoreConnector struct {
	app    *firebase.App
	client *firestore.Client
}

// NewFirestoreConnector creates a new Firestore-backed store.
func NewFirestoreConnector(ctx context.Context, serviceAccountKeyPath, projectID string) (*FirestoreConnector, error) {
	opt := option.WithCredentialsFile(serviceAccountKeyPath)

	config := &firebase.Config{
		ProjectID: projectID,
	}
	app, err := firebase.NewApp(ctx, config, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting Firestore client: %w", err)
	}

	return &FirestoreConnector{
		app:    app,
		client: client,
	}, nil
}

func (fc *FirestoreConnector) SaveUser(ctx context.Context, user *model.User) error {
	if _, err := fc.client.Collection(usersCollection).Doc(user.ID).Set(ctx, user); err != nil {
		return fmt.Errorf("error saving user: %w", err)
	}
	return nil
}

func (fc *FirestoreConnector) GetUser(ctx context.Context, id string) (*model.User, error) {
	snap, err := fc.client.Collection(usersCollection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, model.ErrUserDoesNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("error reading user: %w", err)
	}
	var user model.User
	if err := snap.DataTo(&user); err != nil {
		return nil, fmt.Errorf("error decoding user: %w", err)
	}
	return &user, nil
}

func (fc *FirestoreConnector) GetUserByChatID(ctx context.Context, chatID int64) (*model.User, error) {
	iter := fc.client.Collection(usersCollection).Where("chatID", "==", chatID).Limit(1).Documents(ctx)
	defer iter.Stop()
	snap, err := iter.Next()
	if err == iterator.Done {
		return nil, model.ErrUserDoesNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("error querying user by chat id: %w", err)
	}
	var user model.User
	if err := snap.DataTo(&user); err != nil {
		return nil, fmt.Errorf("error decoding user: %w", err)
	}
	return &user, nil
}

func (fc *FirestoreConnector) ListUsers(ctx context.Context) ([]*model.User, error) {
	iter := fc.client.Collection(usersCollection).Documents(ctx)
	defer iter.Stop()

	var users []*model.User
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error listing users: %w", err)
		}
		var user model.User
		if err := snap.DataTo(&user); err != nil {
			return nil, fmt.Errorf("error decoding user: %w", err)
		}
		users = append(users, &user)
	}
	return users, nil
}

func (fc *FirestoreConnector) SaveQuestion(ctx context.Context, question *model.Question) error {
	if _, err := fc.client.Collection(questionsCollection).Doc(question.ID).Set(ctx, question); err != nil {
		return fmt.Errorf("error saving question: %w", err)
	}
	return nil
}

func (fc *FirestoreConnector) GetQuestion(ctx context.Context, id string) (*model.Question, error) {
	snap, err := fc.client.Collection(questionsCollection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, model.ErrQuestionDoesNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("error reading question: %w", err)
	}
	var question model.Question
	if err := snap.DataTo(&question); err != nil {
		return nil, fmt.Errorf("error decoding question: %w", err)
	}
	return &question, nil
}

func (fc *FirestoreConnector) ListOpenQuestions(ctx context.Context) ([]*model.Question, error) {
	iter := fc.client.Collection(questionsCollection).
		Where("status", "==", string(model.QuestionOpen)).
		Documents(ctx)
	defer iter.Stop()

	var questions []*model.Question
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error listing open questions: %w", err)
		}
		var question model.Question
		if err := snap.DataTo(&question); err != nil {
			return nil, fmt.Errorf("error decoding question: %w", err)
		}
		questions = append(questions, &question)
	}
	return questions, nil
}

func (fc *FirestoreConnector) SaveAnswer(ctx context.Context, answer *model.Answer) error {
	if _, err := fc.client.Collection(answersCollection).Doc(answer.ID).Set(ctx, answer); err != nil {
		return fmt.Errorf("error saving answer: %w", err)
	}
	return nil
}

func (fc *FirestoreConnector) GetAnswer(ctx context.Context, id string) (*model.Answer, error) {
	snap, err := fc.client.Collection(answersCollection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, model.ErrAnswerDoesNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("error reading answer: %w", err)
	}
	var answer model.Answer
	if err := snap.DataTo(&answer); err != nil {
		return nil, fmt.Errorf("error decoding answer: %w", err)
	}
	return &answer, nil
}

func (fc *FirestoreConnector) SaveDelivery(ctx context.Context, delivery *model.Delivery) error {
	if _, err := fc.client.Collection(deliveriesCollection).Doc(delivery.ID).Set(ctx, delivery); err != nil {
		return fmt.Errorf("error saving delivery: %w", err)
	}
	return nil
}

func (fc *FirestoreConnector) GetDelivery(ctx context.Context, id string) (*model.Delivery, error) {
	snap, err := fc.client.Collection(deliveriesCollection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, model.ErrDeliveryDoesNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("error reading delivery: %w", err)
	}
	var delivery model.Delivery
	if err := snap.DataTo(&delivery); err != nil {
		return nil, fmt.Errorf("error decoding delivery: %w", err)
	}
	return &delivery, nil
}

func (fc *FirestoreConnector) ListDeliveriesByQuestion(ctx context.Context, questionID string) ([]*model.Delivery, error) {
	iter := fc.client.Collection(deliveriesCollection).
		Where("questionID", "==", questionID).
		Documents(ctx)
	defer iter.Stop()

	var deliveries []*model.Delivery
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error listing deliveries: %w", err)
		}
		var delivery model.Delivery
		if err := snap.DataTo(&delivery); err != nil {
			return nil, fmt.Errorf("error decoding delivery: %w", err)
		}
		deliveries = append(deliveries, &delivery)
	}
	return deliveries, nil
}

func (fc *FirestoreConnector) SaveReport(ctx context.Context, report *model.Report) error {
	if _, err := fc.client.Collection(reportsCollection).Doc(report.ID).Set(ctx, report); err != nil {
		return fmt.Errorf("error saving report: %w", err)
	}
	return nil
}

func (fc *FirestoreConnector) ListReportsByAnswer(ctx context.Context, answerID string) ([]*model.Report, error) {
	iter := fc.client.Collection(reportsCollection).
		Where("answerID", "==", answerID).
		Documents(ctx)
	defer iter.Stop()

	var reports []*model.Report
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error listing reports: %w", err)
		}
		var report model.Report
		if err := snap.DataTo(&report); err != nil {
			return nil, fmt.Errorf("error decoding report: %w", err)
		}
		reports = append(reports, &report)
	}
	return reports, nil
}

// Close releases the Firestore client.
func (fc *FirestoreConnector) Close() error {
	return fc.client.Close()
}
