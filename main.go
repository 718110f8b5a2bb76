package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"AskBot/handler"
	"AskBot/i18n"
	"AskBot/matching"
	"AskBot/registry"
	"AskBot/repo"
	"AskBot/router"
)

const (
	payloadTTL          = 48 * time.Hour
	questionMaxAge      = 7 * 24 * time.Hour
	expireSweepInterval = time.Hour
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file, using process environment")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := initFirestore(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("error initializing Firestore")
	}
	defer store.Close()

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	cache := repo.NewRedisCache(redisAddr, payloadTTL)

	translator, err := i18n.New()
	if err != nil {
		log.Fatal().Err(err).Msg("error loading message catalogs")
	}

	reg := registry.New(store)
	engine := matching.New(store, matching.NewWeightedScorer())

	var h *handler.HelpBotHandler
	opts := []bot.Option{
		bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, update *models.Update) {
			in, ok := toInbound(ctx, b, update)
			if !ok {
				return
			}
			h.Handle(ctx, in)
		}),
	}

	b, err := bot.New(os.Getenv("TELEGRAM_BOT_TOKEN"), opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("error creating bot")
	}

	transport := repo.NewTelegramTransport(b, translator)
	rt := router.New(store, reg, engine, transport, cache)
	h = handler.New(store, rt, transport, cache)
	if base := os.Getenv("BADGE_BOARD_BASE_URL"); base != "" {
		h.BadgeBoardURL = repo.BadgeURL(base, os.Getenv("BADGE_BOARD_APP_ID"))
	}
	rt.SetFlowInterrupter(h)

	go func() {
		ticker := time.NewTicker(expireSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rt.ExpireStale(ctx, questionMaxAge)
			}
		}
	}()

	log.Info().Msg("bot started")
	b.Start(ctx)

	rt.Shutdown()
	log.Info().Msg("bot stopped")
}

func initFirestore(ctx context.Context) (*repo.FirestoreConnector, error) {
	serviceAccountKeyPath := os.Getenv("FIREBASE_SERVICE_ACCOUNT_KEY_PATH")
	if serviceAccountKeyPath == "" {
		return nil, fmt.Errorf("FIREBASE_SERVICE_ACCOUNT_KEY_PATH environment variable not set")
	}
	projectID := os.Getenv("FIREBASE_PROJECT_ID")
	if projectID == "" {
		return nil, fmt.Errorf("FIREBASE_PROJECT_ID environment variable not set")
	}

	connector, err := repo.NewFirestoreConnector(ctx, serviceAccountKeyPath, projectID)
	if err != nil {
		return nil, fmt.Errorf("error creating Firestore connector: %w", err)
	}
	return connector, nil
}

// toInbound converts a Telegram update into a transport-neutral event.
// Callback queries are acknowledged so the client stops its spinner.
func toInbound(ctx context.Context, b *bot.Bot, update *models.Update) (handler.Inbound, bool) {
	switch {
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		if _, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: cq.ID}); err != nil {
			log.Error().Err(err).Msg("error answering callback query")
		}
		var chatID int64
		if cq.Message.Message != nil {
			chatID = cq.Message.Message.Chat.ID
		}
		return handler.Inbound{
			UserID: strconv.FormatInt(cq.From.ID, 10),
			ChatID: chatID,
			Name:   cq.From.FirstName,
			Locale: cq.From.LanguageCode,
			Choice: cq.Data,
		}, true

	case update.Message != nil && update.Message.From != nil:
		msg := update.Message
		return handler.Inbound{
			UserID:        strconv.FormatInt(msg.From.ID, 10),
			ChatID:        msg.Chat.ID,
			Name:          msg.From.FirstName,
			Locale:        msg.From.LanguageCode,
			Text:          msg.Text,
			HasAttachment: hasAttachment(msg),
		}, true
	}
	return handler.Inbound{}, false
}

func hasAttachment(msg *models.Message) bool {
	return len(msg.Photo) > 0 ||
		msg.Document != nil ||
		msg.Video != nil ||
		msg.Voice != nil ||
		msg.Audio != nil ||
		msg.Sticker != nil ||
		msg.Location != nil ||
		msg.Contact != nil
}
