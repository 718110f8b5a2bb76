package repo

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"AskBot/i18n"
	"AskBot/model"
)

// PayloadDataPrefix marks callback data that carries a cached payload id
// rather than a direct choice value.
const PayloadDataPrefix = "payload--"

// TelegramTransport renders transport-neutral outbound messages as Telegram
// messages with inline keyboards. Text comes from the localization catalog;
// this layer never composes message content itself.
type TelegramTransport struct {
	bot        *bot.Bot
	translator *i18n.Translator
}

func NewTelegramTransport(b *bot.Bot, translator *i18n.Translator) *TelegramTransport {
	return &TelegramTransport{
		bot:        b,
		translator: translator,
	}
}

func (t *TelegramTransport) Send(ctx context.Context, to *model.User, msg model.Outbound) error {
	params := &bot.SendMessageParams{
		ChatID: to.ChatID,
		Text:   t.translator.Text(to.Locale, msg.Key, msg.Params),
	}
	if len(msg.Buttons) > 0 {
		rows := make([][]models.InlineKeyboardButton, 0, len(msg.Buttons))
		for _, button := range msg.Buttons {
			data := button.Intent
			if button.PayloadID != "" {
				data = PayloadDataPrefix + button.PayloadID
			}
			rows = append(rows, []models.InlineKeyboardButton{{
				Text:         t.translator.Text(to.Locale, button.LabelKey, nil),
				CallbackData: data,
			}})
		}
		params.ReplyMarkup = &models.InlineKeyboardMarkup{InlineKeyboard: rows}
	}
	if _, err := t.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("error sending message: %w", err)
	}
	return nil
}
