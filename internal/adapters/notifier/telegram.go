package notifier

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"fare-alerts/internal/domain"
)

// Telegram delivers alerts to users who linked a Telegram chat.
type Telegram struct {
	bot *tgbotapi.BotAPI
}

var _ domain.Notifier = (*Telegram)(nil)

// NewTelegram wraps a bot client.
func NewTelegram(bot *tgbotapi.BotAPI) *Telegram {
	return &Telegram{bot: bot}
}

// Notify sends one deal as a message to the user's chat.
func (t *Telegram) Notify(ctx context.Context, user domain.UserProfile, deal domain.Deal) error {
	if user.TelegramChatID == 0 {
		return fmt.Errorf("user %s has no linked telegram chat", user.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	text := fmt.Sprintf("✈️ %s → %s\n%s %s (%d%% off)\n%s, %s",
		deal.Origin, deal.Destination,
		deal.TotalPrice.StringFixed(2), deal.Currency, deal.DiscountPercent,
		deal.Airline, stopsLabel(deal.Stops))
	msg := tgbotapi.NewMessage(user.TelegramChatID, text)
	if deal.DeepLink != "" {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("Open deal", deal.DeepLink)),
		)
	}
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func stopsLabel(stops int) string {
	if stops == 0 {
		return "nonstop"
	}
	if stops == 1 {
		return "1 stop"
	}
	return fmt.Sprintf("%d stops", stops)
}
