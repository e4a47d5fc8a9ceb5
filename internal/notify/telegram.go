package notify

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// TelegramSink sends events as plain messages to a fixed set of chats.
type TelegramSink struct {
	bot   *tele.Bot
	chats []int64
}

func NewTelegramSink(token string, chats []int64) (*TelegramSink, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, err
	}
	return &TelegramSink{bot: b, chats: chats}, nil
}

func (s *TelegramSink) Send(ctx context.Context, e Event) error {
	text := e.String()
	var errs []error
	for _, id := range s.chats {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.bot.Send(&tele.Chat{ID: id}, text, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
