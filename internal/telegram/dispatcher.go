package telegram

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/remeh/sizedwaitgroup"

	"ascension/internal/bot"
)

const DefaultWorkers = 8

type Handler interface {
	Handle(ctx context.Context, in bot.Inbound) bot.Reply
}

// Dispatcher runs the router for incoming updates on a bounded set of
// goroutines and writes the replies back to Telegram.
type Dispatcher struct {
	client  *Client
	handler Handler
	log     *slog.Logger
	wg      sizedwaitgroup.SizedWaitGroup
}

func NewDispatcher(client *Client, handler Handler, logger *slog.Logger, workers int) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Dispatcher{
		client:  client,
		handler: handler,
		log:     logger,
		wg:      sizedwaitgroup.New(workers),
	}
}

// Dispatch processes u in the background. It blocks while every worker is
// busy and fails only when ctx ends first.
func (d *Dispatcher) Dispatch(ctx context.Context, u Update) error {
	if err := d.wg.AddWithContext(ctx); err != nil {
		return err
	}
	go func() {
		defer d.wg.Done()
		if err := d.Process(ctx, u); err != nil {
			d.log.Warn("telegram update failed", "update_id", u.UpdateID, "err", err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched update has been processed.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) Process(ctx context.Context, u Update) error {
	in, ok := u.Inbound()
	if !ok {
		return nil
	}
	reply := d.handler.Handle(ctx, in)

	if cq := u.CallbackQuery; cq != nil {
		// stop the client-side spinner before any prelude plays
		if err := d.client.AnswerCallbackQuery(ctx, cq.ID, ""); err != nil {
			d.log.Debug("answer callback", "err", err)
		}
		if cq.Message == nil {
			return nil
		}
		return d.edit(ctx, cq.Message.Chat.ID, cq.Message.MessageID, reply)
	}
	return d.send(ctx, u.Message.Chat.ID, reply)
}

func (d *Dispatcher) send(ctx context.Context, chatID int64, reply bot.Reply) error {
	if len(reply.Prelude) == 0 {
		_, err := d.client.SendMessage(ctx, chatID, reply.Text, keyboard(reply.Buttons))
		return err
	}
	first := reply.Prelude[0]
	msg, err := d.client.SendMessage(ctx, chatID, first.Text, nil)
	if err != nil {
		return err
	}
	if err := sleepWithContext(ctx, first.Hold); err != nil {
		return err
	}
	reply.Prelude = reply.Prelude[1:]
	return d.edit(ctx, chatID, msg.MessageID, reply)
}

func (d *Dispatcher) edit(ctx context.Context, chatID, messageID int64, reply bot.Reply) error {
	for _, f := range reply.Prelude {
		if err := d.client.EditMessageText(ctx, chatID, messageID, f.Text, nil); err != nil && !errors.Is(err, ErrNotModified) {
			return err
		}
		if err := sleepWithContext(ctx, f.Hold); err != nil {
			return err
		}
	}
	err := d.client.EditMessageText(ctx, chatID, messageID, reply.Text, keyboard(reply.Buttons))
	if errors.Is(err, ErrNotModified) {
		return nil
	}
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
