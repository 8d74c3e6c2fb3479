package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"ascension/internal/bot"
)

const UserPrefix = "whatsapp:"

type Handler interface {
	Handle(ctx context.Context, in bot.Inbound) bot.Reply
}

// Bot serves the router over a linked WhatsApp device. WhatsApp has no inline
// buttons for personal accounts, so options are sent as a numbered list and
// numeric replies are mapped back to the option's callback.
type Bot struct {
	dsn     string
	handler Handler
	log     *slog.Logger
	qrOut   io.Writer
	options *optionTable
	client  *whatsmeow.Client
}

func New(dsn string, handler Handler, logger *slog.Logger, qrOut io.Writer) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		dsn:     strings.TrimSpace(dsn),
		handler: handler,
		log:     logger,
		qrOut:   qrOut,
		options: newOptionTable(),
	}
}

// Run links the device (printing a pairing QR code on first start) and serves
// messages until ctx ends. Device keys live in Postgres next to the ledger.
func (b *Bot) Run(ctx context.Context) error {
	if b.dsn == "" {
		return errors.New("whatsapp: database url is required")
	}
	container, err := sqlstore.New(ctx, "postgres", b.dsn, waLog.Noop)
	if err != nil {
		return fmt.Errorf("whatsapp store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("whatsapp device: %w", err)
	}
	client := whatsmeow.NewClient(device, waLog.Noop)
	b.client = client
	client.AddEventHandler(func(evt any) {
		if msg, ok := evt.(*events.Message); ok {
			// preludes sleep; keep the event loop free
			go b.handleMessage(ctx, msg)
		}
	})

	if client.Store.ID == nil {
		qr, err := client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("whatsapp qr: %w", err)
		}
		if err := client.Connect(); err != nil {
			return fmt.Errorf("whatsapp connect: %w", err)
		}
		for item := range qr {
			switch item.Event {
			case "code":
				b.log.Info("scan the QR code with WhatsApp to link the bot")
				if b.qrOut != nil {
					qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, b.qrOut)
				}
			default:
				b.log.Info("whatsapp pairing", "event", item.Event)
			}
		}
	} else if err := client.Connect(); err != nil {
		return fmt.Errorf("whatsapp connect: %w", err)
	}
	defer client.Disconnect()

	b.log.Info("whatsapp bot started")
	<-ctx.Done()
	return nil
}

func (b *Bot) handleMessage(ctx context.Context, evt *events.Message) {
	if evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	text := evt.Message.GetConversation()
	if text == "" {
		text = evt.Message.GetExtendedTextMessage().GetText()
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	chat := evt.Info.Chat.String()
	in := b.options.inbound(UserPrefix+evt.Info.Sender.User, chat, text)
	reply := b.handler.Handle(ctx, in)
	if err := b.send(ctx, evt.Info.Chat, reply); err != nil {
		b.log.Warn("whatsapp send", "user_id", in.UserID, "err", err)
	}
}

func (b *Bot) send(ctx context.Context, to types.JID, reply bot.Reply) error {
	for _, f := range reply.Prelude {
		if err := b.sendText(ctx, to, f.Text); err != nil {
			return err
		}
		if err := sleepWithContext(ctx, f.Hold); err != nil {
			return err
		}
	}
	text, callbacks := render(reply)
	b.options.set(to.String(), callbacks)
	return b.sendText(ctx, to, text)
}

func (b *Bot) sendText(ctx context.Context, to types.JID, text string) error {
	_, err := b.client.SendMessage(ctx, to, &waE2E.Message{Conversation: proto.String(text)})
	return err
}

// render appends the reply's buttons as a numbered list and returns the
// callbacks in the same order.
func render(reply bot.Reply) (string, []string) {
	var (
		b         strings.Builder
		callbacks []string
	)
	b.WriteString(reply.Text)
	for _, row := range reply.Buttons {
		for _, btn := range row {
			if len(callbacks) == 0 {
				b.WriteString("\n")
			}
			callbacks = append(callbacks, btn.Callback)
			fmt.Fprintf(&b, "\n%d. %s", len(callbacks), btn.Label)
		}
	}
	if len(callbacks) > 0 {
		b.WriteString("\n\nReply with a number.")
	}
	return b.String(), callbacks
}

// optionTable remembers the options last offered in each chat.
type optionTable struct {
	mu     sync.Mutex
	byChat map[string][]string
}

func newOptionTable() *optionTable {
	return &optionTable{byChat: map[string][]string{}}
}

func (t *optionTable) set(chat string, callbacks []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(callbacks) == 0 {
		delete(t.byChat, chat)
		return
	}
	t.byChat[chat] = callbacks
}

// inbound turns a numeric reply into the matching callback. Anything else is
// passed on as typed text.
func (t *optionTable) inbound(userID, chat, text string) bot.Inbound {
	in := bot.Inbound{UserID: userID, ChatID: chat, Text: strings.TrimSpace(text)}
	n, err := strconv.Atoi(in.Text)
	if err != nil {
		return in
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	options := t.byChat[chat]
	if n < 1 || n > len(options) {
		return in
	}
	in.Callback, in.Text = options[n-1], ""
	// each list answers once
	delete(t.byChat, chat)
	return in
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
