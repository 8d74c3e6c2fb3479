package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"ascension/internal/bot"
)

const (
	UserPrefix = "discord:"

	maxRows        = 5
	maxRowButtons  = 5
	maxLabelLength = 80
)

// commands mirrors the router's slash commands.
var commands = []*discordgo.ApplicationCommand{
	{Name: "start", Description: "Wake the Ascension Engine"},
	{Name: "menu", Description: "Open the main menu"},
	{Name: "profile", Description: "Show your rank, XP and streak"},
	{Name: "grind", Description: "Grind for XP"},
	{Name: "badges", Description: "List your badges"},
	{Name: "leaderboards", Description: "Show this week's leaders"},
	{Name: "challenges", Description: "Show daily and weekly challenges"},
	{Name: "games", Description: "Play a minigame"},
	{Name: "stats", Description: "Show your power stats"},
	{Name: "activity", Description: "Show your recent rewards"},
	{Name: "settings", Description: "Change your preferences"},
	{Name: "help", Description: "How Ascension works"},
}

type Handler interface {
	Handle(ctx context.Context, in bot.Inbound) bot.Reply
}

type Bot struct {
	token   string
	guildID string
	handler Handler
	log     *slog.Logger
	dg      *discordgo.Session
	ctx     context.Context
}

func New(token, guildID string, handler Handler, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		token:   strings.TrimSpace(token),
		guildID: strings.TrimSpace(guildID),
		handler: handler,
		log:     logger,
	}
}

// Run connects, registers the slash commands and serves interactions until
// ctx ends.
func (b *Bot) Run(ctx context.Context) error {
	if b.token == "" {
		return errors.New("discord: bot token is required")
	}
	dg, err := discordgo.New("Bot " + b.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.MakeIntent(discordgo.IntentsGuilds | discordgo.IntentsDirectMessages)
	b.ctx = ctx
	dg.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.handleInteraction(s, i)
	})
	if err := dg.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	b.dg = dg
	defer dg.Close()

	if err := b.registerCommands(); err != nil {
		b.log.Warn("discord command registration failed", "err", err)
	}
	b.log.Info("discord bot started", "guild_id", b.guildID)
	<-ctx.Done()
	return nil
}

func (b *Bot) registerCommands() error {
	appID := ""
	if b.dg.State != nil && b.dg.State.User != nil {
		appID = b.dg.State.User.ID
	}
	if appID == "" {
		return errors.New("missing application id")
	}
	_, err := b.dg.ApplicationCommandBulkOverwrite(appID, b.guildID, commands)
	return err
}

func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	in, ok := inboundFor(i)
	if !ok {
		return
	}
	ctx := b.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	reply := b.handler.Handle(ctx, in)
	if err := respond(ctx, s, i.Interaction, in.IsCallback(), reply); err != nil {
		b.log.Warn("discord respond", "user_id", in.UserID, "err", err)
	}
}

// inboundFor maps slash commands to "/name" text and button presses to their
// custom id.
func inboundFor(i *discordgo.InteractionCreate) (bot.Inbound, bool) {
	if i == nil || i.Interaction == nil {
		return bot.Inbound{}, false
	}
	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user == nil || user.Bot {
		return bot.Inbound{}, false
	}
	in := bot.Inbound{UserID: UserPrefix + user.ID, ChatID: i.ChannelID}
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		in.Text = "/" + i.ApplicationCommandData().Name
	case discordgo.InteractionMessageComponent:
		in.Callback = i.MessageComponentData().CustomID
	default:
		return bot.Inbound{}, false
	}
	return in, true
}

func respond(ctx context.Context, s *discordgo.Session, it *discordgo.Interaction, update bool, reply bot.Reply) error {
	kind := discordgo.InteractionResponseChannelMessageWithSource
	if update {
		kind = discordgo.InteractionResponseUpdateMessage
	}
	empty := []discordgo.MessageComponent{}

	first := &discordgo.InteractionResponseData{Content: markdown(reply.Text), Components: components(reply.Buttons)}
	if len(reply.Prelude) > 0 {
		first = &discordgo.InteractionResponseData{Content: markdown(reply.Prelude[0].Text), Components: empty}
	}
	if err := s.InteractionRespond(it, &discordgo.InteractionResponse{Type: kind, Data: first}); err != nil {
		return err
	}
	if len(reply.Prelude) == 0 {
		return nil
	}

	for n, f := range reply.Prelude {
		if n > 0 {
			content := markdown(f.Text)
			if _, err := s.InteractionResponseEdit(it, &discordgo.WebhookEdit{Content: &content, Components: &empty}); err != nil {
				return err
			}
		}
		if err := sleepWithContext(ctx, f.Hold); err != nil {
			return err
		}
	}
	content := markdown(reply.Text)
	rows := components(reply.Buttons)
	_, err := s.InteractionResponseEdit(it, &discordgo.WebhookEdit{Content: &content, Components: &rows})
	return err
}

// markdown turns the router's single-asterisk bold into Discord's double.
func markdown(text string) string {
	return strings.ReplaceAll(text, "*", "**")
}

func components(rows [][]bot.Button) []discordgo.MessageComponent {
	out := []discordgo.MessageComponent{}
	for _, row := range rows {
		if len(out) == maxRows {
			break
		}
		buttons := make([]discordgo.MessageComponent, 0, len(row))
		for _, b := range row {
			if len(buttons) == maxRowButtons {
				break
			}
			label := b.Label
			if r := []rune(label); len(r) > maxLabelLength {
				label = string(r[:maxLabelLength])
			}
			buttons = append(buttons, discordgo.Button{Label: label, Style: discordgo.SecondaryButton, CustomID: b.Callback})
		}
		if len(buttons) > 0 {
			out = append(out, discordgo.ActionsRow{Components: buttons})
		}
	}
	return out
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
