package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"

	"ascension/internal/bot"
)

func TestInboundForSlashCommand(t *testing.T) {
	i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		ChannelID: "c1",
		Data:      discordgo.ApplicationCommandInteractionData{Name: "grind"},
		Member:    &discordgo.Member{User: &discordgo.User{ID: "99"}},
	}}
	in, ok := inboundFor(i)
	if !ok || in.UserID != "discord:99" || in.Text != "/grind" || in.ChatID != "c1" || in.IsCallback() {
		t.Fatalf("inbound=%+v ok=%v", in, ok)
	}
}

func TestInboundForButtonInDM(t *testing.T) {
	i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionMessageComponent,
		Data: discordgo.MessageComponentInteractionData{CustomID: "bomb:abc:2"},
		User: &discordgo.User{ID: "7"},
	}}
	in, ok := inboundFor(i)
	if !ok || in.UserID != "discord:7" || in.Callback != "bomb:abc:2" {
		t.Fatalf("inbound=%+v ok=%v", in, ok)
	}
}

func TestInboundForIgnoresBotsAndPings(t *testing.T) {
	tests := []*discordgo.InteractionCreate{
		nil,
		{Interaction: &discordgo.Interaction{Type: discordgo.InteractionPing, User: &discordgo.User{ID: "1"}}},
		{Interaction: &discordgo.Interaction{
			Type: discordgo.InteractionApplicationCommand,
			Data: discordgo.ApplicationCommandInteractionData{Name: "menu"},
			User: &discordgo.User{ID: "2", Bot: true},
		}},
	}
	for n, i := range tests {
		if _, ok := inboundFor(i); ok {
			t.Fatalf("case %d should be ignored", n)
		}
	}
}

func TestComponentsRespectLimits(t *testing.T) {
	row := make([]bot.Button, 7)
	for i := range row {
		row[i] = bot.Button{Label: "b", Callback: "x"}
	}
	rows := [][]bot.Button{row, {}, row, row, row, row, row}
	out := components(rows)
	if len(out) != maxRows {
		t.Fatalf("rows=%d want %d", len(out), maxRows)
	}
	first := out[0].(discordgo.ActionsRow)
	if len(first.Components) != maxRowButtons {
		t.Fatalf("buttons=%d want %d", len(first.Components), maxRowButtons)
	}
	if b := first.Components[0].(discordgo.Button); b.CustomID != "x" || b.Style != discordgo.SecondaryButton {
		t.Fatalf("button=%+v", b)
	}
}

func TestMarkdown(t *testing.T) {
	if got := markdown("🏅 Rank: *Grinder*"); got != "🏅 Rank: **Grinder**" {
		t.Fatalf("got %q", got)
	}
}

func TestCommandsCoverRouter(t *testing.T) {
	want := map[string]bool{"start": true, "menu": true, "profile": true, "grind": true, "badges": true, "leaderboards": true, "challenges": true, "games": true, "help": true, "stats": true, "activity": true, "settings": true}
	for _, c := range commands {
		delete(want, c.Name)
	}
	if len(want) != 0 {
		t.Fatalf("missing commands: %v", want)
	}
}
