package bot

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ascension/internal/game"
	"ascension/internal/ledger"
	"ascension/internal/store"
)

var testNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T) (*Router, *time.Time) {
	t.Helper()
	st, err := store.OpenFile(filepath.Join(t.TempDir(), "state.json"), ledger.DefaultDefinitions())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	now := testNow
	clock := func() time.Time { return now }
	svc := game.NewService(st, nil, nil, game.Options{Clock: clock, Seed: 3})
	return NewRouter(svc, nil, WithClock(clock)), &now
}

func hasCallback(r Reply, cb string) bool {
	for _, row := range r.Buttons {
		for _, b := range row {
			if b.Callback == cb {
				return true
			}
		}
	}
	return false
}

func TestCommandsRoute(t *testing.T) {
	r, _ := newTestRouter(t)
	tests := []struct {
		text string
		want string
	}{
		{"/start", "WELCOME TO ASCENSION"},
		{"/menu", "MAIN MENU"},
		{"/profile", "YOUR PROFILE"},
		{"/help", "HOW ASCENSION WORKS"},
		{"/badges", "YOUR BADGES"},
		{"/leaderboards", "WEEKLY XP"},
		{"/challenges", "DAILY CHALLENGES"},
		{"/games", "MINIGAMES"},
		{"/activity", "RECENT ACTIVITY"},
		{"/settings", "SETTINGS"},
		{"/grind@AscensionBot", "+172 XP"},
		{"hello there", "MAIN MENU"},
	}
	for _, tc := range tests {
		reply := r.Handle(context.Background(), Inbound{UserID: "42", ChatID: "42", Text: tc.text})
		if !strings.Contains(reply.Text, tc.want) {
			t.Fatalf("%q: got %q want it to contain %q", tc.text, reply.Text, tc.want)
		}
	}
}

func TestCallbacksRoute(t *testing.T) {
	r, _ := newTestRouter(t)
	tests := []struct {
		callback string
		want     string
	}{
		{"menu_main", "MAIN MENU"},
		{"prof_main", "YOUR PROFILE"},
		{"badge_main", "YOUR BADGES"},
		{"badge_detail_Keeper", "0/30 days"},
		{"lb_grinds", "WEEKLY GRINDS"},
		{"lb_badges", "BADGE COLLECTORS"},
		{"ch_main", "WEEKLY CHALLENGES"},
		{"help_main", "HOW ASCENSION WORKS"},
		{"games_main", "MINIGAMES"},
		{"tap:intro", "TAP SPEED TEST"},
		{"door:intro", "DARK CORRIDOR"},
		{"lb_karma", "MAIN MENU"},
		{"badge_detail_Nope", "MAIN MENU"},
		{"set_theme", "SETTINGS"},
		{"act_main", "RECENT ACTIVITY"},
		{"prof_stats", "POWER STATS"},
	}
	for _, tc := range tests {
		reply := r.Handle(context.Background(), Inbound{UserID: "42", Callback: tc.callback})
		if !strings.Contains(reply.Text, tc.want) {
			t.Fatalf("%q: got %q want it to contain %q", tc.callback, reply.Text, tc.want)
		}
	}
}

func TestGrindThenCooldown(t *testing.T) {
	r, now := newTestRouter(t)
	ctx := context.Background()

	first := r.Handle(ctx, Inbound{UserID: "7", Callback: "prof_grind"})
	if !strings.Contains(first.Text, "+172 XP") || !hasCallback(first, "grind") {
		t.Fatalf("first grind: %+v", first)
	}
	*now = now.Add(5 * time.Second)
	second := r.Handle(ctx, Inbound{UserID: "7", Callback: "grind"})
	if !strings.Contains(second.Text, "Cooldown Active") || !strings.Contains(second.Text, "25 seconds") {
		t.Fatalf("second grind: %q", second.Text)
	}
}

func TestActivityAndPowerStats(t *testing.T) {
	r, now := newTestRouter(t)
	ctx := context.Background()

	empty := r.Handle(ctx, Inbound{UserID: "5", Callback: "act_main"})
	if !strings.Contains(empty.Text, "Nothing yet") {
		t.Fatalf("empty log: %q", empty.Text)
	}
	r.Handle(ctx, Inbound{UserID: "5", Callback: "grind"})
	*now = now.Add(90 * time.Second)

	log := r.Handle(ctx, Inbound{UserID: "5", Text: "/activity"})
	if !strings.Contains(log.Text, "+172 XP (grind), 1 minute 30 seconds ago") {
		t.Fatalf("activity: %q", log.Text)
	}

	profile := r.Handle(ctx, Inbound{UserID: "5", Callback: "prof_main"})
	if !hasCallback(profile, "prof_stats") {
		t.Fatalf("profile has no stats button: %+v", profile.Buttons)
	}
	stats := r.Handle(ctx, Inbound{UserID: "5", Callback: "prof_stats"})
	for _, want := range []string{"POWER STATS", "Next: *Apprentice* in 328 XP", "Challenges done: *1*"} {
		if !strings.Contains(stats.Text, want) {
			t.Fatalf("stats missing %q: %q", want, stats.Text)
		}
	}
}

func TestSettingsToggleLeaderboards(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()
	r.Handle(ctx, Inbound{UserID: "5", Callback: "grind"})

	screen := r.Handle(ctx, Inbound{UserID: "5", Text: "/settings"})
	if !strings.Contains(screen.Text, "Leaderboards: *shown*") || !hasCallback(screen, "set_boards") {
		t.Fatalf("settings: %+v", screen)
	}
	hidden := r.Handle(ctx, Inbound{UserID: "5", Callback: "set_boards"})
	if !strings.Contains(hidden.Text, "Leaderboards: *hidden*") {
		t.Fatalf("after toggle: %q", hidden.Text)
	}
	board := r.Handle(ctx, Inbound{UserID: "5", Callback: "lb_xp"})
	if !strings.Contains(board.Text, "No one on the board yet") {
		t.Fatalf("hidden user on board: %q", board.Text)
	}
	shown := r.Handle(ctx, Inbound{UserID: "5", Callback: "set_boards"})
	if !strings.Contains(shown.Text, "Leaderboards: *shown*") {
		t.Fatalf("toggle back: %q", shown.Text)
	}
}

func TestOnboardingFlow(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	step1 := r.Handle(ctx, Inbound{UserID: "9", Callback: "onb_next"})
	if !strings.Contains(step1.Text, "STEP 1 COMPLETE") || !hasCallback(step1, "onb_next") {
		t.Fatalf("step 1: %+v", step1)
	}
	step2 := r.Handle(ctx, Inbound{UserID: "9", Callback: "onb_next"})
	if !strings.Contains(step2.Text, "What drives you") || !hasCallback(step2, "onb_ans_C") {
		t.Fatalf("step 2: %+v", step2)
	}
	done := r.Handle(ctx, Inbound{UserID: "9", Callback: "onb_ans_C"})
	if !strings.Contains(done.Text, "BADGE UNLOCKED") || !strings.Contains(done.Text, "Initiate") {
		t.Fatalf("final step: %q", done.Text)
	}
	again := r.Handle(ctx, Inbound{UserID: "9", Callback: "onb_next"})
	if !strings.Contains(again.Text, "ONBOARDING COMPLETE") || strings.Contains(again.Text, "BADGE") {
		t.Fatalf("repeat: %q", again.Text)
	}
	bad := r.Handle(ctx, Inbound{UserID: "9", Callback: "onb_ans_Q"})
	if !strings.Contains(bad.Text, "MAIN MENU") {
		t.Fatalf("bad answer: %q", bad.Text)
	}
}

func TestTapRoundPreludeAndScore(t *testing.T) {
	r, now := newTestRouter(t)
	ctx := context.Background()

	round := r.Handle(ctx, Inbound{UserID: "5", Callback: "tap:start"})
	if len(round.Prelude) != 1 || round.Prelude[0].Hold < 1500*time.Millisecond {
		t.Fatalf("prelude: %+v", round.Prelude)
	}
	if len(round.Buttons) != 1 || len(round.Buttons[0]) != 1 {
		t.Fatalf("buttons: %+v", round.Buttons)
	}
	tap := round.Buttons[0][0].Callback
	if !strings.HasPrefix(tap, "tap:") || strings.Count(tap, ":") != 1 {
		t.Fatalf("tap callback %q", tap)
	}

	*now = now.Add(round.Prelude[0].Hold + 450*time.Millisecond)
	res := r.Handle(ctx, Inbound{UserID: "5", Callback: tap})
	if !strings.Contains(res.Text, "Great speed") || !strings.Contains(res.Text, "450ms") || !strings.Contains(res.Text, "+120 XP") {
		t.Fatalf("tap result: %q", res.Text)
	}

	reused := r.Handle(ctx, Inbound{UserID: "5", Callback: tap})
	if !strings.Contains(reused.Text, "expired") {
		t.Fatalf("reused token: %q", reused.Text)
	}
}

func TestRushRoundFlashesSequence(t *testing.T) {
	r, _ := newTestRouter(t)
	round := r.Handle(context.Background(), Inbound{UserID: "5", Callback: "rush:start"})
	if len(round.Prelude) < 3 {
		t.Fatalf("prelude: %+v", round.Prelude)
	}
	for _, f := range round.Prelude {
		if f.Hold != 300*time.Millisecond {
			t.Fatalf("frame hold %s", f.Hold)
		}
	}
	if len(round.Buttons[0]) != 3 || !strings.HasPrefix(round.Buttons[0][2].Callback, "rush:") {
		t.Fatalf("buttons: %+v", round.Buttons)
	}
}

func TestCorridorRoundUsesDoorPrefix(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()
	round := r.Handle(ctx, Inbound{UserID: "5", Callback: "door:start"})
	if len(round.Buttons) != 1 || len(round.Buttons[0]) != 3 {
		t.Fatalf("buttons: %+v", round.Buttons)
	}
	pick := round.Buttons[0][1].Callback
	if !strings.HasPrefix(pick, "door:") || !strings.HasSuffix(pick, ":1") {
		t.Fatalf("door callback %q", pick)
	}
	res := r.Handle(ctx, Inbound{UserID: "5", Callback: pick})
	if !hasCallback(res, "door:start") && !strings.Contains(res.Text, "Teleported") {
		t.Fatalf("pick result: %+v", res)
	}
}

func TestLeaderboardShowsCountdown(t *testing.T) {
	r, _ := newTestRouter(t)
	r.Handle(context.Background(), Inbound{UserID: "alice", Text: "/grind"})
	reply := r.Handle(context.Background(), Inbound{UserID: "alice", Callback: "lb_xp"})
	if !strings.Contains(reply.Text, "🥇 `alice` · *172*") {
		t.Fatalf("standings: %q", reply.Text)
	}
	// Wednesday noon to Monday midnight.
	if !strings.Contains(reply.Text, "Resets in 4 days 12 hours") {
		t.Fatalf("countdown: %q", reply.Text)
	}
	if hasCallback(reply, "lb_xp") || !hasCallback(reply, "lb_grinds") {
		t.Fatalf("tabs: %+v", reply.Buttons)
	}
}

func TestCountdown(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "now"},
		{-time.Minute, "now"},
		{30 * time.Second, "30 seconds"},
		{90 * time.Minute, "1 hour 30 minutes"},
		{26*time.Hour + 5*time.Minute + 3*time.Second, "1 day 2 hours"},
	}
	for _, tc := range tests {
		if got := Countdown(tc.d); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.d, got, tc.want)
		}
	}
}

type failingGame struct{ Game }

func (failingGame) Profile(context.Context, string) (game.Profile, error) {
	return game.Profile{}, errors.New("boom")
}

func TestFailuresRenderErrorScreen(t *testing.T) {
	r := NewRouter(failingGame{}, nil)
	reply := r.Handle(context.Background(), Inbound{UserID: "1", Text: "/profile"})
	if !strings.Contains(reply.Text, "Something went wrong") || !hasCallback(reply, "menu_main") {
		t.Fatalf("got %+v", reply)
	}
	if empty := r.Handle(context.Background(), Inbound{Text: "/menu"}); !strings.Contains(empty.Text, "Something went wrong") {
		t.Fatalf("missing user: %+v", empty)
	}
}
