package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hako/durafmt"

	"ascension/internal/game"
	"ascension/internal/ledger"
)

var (
	menuButton    = Button{Label: "🏠 Menu", Callback: "menu_main"}
	profileButton = Button{Label: "🧿 Profile", Callback: "prof_main"}
	gamesButton   = Button{Label: "🎮 Games", Callback: "games_main"}
)

const onboardingQuestion = "What drives you to ascend?\n\nA. Discipline\nB. Competition\nC. Curiosity\nD. Community\nE. All of it"

var metricTitles = map[ledger.Metric]string{
	ledger.MetricXP:     "⚡ WEEKLY XP",
	ledger.MetricGrinds: "⚙️ WEEKLY GRINDS",
	ledger.MetricBadges: "🎖 BADGE COLLECTORS",
}

var medals = []string{"🥇", "🥈", "🥉"}

// Countdown renders d as "2 days 3 hours" style text.
func Countdown(d time.Duration) string {
	if d < time.Second {
		return "now"
	}
	return durafmt.Parse(d.Round(time.Second)).LimitFirstN(2).String()
}

func welcomeScreen(brand string) Reply {
	return Reply{
		Text: fmt.Sprintf("🔥 *WELCOME TO %s* 🔥\n\n"+
			"Every action lifts you higher. 🌀\n"+
			"Grind for XP, keep your streak alive, unlock badges and climb the weekly boards.", strings.ToUpper(brand)),
		Buttons: [][]Button{
			{{Label: "🔵 Begin Ascension", Callback: "onb_next"}},
			{{Label: "🌀 How it works", Callback: "help_main"}},
			{{Label: "🏆 Leaderboards", Callback: "lb_xp"}},
			{profileButton},
		},
	}
}

func menuScreen() Reply {
	return Reply{
		Text: "🌀 *MAIN MENU*\n\nChoose your next move.",
		Buttons: [][]Button{
			{{Label: "🔥 Grind", Callback: "grind"}, profileButton},
			{{Label: "🏅 Badges", Callback: "badge_main"}, {Label: "📅 Challenges", Callback: "ch_main"}},
			{{Label: "🏆 Leaderboards", Callback: "lb_xp"}, gamesButton},
			{{Label: "📜 Activity", Callback: "act_main"}, {Label: "⚙️ Settings", Callback: "set_main"}},
			{{Label: "❓ Help", Callback: "help_main"}},
		},
	}
}

func helpScreen(brand string) Reply {
	return Reply{
		Text: fmt.Sprintf("❓ *HOW %s WORKS*\n\n"+
			"🔥 /grind earns XP every 30 seconds. Longer streaks pay more.\n"+
			"📆 Act once a day to keep your streak alive.\n"+
			"🏅 Badges unlock from XP, streaks, grinds and weekly wins.\n"+
			"📅 Daily and weekly challenges pay bonus XP once.\n"+
			"🏆 Weekly boards reset every Monday 00:00 UTC. The top 3 earn Dominator.\n"+
			"🎮 Minigames pay XP for speed and nerve.", strings.ToUpper(brand)),
		Buttons: [][]Button{{menuButton}},
	}
}

func errorScreen() Reply {
	return Reply{
		Text:    "⚠️ Something went wrong. Please try again.",
		Buttons: [][]Button{{menuButton}},
	}
}

func expiredScreen() Reply {
	return Reply{
		Text:    "⌛ That round has expired. Start a new one.",
		Buttons: [][]Button{{gamesButton}, {menuButton}},
	}
}

func profileScreen(p game.Profile) Reply {
	return Reply{
		Text: fmt.Sprintf("💠 *YOUR PROFILE*\n\n"+
			"🏅 Rank: *%s*\n"+
			"⚡ XP: *%d*\n"+
			"🔥 Streak: *%d days*\n"+
			"⚙️ Grinds Today: *%d*\n\n"+
			"🎖 Badges: *%d unlocked*", p.Rank, p.XP, p.Streak, p.GrindsToday, p.BadgeCount),
		Buttons: [][]Button{
			{{Label: "🔥 Grind", Callback: "prof_grind"}},
			{{Label: "🏅 Badges", Callback: "badge_main"}},
			{{Label: "📅 Challenges", Callback: "ch_main"}},
			{{Label: "💠 Power Stats", Callback: "prof_stats"}},
			{menuButton},
		},
	}
}

func statsScreen(st game.Stats) Reply {
	var b strings.Builder
	b.WriteString("💠 *POWER STATS*\n\n")
	fmt.Fprintf(&b, "🏅 Rank: *%s*\n", st.Rank)
	if st.NextRank != "" {
		fmt.Fprintf(&b, "⏫ Next: *%s* in %d XP\n", st.NextRank, st.XPToNext)
	} else {
		b.WriteString("⏫ Next: *top rank reached*\n")
	}
	fmt.Fprintf(&b, "⚡ XP: *%d* (this week %d)\n", st.XP, st.WeeklyXP)
	fmt.Fprintf(&b, "⚙️ Grinds: *%d* today, %d this week\n", st.GrindsToday, st.WeeklyGrinds)
	fmt.Fprintf(&b, "🔥 Streak: *%d days*\n", st.Streak)
	fmt.Fprintf(&b, "🎖 Badges: *%d/%d*\n", st.BadgeCount, st.BadgesTotal)
	fmt.Fprintf(&b, "📅 Challenges done: *%d*", st.ChallengesDone)
	if st.Top3 {
		b.WriteString("\n🏆 Top 3 last week")
	}
	return Reply{
		Text:    b.String(),
		Buttons: [][]Button{{profileButton}, {menuButton}},
	}
}

var activityTitles = map[string]string{
	string(game.ResultXPGranted):       "⚡",
	string(game.ResultBadgeUnlocked):   "🎖",
	string(game.ResultRankUp):          "🏅",
	string(game.ResultStreakMilestone): "🔥",
}

func activityScreen(entries []ledger.ActivityEntry, now time.Time) Reply {
	var b strings.Builder
	b.WriteString("📜 *RECENT ACTIVITY*\n")
	if len(entries) == 0 {
		b.WriteString("\nNothing yet. Go /grind.")
	}
	for _, e := range entries {
		icon := activityTitles[e.Kind]
		if icon == "" {
			icon = "•"
		}
		line := fmt.Sprintf("%s %s XP", icon, signed(e.XPDelta))
		if e.Kind != string(game.ResultXPGranted) && e.Detail != "" {
			line += " · " + e.Detail
		}
		if e.Source != "" {
			line += " (" + strings.ReplaceAll(e.Source, "_", " ") + ")"
		}
		when := "just now"
		if d := now.Sub(e.At); d >= time.Second {
			when = Countdown(d) + " ago"
		}
		fmt.Fprintf(&b, "\n%s, %s", line, when)
	}
	return Reply{
		Text:    b.String(),
		Buttons: [][]Button{{profileButton}, {menuButton}},
	}
}

func settingsScreen(set ledger.Settings, notice string) Reply {
	state, label := "shown", "🙈 Hide me from leaderboards"
	if set.HideFromBoards {
		state, label = "hidden", "👀 Show me on leaderboards"
	}
	text := fmt.Sprintf("⚙️ *SETTINGS*\n\n🏆 Leaderboards: *%s*", state)
	if notice != "" {
		text += "\n\n✅ Now " + notice + "."
	}
	return Reply{
		Text:    text,
		Buttons: [][]Button{{{Label: label, Callback: "set_boards"}}, {menuButton}},
	}
}

func grindScreen(res game.Result) Reply {
	cont := []Button{{Label: "Continue", Callback: "prof_main"}}
	switch res.Kind {
	case game.ResultCooldown:
		return Reply{
			Text:    fmt.Sprintf("⏳ *Cooldown Active*\nWait *%s*.", Countdown(res.RetryAfter())),
			Buttons: [][]Button{{{Label: "↩️ Back", Callback: "prof_main"}}},
		}
	case game.ResultFailure:
		return errorScreen()
	}
	return Reply{
		Text:    resultHeadline(res) + "\n\n" + statLine(res.Profile),
		Buttons: [][]Button{{{Label: "🔥 Grind again", Callback: "grind"}}, cont},
	}
}

// resultHeadline describes the most notable thing a result carries.
func resultHeadline(res game.Result) string {
	var b strings.Builder
	switch res.Kind {
	case game.ResultBadgeUnlocked:
		fmt.Fprintf(&b, "🎖 *BADGE UNLOCKED!*\nYou earned: *%s*", strings.Join(res.NewBadges, ", "))
	case game.ResultRankUp:
		fmt.Fprintf(&b, "🏅 *RANK UP!*\nYou are now *%s*.", res.Detail)
	case game.ResultStreakMilestone:
		fmt.Fprintf(&b, "🔥 *STREAK MILESTONE*\nYou've reached *%s days*!", res.Detail)
	case game.ResultXPGranted:
		fmt.Fprintf(&b, "⚡ %s XP", signed(res.XPDelta))
	default:
		b.WriteString("Nothing changed.")
	}
	if res.Kind != game.ResultXPGranted && res.XPDelta != 0 {
		fmt.Fprintf(&b, "\n⚡ %s XP", signed(res.XPDelta))
	}
	if len(res.CompletedChallenges) > 0 {
		fmt.Fprintf(&b, "\n📅 Challenge complete: %s", strings.Join(res.CompletedChallenges, ", "))
	}
	return b.String()
}

func statLine(p game.Profile) string {
	return fmt.Sprintf("🏅 %s · ⚡ %d XP · 🔥 %d days", p.Rank, p.XP, p.Streak)
}

func signed(n int64) string {
	if n > 0 {
		return fmt.Sprintf("+%d", n)
	}
	return fmt.Sprintf("%d", n)
}

func badgeListScreen(views []game.BadgeView) Reply {
	var b strings.Builder
	b.WriteString("🏅 *YOUR BADGES*\n\n")
	unlocked := 0
	for _, v := range views {
		if v.Unlocked {
			fmt.Fprintf(&b, "🟦 *%s*\n", v.Name)
			unlocked++
		}
	}
	if unlocked == 0 {
		b.WriteString("_You haven't unlocked any badges yet._\n")
	}

	rows := make([][]Button, 0, len(views)+1)
	for _, v := range views {
		rows = append(rows, []Button{{Label: v.Name, Callback: "badge_detail_" + v.Name}})
	}
	rows = append(rows, []Button{menuButton, profileButton})
	return Reply{Text: strings.TrimRight(b.String(), "\n"), Buttons: rows}
}

func badgeDetailScreen(v game.BadgeView) Reply {
	status := "Progress: `" + v.Progress + "`"
	if v.Unlocked {
		status = "✅ *Unlocked*"
	}
	return Reply{
		Text:    fmt.Sprintf("📜 *%s*\n\n%s\n\n%s", v.Name, v.Description, status),
		Buttons: [][]Button{{{Label: "↩️ Back", Callback: "badge_main"}}, {menuButton}},
	}
}

func leaderboardScreen(lb game.Leaderboard, now time.Time) Reply {
	var b strings.Builder
	fmt.Fprintf(&b, "🏆 *%s*\n\n", metricTitles[lb.Metric])
	if len(lb.Standings) == 0 {
		b.WriteString("_No one on the board yet._\n")
	}
	for i, s := range lb.Standings {
		fmt.Fprintf(&b, "%s `%s` · *%d*\n", medals[i%len(medals)], s.UserID, s.Value)
	}
	fmt.Fprintf(&b, "\n⏳ Resets in %s", Countdown(lb.NextReset.Sub(now)))

	tabs := make([]Button, 0, len(metricTitles))
	for _, m := range []ledger.Metric{ledger.MetricXP, ledger.MetricGrinds, ledger.MetricBadges} {
		if m != lb.Metric {
			tabs = append(tabs, Button{Label: metricTitles[m], Callback: "lb_" + string(m)})
		}
	}
	return Reply{Text: b.String(), Buttons: [][]Button{tabs, {menuButton}}}
}

func challengesScreen(board game.ChallengeBoard) Reply {
	var b strings.Builder
	b.WriteString("📅 *CHALLENGES*\n\n🔥 *DAILY CHALLENGES*\n")
	writeChallenges(&b, board.Daily)
	b.WriteString("\n🏆 *WEEKLY CHALLENGES*\n")
	writeChallenges(&b, board.Weekly)
	return Reply{
		Text:    strings.TrimRight(b.String(), "\n"),
		Buttons: [][]Button{{menuButton}, {profileButton}},
	}
}

func writeChallenges(b *strings.Builder, list []ledger.ChallengeStatus) {
	for _, c := range list {
		status := fmt.Sprintf("%d/%d", min(c.Current, c.Required), c.Required)
		if c.Completed {
			status = "✅ Completed"
		}
		fmt.Fprintf(b, "\n• *%s* (+%d XP)\n  Progress: `%s`\n", c.Title, c.RewardXP, status)
	}
}

func onboardingScreen(res game.Result) Reply {
	step, _ := strconv.Atoi(strings.TrimPrefix(res.Outcome, "onboarding_step_"))
	if res.Outcome == "onboarding" || step >= game.OnboardingSteps {
		text := "✅ *ONBOARDING COMPLETE*\n\nYour ascension has begun."
		if res.Kind != game.ResultNoOp {
			text = resultHeadline(res) + "\n\n" + text
		}
		return Reply{
			Text:    text,
			Buttons: [][]Button{{{Label: "🔥 First Grind", Callback: "grind"}}, {menuButton}},
		}
	}

	text := fmt.Sprintf("🌀 *STEP %d COMPLETE*\n%s", step, resultHeadline(res))
	if step == game.OnboardingSteps-1 {
		// the last step is answered rather than skipped
		buttons := make([]Button, 0, 5)
		for _, c := range "ABCDE" {
			buttons = append(buttons, Button{Label: string(c), Callback: "onb_ans_" + string(c)})
		}
		return Reply{Text: text + "\n\n" + onboardingQuestion, Buttons: [][]Button{buttons}}
	}
	return Reply{Text: text, Buttons: [][]Button{{{Label: "➡️ Next", Callback: "onb_next"}}}}
}

func gamesScreen() Reply {
	return Reply{
		Text: "🎮 *MINIGAMES*\n\nTest your reflexes and nerve for XP.",
		Buttons: [][]Button{
			{{Label: "⚡ Tap Speed", Callback: "tap:intro"}},
			{{Label: "💣 Bomb Defusal", Callback: "bomb:intro"}},
			{{Label: "🌀 Ascension Rush", Callback: "rush:intro"}},
			{{Label: "🚪 Dark Corridor", Callback: "door:intro"}},
			{menuButton},
		},
	}
}

var introTexts = map[string]string{
	game.GameTap:      "⚡ *TAP SPEED TEST*\n\nWait for the signal, then tap as fast as you can.\nUnder 300ms: +200 XP\nUnder 600ms: +120 XP\nUnder 1s: +60 XP",
	game.GameBomb:     "💣 *BOMB DEFUSAL*\n\nThree bombs, one live wire. Pick the right one before it blows.\nUnder 400ms: +200 XP\nUnder 900ms: +120 XP\nUnder 1.2s: +60 XP",
	game.GameRush:     "🌀 *ASCENSION RUSH*\n\nEmojis flash one by one. Name the final one.\nCorrect: +200 XP\nWrong: −8 XP",
	game.GameCorridor: "🚪 *DARK CORRIDOR*\n\nThree doors: treasure, trap or teleport. Deeper floors pay more.",
}

func introScreen(name string) Reply {
	return Reply{
		Text: introTexts[name],
		Buttons: [][]Button{
			{{Label: "▶️ Start", Callback: callbackPrefix(name) + ":start"}},
			{{Label: "↩️ Back", Callback: "games_main"}},
		},
	}
}

// roundScreen presents an open round. Tap and rush rounds play a prelude
// before the buttons appear.
func roundScreen(name string, res game.Result) Reply {
	sess := res.Session
	if sess == nil {
		return errorScreen()
	}
	var prelude []Frame
	switch name {
	case game.GameTap:
		prelude = []Frame{{Text: "⏳ Get ready...", Hold: time.Duration(sess.DelayMS) * time.Millisecond}}
	case game.GameRush:
		hold := time.Duration(sess.FlashMS) * time.Millisecond
		for _, e := range sess.Flash {
			prelude = append(prelude, Frame{Text: e, Hold: hold})
		}
	}

	text := "*" + sess.Prompt + "*"
	if name == game.GameCorridor && sess.Depth > 0 {
		text = fmt.Sprintf("🌀 Teleported to depth *%d*\n\n%s", sess.Depth, text)
	}

	row := make([]Button, 0, len(sess.Options))
	for i, opt := range sess.Options {
		cb := choiceCallback(name, sess.Token, i)
		if name == game.GameTap {
			cb = callbackPrefix(name) + ":" + sess.Token
		}
		row = append(row, Button{Label: opt, Callback: cb})
	}
	return Reply{Text: text, Buttons: [][]Button{row}, Prelude: prelude}
}

var outcomeTexts = map[string]string{
	"insane":   "⚡ INSANE reflexes!",
	"great":    "🔥 Great speed!",
	"good":     "✅ Good reaction.",
	"too_slow": "🐢 Too slow.",
	"early":    "🚫 Too early! Wait for the signal.",
	"wrong":    "💥 WRONG!",
	"exploded": "💥 BOOM! Too late.",
	"correct":  "✅ Correct!",
	"treasure": "💰 Treasure!",
	"secret":   "✨ A secret passage!",
	"trap":     "🕳 A trap!",
}

func outcomeScreen(name string, res game.Result) Reply {
	var b strings.Builder
	if t, ok := outcomeTexts[res.Outcome]; ok {
		b.WriteString(t)
	} else {
		b.WriteString(res.Outcome)
	}
	if res.ReactionMS > 0 {
		fmt.Fprintf(&b, "\n⏱ %dms", res.ReactionMS)
	}
	if res.XPDelta != 0 || res.Kind != game.ResultNoOp {
		b.WriteString("\n\n" + resultHeadline(res))
	}
	b.WriteString("\n\n" + statLine(res.Profile))
	return Reply{
		Text: b.String(),
		Buttons: [][]Button{
			{{Label: "🔁 Play Again", Callback: callbackPrefix(name) + ":start"}},
			{gamesButton, menuButton},
		},
	}
}
