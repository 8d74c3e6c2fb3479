package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"ascension/internal/game"
	"ascension/internal/ledger"

	"github.com/fatih/color"
	"github.com/hako/durafmt"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

var medals = []string{"1st", "2nd", "3rd"}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

// promptSecret reads without echo when stdin is a terminal.
func promptSecret(label string) (string, error) {
	fmt.Printf("%s: ", label)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		text, err := stdinReader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		return strings.TrimSpace(text), nil
	}
	raw, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func renderProfile(w io.Writer, p game.Profile) {
	accent.Fprintf(w, "\n== PROFILE %s ==\n", p.UserID)
	fmt.Fprintf(w, "Rank:          %s\n", p.Rank)
	fmt.Fprintf(w, "XP:            %s\n", comma(p.XP))
	fmt.Fprintf(w, "Streak:        %d day(s)\n", p.Streak)
	fmt.Fprintf(w, "Grinds today:  %d\n", p.GrindsToday)
	fmt.Fprintf(w, "Badges:        %d\n", p.BadgeCount)
	fmt.Fprintln(w)
}

func renderStats(w io.Writer, st game.Stats) {
	renderProfile(w, st.Profile)
	if st.NextRank != "" {
		fmt.Fprintf(w, "Next rank:     %s in %s XP\n", st.NextRank, comma(st.XPToNext))
	} else {
		success.Fprintln(w, "Top rank reached.")
	}
	fmt.Fprintf(w, "This week:     %s XP over %d grind(s)\n", comma(st.WeeklyXP), st.WeeklyGrinds)
	fmt.Fprintf(w, "Badges:        %d/%d\n", st.BadgeCount, st.BadgesTotal)
	fmt.Fprintf(w, "Challenges:    %d done\n", st.ChallengesDone)
	if st.Top3 {
		accent.Fprintln(w, "Finished last week in the top 3.")
	}
	if !st.MemberSince.IsZero() {
		fmt.Fprintf(w, "Member since:  %s\n", st.MemberSince.Format("2006-01-02"))
	}
	fmt.Fprintln(w)
}

func renderActivity(w io.Writer, entries []ledger.ActivityEntry, now time.Time) {
	accent.Fprintln(w, "\n== RECENT ACTIVITY ==")
	if len(entries) == 0 {
		neutral.Fprintln(w, "Nothing yet.")
		return
	}
	for _, e := range entries {
		label := e.Detail
		if label == "" {
			label = e.Source
		}
		ago := "just now"
		if d := now.Sub(e.At); d >= time.Second {
			ago = countdown(d) + " ago"
		}
		fmt.Fprintf(w, "%-16s %-24s %8s  %s\n", truncate(e.Kind, 16), truncate(label, 24), colorizeDelta(e.XPDelta), ago)
	}
	fmt.Fprintln(w)
}

func renderBadges(w io.Writer, badges []game.BadgeView) {
	accent.Fprintln(w, "\n== BADGES ==")
	if len(badges) == 0 {
		neutral.Fprintln(w, "No badges defined.")
		return
	}
	fmt.Fprintf(w, "%-3s %-16s %-14s %-40s\n", "", "BADGE", "PROGRESS", "DESCRIPTION")
	for _, b := range badges {
		mark := neutral.Sprint(" - ")
		if b.Unlocked {
			mark = success.Sprint(" ✓ ")
		}
		fmt.Fprintf(w, "%s %-16s %-14s %-40s\n", mark, truncate(b.Name, 16), truncate(b.Progress, 14), truncate(b.Description, 40))
	}
	fmt.Fprintln(w)
}

func renderChallenges(w io.Writer, board game.ChallengeBoard) {
	accent.Fprintln(w, "\n== CHALLENGES ==")
	for _, section := range []struct {
		title string
		rows  []ledger.ChallengeStatus
	}{
		{title: "Daily", rows: board.Daily},
		{title: "Weekly", rows: board.Weekly},
	} {
		accent.Fprintln(w, section.title)
		if len(section.rows) == 0 {
			neutral.Fprintln(w, "  none")
			continue
		}
		for _, c := range section.rows {
			status := fmt.Sprintf("%d/%d", min(c.Current, c.Required), c.Required)
			if c.Completed {
				status = success.Sprint("done")
			}
			fmt.Fprintf(w, "  %-22s %-10s +%d XP\n", truncate(c.Title, 22), status, c.RewardXP)
		}
	}
	fmt.Fprintln(w)
}

func renderLeaderboard(w io.Writer, lb game.Leaderboard, now time.Time) {
	accent.Fprintf(w, "\n== WEEKLY TOP (%s) ==\n", strings.ToUpper(string(lb.Metric)))
	if len(lb.Standings) == 0 {
		neutral.Fprintln(w, "Nobody on the board yet.")
	}
	for i, s := range lb.Standings {
		place := strconv.Itoa(i + 1)
		if i < len(medals) {
			place = medals[i]
		}
		fmt.Fprintf(w, "%-4s %-24s %10s\n", place, truncate(s.UserID, 24), comma(s.Value))
	}
	if !lb.NextReset.IsZero() {
		fmt.Fprintf(w, "Resets in %s\n", countdown(lb.NextReset.Sub(now)))
	}
	fmt.Fprintln(w)
}

func renderResult(w io.Writer, res game.Result) {
	switch res.Kind {
	case game.ResultCooldown:
		warn.Fprintf(w, "Cooldown: try again in %s\n", countdown(res.RetryAfter()))
		return
	case game.ResultNoOp:
		neutral.Fprintf(w, "Nothing changed. %s\n", res.Detail)
		return
	case game.ResultFailure:
		danger.Fprintln(w, res.Detail)
		return
	}
	headline := "XP GAINED"
	switch res.Kind {
	case game.ResultRankUp:
		headline = "RANK UP: " + res.Detail
	case game.ResultBadgeUnlocked:
		headline = "BADGE UNLOCKED: " + res.Detail
	case game.ResultStreakMilestone:
		headline = res.Detail + "-day streak"
	}
	success.Fprintln(w, headline)
	if res.Outcome != "" {
		fmt.Fprintf(w, "Outcome:  %s\n", res.Outcome)
	}
	if res.ReactionMS > 0 {
		fmt.Fprintf(w, "Reaction: %dms\n", res.ReactionMS)
	}
	fmt.Fprintf(w, "XP:       %s (now %s)\n", colorizeDelta(res.XPDelta), comma(res.Profile.XP))
	for _, b := range res.NewBadges {
		fmt.Fprintf(w, "Badge:    %s\n", b)
	}
	for _, c := range res.CompletedChallenges {
		fmt.Fprintf(w, "Done:     %s\n", c)
	}
	if s := res.Session; s != nil {
		accent.Fprintf(w, "Session %s (%s)\n", s.Token, s.Game)
		if s.Prompt != "" {
			fmt.Fprintln(w, s.Prompt)
		}
		for i, opt := range s.Options {
			fmt.Fprintf(w, "  %d. %s\n", i, opt)
		}
		if len(s.Flash) > 0 {
			fmt.Fprintf(w, "Flash:    %s\n", strings.Join(s.Flash, " "))
		}
	}
}

func countdown(d time.Duration) string {
	if d < time.Second {
		return "now"
	}
	return durafmt.Parse(d.Round(time.Second)).LimitFirstN(2).String()
}

func colorizeDelta(v int64) string {
	text := strconv.FormatInt(v, 10)
	switch {
	case v > 0:
		return success.Sprint("+" + text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign, v = "-", -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
