package game

import (
	"time"

	"ascension/internal/ledger"
)

type Payload struct {
	Session string `json:"session,omitempty"`
	Choice  string `json:"choice,omitempty"`
}

type Profile struct {
	UserID      string `json:"user_id"`
	XP          int64  `json:"xp"`
	Rank        string `json:"rank"`
	Streak      int    `json:"streak"`
	GrindsToday int    `json:"grinds_today"`
	BadgeCount  int    `json:"badge_count"`
}

type Stats struct {
	Profile
	NextRank       string    `json:"next_rank,omitempty"`
	XPToNext       int64     `json:"xp_to_next"`
	WeeklyXP       int64     `json:"weekly_xp"`
	WeeklyGrinds   int       `json:"weekly_grinds"`
	BadgesTotal    int       `json:"badges_total"`
	ChallengesDone int       `json:"challenges_done"`
	Top3           bool      `json:"top3"`
	MemberSince    time.Time `json:"member_since"`
}

type Result struct {
	Kind                ResultKind `json:"kind"`
	Detail              string     `json:"detail,omitempty"`
	Outcome             string     `json:"outcome,omitempty"`
	XPDelta             int64      `json:"xp_delta"`
	RetryAfterMS        int64      `json:"retry_after_ms,omitempty"`
	ReactionMS          int64      `json:"reaction_ms,omitempty"`
	NewBadges           []string   `json:"new_badges,omitempty"`
	CompletedChallenges []string   `json:"completed_challenges,omitempty"`
	Profile             Profile    `json:"profile"`
	Session             *Session   `json:"session,omitempty"`
}

func (r Result) RetryAfter() time.Duration {
	return time.Duration(r.RetryAfterMS) * time.Millisecond
}

// Session is the client-facing half of a minigame round. Everything needed to
// score the round stays on the server.
type Session struct {
	Token     string    `json:"token"`
	Game      string    `json:"game"`
	Prompt    string    `json:"prompt"`
	Options   []string  `json:"options,omitempty"`
	Flash     []string  `json:"flash,omitempty"`
	FlashMS   int64     `json:"flash_ms,omitempty"`
	DelayMS   int64     `json:"delay_ms,omitempty"`
	Depth     int       `json:"depth,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

type BadgeView struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Unlocked    bool   `json:"unlocked"`
	Progress    string `json:"progress"`
}

type ChallengeBoard struct {
	Daily  []ledger.ChallengeStatus `json:"daily"`
	Weekly []ledger.ChallengeStatus `json:"weekly"`
}

type Leaderboard struct {
	Metric    ledger.Metric     `json:"metric"`
	Standings []ledger.Standing `json:"standings"`
	NextReset time.Time         `json:"next_reset"`
}

type ResetReport struct {
	Ran       bool                `json:"ran"`
	Users     int                 `json:"users"`
	Winners   []ledger.Standing   `json:"winners"`
	Unlocked  map[string][]string `json:"unlocked,omitempty"`
	NextReset time.Time           `json:"next_reset"`
}
