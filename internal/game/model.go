package game

import (
	"errors"
	"strings"
	"time"
)

type ActionKind string

const (
	ActionGrind            ActionKind = "grind"
	ActionOnboardingNext   ActionKind = "onboarding_next"
	ActionOnboardingAnswer ActionKind = "onboarding_answer"
	ActionTapStart         ActionKind = "tap_start"
	ActionTap              ActionKind = "tap"
	ActionBombStart        ActionKind = "bomb_start"
	ActionBombPick         ActionKind = "bomb_pick"
	ActionRushStart        ActionKind = "rush_start"
	ActionRushAnswer       ActionKind = "rush_answer"
	ActionCorridorStart    ActionKind = "corridor_start"
	ActionCorridorPick     ActionKind = "corridor_pick"
	ActionToggleBoards     ActionKind = "toggle_leaderboards"
)

type ResultKind string

const (
	ResultXPGranted       ResultKind = "xp_granted"
	ResultBadgeUnlocked   ResultKind = "badge_unlocked"
	ResultRankUp          ResultKind = "rank_up"
	ResultStreakMilestone ResultKind = "streak_milestone"
	ResultCooldown        ResultKind = "cooldown"
	ResultNoOp            ResultKind = "no_op"
	ResultFailure         ResultKind = "failure"
)

const (
	DefaultGrindCooldown = 30 * time.Second
	DefaultSessionTTL    = 2 * time.Minute

	GrindBaseXP       = int64(20)
	GrindStreakBonus  = int64(2)
	GrindStreakCap    = 10
	OnboardingSteps   = 3
	OnboardingStepXP  = int64(100)
	onboardingChoices = "ABCDE"

	failureDetail = "Something went wrong. Please try again."
)

var (
	ErrUnknownAction   = errors.New("unknown action")
	ErrInvalidPayload  = errors.New("invalid action payload")
	ErrSessionExpired  = errors.New("game session expired")
	ErrEmptyUserID     = errors.New("user id is required")
	errCooldownActive  = errors.New("cooldown active")
	errNothingToChange = errors.New("nothing to change")
)

func ParseAction(s string) (ActionKind, error) {
	switch a := ActionKind(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionGrind, ActionOnboardingNext, ActionOnboardingAnswer,
		ActionTapStart, ActionTap, ActionBombStart, ActionBombPick,
		ActionRushStart, ActionRushAnswer, ActionCorridorStart, ActionCorridorPick,
		ActionToggleBoards:
		return a, nil
	}
	return "", ErrUnknownAction
}

// GrindXP is the reward for one grind at the given streak.
func GrindXP(streak int) int64 {
	if streak < 0 {
		streak = 0
	}
	return GrindBaseXP + GrindStreakBonus*int64(min(streak, GrindStreakCap))
}

func validOnboardingChoice(choice string) bool {
	return len(choice) == 1 && strings.Contains(onboardingChoices, strings.ToUpper(choice))
}
