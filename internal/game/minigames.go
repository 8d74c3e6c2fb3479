package game

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"ascension/internal/ledger"
)

const (
	GameTap      = "tap"
	GameBomb     = "bomb"
	GameRush     = "rush"
	GameCorridor = "corridor"
)

// Reaction tiers shared by tap and bomb rounds, fastest first.
type rewardTier struct {
	under time.Duration
	xp    int64
	name  string
}

var tapTiers = []rewardTier{
	{300 * time.Millisecond, 200, "insane"},
	{600 * time.Millisecond, 120, "great"},
	{1000 * time.Millisecond, 60, "good"},
}

var bombTiers = []rewardTier{
	{400 * time.Millisecond, 200, "insane"},
	{900 * time.Millisecond, 120, "great"},
	{1200 * time.Millisecond, 60, "good"},
}

const (
	tapMinDelay      = 1500 * time.Millisecond
	tapMaxDelay      = 3000 * time.Millisecond
	bombMinFuse      = 800 * time.Millisecond
	bombMaxFuse      = 2000 * time.Millisecond
	bombCount        = 3
	rushCorrectXP    = int64(200)
	rushPenalty      = int64(8)
	rushFlash        = 300 * time.Millisecond
	corridorDoors    = 3
	corridorSecret   = 0.05
	corridorDepthMul = 1.12
	corridorStreak   = 0.03
)

func tierReward(tiers []rewardTier, elapsed time.Duration) (int64, string) {
	if elapsed < 0 {
		return 0, "early"
	}
	for _, t := range tiers {
		if elapsed < t.under {
			return t.xp, t.name
		}
	}
	return 0, "too_slow"
}

var rushEmojis = []string{"🔥", "⚡", "💀"}

var flashSequences = [][]string{
	{"🔥", "⚡", "🔥"},
	{"⚡", "💀", "⚡"},
	{"💀", "🔥", "💀"},
	{"⚡", "⚡", "🔥"},
	{"🔥", "💀", "⚡"},

	{"🔥", "⚡", "⚡", "💀"},
	{"💀", "🔥", "🔥", "⚡"},
	{"⚡", "⚡", "💀", "🔥"},
	{"💀", "⚡", "💀", "🔥"},
	{"🔥", "🔥", "⚡", "💀"},

	{"🔥", "⚡", "🔥", "💀", "🔥"},
	{"⚡", "💀", "⚡", "🔥", "⚡"},
	{"💀", "🔥", "💀", "⚡", "💀"},
	{"🔥", "💀", "⚡", "⚡", "🔥"},
	{"⚡", "🔥", "💀", "🔥", "⚡"},

	{"🔥", "⚡", "🔥", "⚡", "💀", "🔥"},
	{"⚡", "💀", "⚡", "🔥", "💀", "⚡"},
	{"💀", "🔥", "💀", "🔥", "⚡", "💀"},
	{"🔥", "🔥", "⚡", "💀", "⚡", "🔥"},
	{"💀", "⚡", "🔥", "⚡", "💀", "🔥"},
}

// rushPool is how many of the easiest sequences a streak unlocks.
func rushPool(streak int) int {
	if streak < 0 {
		streak = 0
	}
	return min(4+streak/3, len(flashSequences)-1)
}

func corridorMultiplier(streak, depth int) float64 {
	return (1 + corridorStreak*float64(streak)) * math.Pow(corridorDepthMul, float64(depth))
}

func parseIndex(choice string, n int) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(choice))
	if err != nil || i < 0 || i >= n {
		return 0, ErrInvalidPayload
	}
	return i, nil
}

// score settles a taken round. When the write fails the round goes back to the
// table so the player can answer again.
func (s *Service) score(ctx context.Context, userID string, sess *gameSession, fn mutation) (Result, error) {
	res, err := s.mutate(ctx, userID, true, fn)
	if err != nil && isStoreFailure(err) {
		s.sessions.restore(sess)
	}
	return res, err
}

// opened answers a *_start action: nothing is written, the round is handed out.
func (s *Service) opened(ctx context.Context, userID string, sess *gameSession, view Session) (Result, error) {
	p, err := s.Profile(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	view.Token = sess.token
	view.ExpiresAt = sess.expiresAt
	return Result{Kind: ResultNoOp, Detail: view.Game + " round started", Outcome: "started", Profile: p, Session: &view}, nil
}

func (s *Service) tapStart(ctx context.Context, userID string) (Result, error) {
	now := s.now()
	delay := s.jitter(tapMinDelay, tapMaxDelay)
	sess := s.sessions.open(&gameSession{userID: userID, game: GameTap, signalAt: now.Add(delay)}, now)
	return s.opened(ctx, userID, sess, Session{
		Game:    GameTap,
		Prompt:  "Tap the moment the signal appears.",
		Options: []string{"⚡ TAP NOW!"},
		DelayMS: delay.Milliseconds(),
	})
}

func (s *Service) tap(ctx context.Context, userID string, p Payload) (Result, error) {
	sess, err := s.sessions.take(p.Session, userID, GameTap, s.now())
	if err != nil {
		return Result{}, err
	}
	return s.score(ctx, userID, sess, func(rec *ledger.UserRecord, now time.Time) (outcome, error) {
		reaction := now.Sub(sess.signalAt)
		xp, name := tierReward(tapTiers, reaction)
		out := outcome{name: name, reaction: reaction, detail: "no reward"}
		if xp > 0 {
			s.defs.GrantXP(rec, xp)
		}
		return out, nil
	})
}

func (s *Service) bombStart(ctx context.Context, userID string) (Result, error) {
	now := s.now()
	sess := s.sessions.open(&gameSession{
		userID:    userID,
		game:      GameBomb,
		startedAt: now,
		explodeAt: now.Add(s.jitter(bombMinFuse, bombMaxFuse)),
		correct:   s.intn(bombCount),
	}, now)
	return s.opened(ctx, userID, sess, Session{
		Game:    GameBomb,
		Prompt:  "Tap the correct bomb before it explodes!",
		Options: []string{"💣", "💣", "💣"},
	})
}

func (s *Service) bombPick(ctx context.Context, userID string, p Payload) (Result, error) {
	choice, err := parseIndex(p.Choice, bombCount)
	if err != nil {
		return Result{}, err
	}
	sess, err := s.sessions.take(p.Session, userID, GameBomb, s.now())
	if err != nil {
		return Result{}, err
	}
	return s.score(ctx, userID, sess, func(rec *ledger.UserRecord, now time.Time) (outcome, error) {
		elapsed := now.Sub(sess.startedAt)
		out := outcome{reaction: elapsed, detail: "no reward"}
		switch {
		case choice != sess.correct:
			out.name = "wrong"
		case now.After(sess.explodeAt):
			out.name = "exploded"
		default:
			var xp int64
			xp, out.name = tierReward(bombTiers, elapsed)
			if xp > 0 {
				s.defs.GrantXP(rec, xp)
			}
		}
		return out, nil
	})
}

func (s *Service) rushStart(ctx context.Context, userID string) (Result, error) {
	rec, err := s.record(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	now := s.now()
	seq := flashSequences[s.intn(rushPool(ledger.EffectiveStreak(rec, now)))]
	sess := s.sessions.open(&gameSession{userID: userID, game: GameRush, answer: seq[len(seq)-1]}, now)
	return s.opened(ctx, userID, sess, Session{
		Game:    GameRush,
		Prompt:  "What was the FINAL emoji?",
		Options: append([]string{}, rushEmojis...),
		Flash:   append([]string{}, seq...),
		FlashMS: rushFlash.Milliseconds(),
	})
}

func (s *Service) rushAnswer(ctx context.Context, userID string, p Payload) (Result, error) {
	choice := strings.TrimSpace(p.Choice)
	if i, err := parseIndex(choice, len(rushEmojis)); err == nil {
		choice = rushEmojis[i]
	}
	valid := false
	for _, e := range rushEmojis {
		valid = valid || e == choice
	}
	if !valid {
		return Result{}, ErrInvalidPayload
	}
	sess, err := s.sessions.take(p.Session, userID, GameRush, s.now())
	if err != nil {
		return Result{}, err
	}
	return s.score(ctx, userID, sess, func(rec *ledger.UserRecord, _ time.Time) (outcome, error) {
		if choice == sess.answer {
			s.defs.GrantXP(rec, rushCorrectXP)
			return outcome{name: "correct"}, nil
		}
		s.defs.ApplyPenalty(rec, rushPenalty)
		return outcome{name: "wrong", detail: "final emoji was " + sess.answer}, nil
	})
}

func (s *Service) corridorStart(ctx context.Context, userID string) (Result, error) {
	now := s.now()
	sess := s.sessions.open(&gameSession{userID: userID, game: GameCorridor}, now)
	return s.opened(ctx, userID, sess, corridorView(0))
}

func corridorView(depth int) Session {
	return Session{
		Game:    GameCorridor,
		Prompt:  "Three doors lie ahead. Treasure, trap or teleport?",
		Options: []string{"🚪", "🚪", "🚪"},
		Depth:   depth,
	}
}

func (s *Service) corridorPick(ctx context.Context, userID string, p Payload) (Result, error) {
	door, err := parseIndex(p.Choice, corridorDoors)
	if err != nil {
		return Result{}, err
	}
	sess, err := s.sessions.take(p.Session, userID, GameCorridor, s.now())
	if err != nil {
		return Result{}, err
	}
	res, err := s.score(ctx, userID, sess, func(rec *ledger.UserRecord, _ time.Time) (outcome, error) {
		mult := corridorMultiplier(rec.Streak, sess.depth)
		scaled := func(lo, hi int) int64 {
			return int64(float64(s.between(lo, hi)) * mult)
		}

		behind := "secret"
		if !s.chance(corridorSecret) {
			doors := []string{"treasure", "trap", "teleport"}
			s.shuffle(doors)
			behind = doors[door]
		}

		out := outcome{name: behind}
		switch behind {
		case "treasure":
			s.defs.GrantXP(rec, scaled(25, 75))
		case "secret":
			s.defs.GrantXP(rec, scaled(10, 35))
		case "trap":
			s.defs.ApplyPenalty(rec, scaled(5, 20))
		case "teleport":
			out.detail = "teleported to depth " + strconv.Itoa(sess.depth+1)
		}
		return out, nil
	})
	if err != nil {
		return Result{}, err
	}
	if res.Outcome == "teleport" {
		now := s.now()
		next := s.sessions.open(&gameSession{userID: userID, game: GameCorridor, depth: sess.depth + 1}, now)
		view := corridorView(next.depth)
		view.Token = next.token
		view.ExpiresAt = next.expiresAt
		res.Session = &view
	}
	return res, nil
}
