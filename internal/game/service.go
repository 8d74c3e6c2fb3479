package game

import (
	"context"
	"errors"
	"log/slog"
	mathrand "math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"ascension/internal/ledger"
	"ascension/internal/store"
)

type Service struct {
	store    store.Store
	defs     *ledger.Definitions
	log      *slog.Logger
	now      func() time.Time
	cooldown time.Duration
	sessions *sessionTable
	mu       sync.Mutex
	rand     *mathrand.Rand
}

type Options struct {
	GrindCooldown time.Duration
	SessionTTL    time.Duration
	Clock         func() time.Time
	Seed          int64
}

func NewService(st store.Store, defs *ledger.Definitions, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if defs == nil {
		defs = ledger.DefaultDefinitions()
	}
	if opts.GrindCooldown <= 0 {
		opts.GrindCooldown = DefaultGrindCooldown
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	return &Service{
		store:    st,
		defs:     defs,
		log:      logger,
		now:      func() time.Time { return opts.Clock().UTC() },
		cooldown: opts.GrindCooldown,
		sessions: newSessionTable(opts.SessionTTL),
		rand:     mathrand.New(mathrand.NewSource(opts.Seed)),
	}
}

func (s *Service) Definitions() *ledger.Definitions {
	return s.defs
}

// OnAction applies one user action and describes what happened. Store
// failures come back as a failure result together with the error.
func (s *Service) OnAction(ctx context.Context, userID string, kind ActionKind, payload Payload) (Result, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Result{}, ErrEmptyUserID
	}

	var (
		res Result
		err error
	)
	switch kind {
	case ActionGrind:
		res, err = s.grind(ctx, userID)
	case ActionOnboardingNext:
		res, err = s.onboarding(ctx, userID, "")
	case ActionOnboardingAnswer:
		if !validOnboardingChoice(payload.Choice) {
			return Result{}, ErrInvalidPayload
		}
		res, err = s.onboarding(ctx, userID, strings.ToUpper(payload.Choice))
	case ActionTapStart:
		res, err = s.tapStart(ctx, userID)
	case ActionTap:
		res, err = s.tap(ctx, userID, payload)
	case ActionBombStart:
		res, err = s.bombStart(ctx, userID)
	case ActionBombPick:
		res, err = s.bombPick(ctx, userID, payload)
	case ActionRushStart:
		res, err = s.rushStart(ctx, userID)
	case ActionRushAnswer:
		res, err = s.rushAnswer(ctx, userID, payload)
	case ActionCorridorStart:
		res, err = s.corridorStart(ctx, userID)
	case ActionCorridorPick:
		res, err = s.corridorPick(ctx, userID, payload)
	case ActionToggleBoards:
		res, err = s.toggleBoards(ctx, userID)
	default:
		return Result{}, ErrUnknownAction
	}
	if err != nil {
		if isStoreFailure(err) {
			s.log.Error("action failed", "user_id", userID, "kind", string(kind), "err", err)
			return Result{Kind: ResultFailure, Detail: failureDetail}, err
		}
		return Result{}, err
	}
	if res.Kind == ResultBadgeUnlocked {
		s.log.Info("badge unlocked", "user_id", userID, "badges", res.NewBadges)
	}
	return res, nil
}

func isStoreFailure(err error) bool {
	return errors.Is(err, store.ErrStoreUnavailable) || errors.Is(err, store.ErrConcurrentModification)
}

type outcome struct {
	name     string
	detail   string
	reaction time.Duration
	cooldown time.Duration
}

type mutation func(rec *ledger.UserRecord, now time.Time) (outcome, error)

// mutate runs fn inside the store's per-user section with the daily rollover
// already applied, then settles badges and challenges before the write.
// fn returning errCooldownActive or errNothingToChange aborts the write and
// still produces a result.
func (s *Service) mutate(ctx context.Context, userID string, activity bool, fn mutation) (Result, error) {
	var (
		now        time.Time
		out        outcome
		roll       ledger.Rollover
		rankBefore string
		xpBefore   int64
		badges     []string
		completed  []string
		snapshot   ledger.UserRecord
		kind       ResultKind
		detail     string
	)
	rec, err := s.store.Update(ctx, userID, func(rec *ledger.UserRecord) error {
		// Read the clock inside the section so cooldowns never see time run backwards.
		now = s.now()
		rankBefore, xpBefore = rec.Rank, rec.XP
		roll = ledger.Rollover{Streak: rec.Streak}
		if activity {
			roll = s.defs.ApplyDailyRollover(rec, now)
		}
		o, err := fn(rec, now)
		out = o
		if err != nil {
			snapshot = rec.Clone()
			return err
		}
		badges, completed = s.settle(rec)
		kind, detail = s.classify(rec, rankBefore, xpBefore, roll, badges, out.detail)
		if kind != ResultNoOp {
			rec.LogActivity(ledger.ActivityEntry{At: now, Kind: string(kind), Detail: detail, Source: out.name, XPDelta: rec.XP - xpBefore})
		}
		return nil
	})
	switch {
	case errors.Is(err, errCooldownActive):
		return Result{
			Kind:         ResultCooldown,
			Detail:       strconv.FormatInt(int64((out.cooldown+time.Second-1)/time.Second), 10),
			RetryAfterMS: out.cooldown.Milliseconds(),
			Profile:      s.profileOf(userID, snapshot, now),
		}, nil
	case errors.Is(err, errNothingToChange):
		return Result{Kind: ResultNoOp, Detail: out.detail, Outcome: out.name, Profile: s.profileOf(userID, snapshot, now)}, nil
	case err != nil:
		return Result{}, err
	}

	return Result{
		Kind:                kind,
		Detail:              detail,
		Outcome:             out.name,
		XPDelta:             rec.XP - xpBefore,
		ReactionMS:          out.reaction.Milliseconds(),
		NewBadges:           badges,
		CompletedChallenges: completed,
		Profile:             s.profileOf(userID, rec, now),
	}, nil
}

// classify picks the single most notable change: badge, rank up, streak
// milestone, then plain xp.
func (s *Service) classify(rec *ledger.UserRecord, rankBefore string, xpBefore int64, roll ledger.Rollover, badges []string, fallback string) (ResultKind, string) {
	delta := rec.XP - xpBefore
	switch {
	case len(badges) > 0:
		return ResultBadgeUnlocked, badges[0]
	case s.defs.RankIndex(rec.Rank) > s.defs.RankIndex(rankBefore):
		return ResultRankUp, rec.Rank
	case roll.Milestone:
		return ResultStreakMilestone, strconv.Itoa(roll.Streak)
	case delta != 0:
		return ResultXPGranted, strconv.FormatInt(delta, 10)
	}
	return ResultNoOp, fallback
}

// settle unlocks every badge the record qualifies for and pays the challenges
// those unlocks complete, repeating while rewards keep changing the record.
func (s *Service) settle(rec *ledger.UserRecord) (badges, completed []string) {
	for {
		unlocked := s.defs.CheckAllBadges(rec)
		done := s.defs.RefreshChallenges(rec)
		badges = append(badges, unlocked...)
		completed = append(completed, done...)
		if len(unlocked) == 0 && len(done) == 0 {
			return badges, completed
		}
	}
}

func (s *Service) grind(ctx context.Context, userID string) (Result, error) {
	return s.mutate(ctx, userID, true, func(rec *ledger.UserRecord, now time.Time) (outcome, error) {
		if !rec.LastGrindAt.IsZero() {
			if wait := s.cooldown - now.Sub(rec.LastGrindAt); wait > 0 {
				return outcome{cooldown: wait}, errCooldownActive
			}
		}
		rec.GrindsToday++
		rec.Weekly.Grinds++
		rec.LastGrindAt = now
		s.defs.GrantXP(rec, GrindXP(rec.Streak))
		return outcome{name: "grind"}, nil
	})
}

func (s *Service) onboarding(ctx context.Context, userID, answer string) (Result, error) {
	return s.mutate(ctx, userID, true, func(rec *ledger.UserRecord, _ time.Time) (outcome, error) {
		if rec.OnboardingComplete {
			return outcome{name: "onboarding", detail: "onboarding already complete"}, errNothingToChange
		}
		rec.OnboardingStep++
		if answer != "" {
			if rec.OnboardingAnswers == nil {
				rec.OnboardingAnswers = map[string]string{}
			}
			rec.OnboardingAnswers[strconv.Itoa(rec.OnboardingStep)] = answer
		}
		if rec.OnboardingStep >= OnboardingSteps {
			rec.OnboardingStep = OnboardingSteps
			rec.OnboardingComplete = true
		}
		s.defs.GrantXP(rec, OnboardingStepXP)
		return outcome{name: "onboarding_step_" + strconv.Itoa(rec.OnboardingStep)}, nil
	})
}

func (s *Service) Profile(ctx context.Context, userID string) (Profile, error) {
	rec, err := s.record(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	return s.profileOf(userID, rec, s.now()), nil
}

// record returns the stored record, or the record a new user would start with.
func (s *Service) record(ctx context.Context, userID string) (ledger.UserRecord, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ledger.UserRecord{}, ErrEmptyUserID
	}
	rec, ok, err := s.store.Get(ctx, userID)
	if err != nil {
		return ledger.UserRecord{}, err
	}
	if !ok {
		rec = s.defs.NewUserRecord(s.now())
	}
	return rec, nil
}

func (s *Service) profileOf(userID string, rec ledger.UserRecord, now time.Time) Profile {
	rank := rec.Rank
	if rank == "" {
		rank = s.defs.RankFor(rec.XP)
	}
	return Profile{
		UserID:      userID,
		XP:          rec.XP,
		Rank:        rank,
		Streak:      ledger.EffectiveStreak(rec, now),
		GrindsToday: ledger.EffectiveGrindsToday(rec, now),
		BadgeCount:  len(rec.Badges),
	}
}

func (s *Service) Leaderboard(ctx context.Context, metric string) (Leaderboard, error) {
	m, err := ledger.ParseMetric(metric)
	if err != nil {
		return Leaderboard{}, err
	}
	users, err := s.store.Scan(ctx)
	if err != nil {
		return Leaderboard{}, err
	}
	standings, err := ledger.TopN(users, m, ledger.LeaderboardSize)
	if err != nil {
		return Leaderboard{}, err
	}
	meta, err := s.store.Meta(ctx)
	if err != nil {
		return Leaderboard{}, err
	}
	next := meta.NextReset
	if next.IsZero() {
		next = ledger.NextWeeklyReset(s.now())
	}
	return Leaderboard{Metric: m, Standings: standings, NextReset: next}, nil
}

func (s *Service) BadgeStatus(ctx context.Context, userID string) ([]BadgeView, error) {
	rec, err := s.record(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]BadgeView, 0, len(s.defs.Badges))
	for _, b := range s.defs.Badges {
		p, err := s.defs.BadgeProgress(rec, b.Name)
		if err != nil {
			s.log.Warn("badge progress", "badge", b.Name, "err", err)
			continue
		}
		out = append(out, BadgeView{Name: b.Name, Description: b.Description, Unlocked: p.Unlocked, Progress: p.ProgressText})
	}
	return out, nil
}

func (s *Service) ChallengeStatus(ctx context.Context, userID string) (ChallengeBoard, error) {
	rec, err := s.record(ctx, userID)
	if err != nil {
		return ChallengeBoard{}, err
	}
	// Daily progress from an earlier day is shown as already reset.
	view := rec.Clone()
	s.defs.ApplyDailyRollover(&view, s.now())
	return ChallengeBoard{
		Daily:  s.defs.ChallengeStatus(view, ledger.PeriodDaily),
		Weekly: s.defs.ChallengeStatus(view, ledger.PeriodWeekly),
	}, nil
}

// Stats is the power-stats view of one record.
func (s *Service) Stats(ctx context.Context, userID string) (Stats, error) {
	rec, err := s.record(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	now := s.now()
	st := Stats{
		Profile:      s.profileOf(strings.TrimSpace(userID), rec, now),
		WeeklyXP:     rec.Weekly.XP,
		WeeklyGrinds: rec.Weekly.Grinds,
		BadgesTotal:  len(s.defs.Badges),
		Top3:         rec.Weekly.Top3,
		MemberSince:  rec.CreatedAt,
	}
	if next, ok := s.defs.NextRank(rec.XP); ok {
		st.NextRank = next.Name
		st.XPToNext = next.MinXP - rec.XP
	}
	view := rec.Clone()
	s.defs.ApplyDailyRollover(&view, now)
	for _, period := range []string{ledger.PeriodDaily, ledger.PeriodWeekly} {
		for _, c := range s.defs.ChallengeStatus(view, period) {
			if c.Completed {
				st.ChallengesDone++
			}
		}
	}
	return st, nil
}

// Activity returns the recent reward events of a user, newest first.
func (s *Service) Activity(ctx context.Context, userID string) ([]ledger.ActivityEntry, error) {
	rec, err := s.record(ctx, userID)
	if err != nil {
		return nil, err
	}
	return rec.RecentActivity(), nil
}

func (s *Service) Settings(ctx context.Context, userID string) (ledger.Settings, error) {
	rec, err := s.record(ctx, userID)
	if err != nil {
		return ledger.Settings{}, err
	}
	return rec.Settings, nil
}

// toggleBoards flips leaderboard visibility. It is not counted as activity.
func (s *Service) toggleBoards(ctx context.Context, userID string) (Result, error) {
	return s.mutate(ctx, userID, false, func(rec *ledger.UserRecord, _ time.Time) (outcome, error) {
		rec.Settings.HideFromBoards = !rec.Settings.HideFromBoards
		if rec.Settings.HideFromBoards {
			return outcome{name: "hidden", detail: "hidden from leaderboards"}, nil
		}
		return outcome{name: "shown", detail: "shown on leaderboards"}, nil
	})
}

func (s *Service) GrantSpecialBadge(ctx context.Context, userID, badge string) (Result, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Result{}, ErrEmptyUserID
	}
	if b, ok := s.defs.Badge(badge); !ok || b.Type != ledger.BadgeSpecial {
		return Result{}, ledger.ErrUnknownBadge
	}
	return s.mutate(ctx, userID, false, func(rec *ledger.UserRecord, _ time.Time) (outcome, error) {
		if rec.HasBadge(badge) {
			return outcome{detail: "badge already unlocked"}, errNothingToChange
		}
		return outcome{name: "special"}, s.defs.GrantSpecial(rec, badge)
	})
}

// RunWeeklyReset closes the current week unconditionally.
func (s *Service) RunWeeklyReset(ctx context.Context) (ResetReport, error) {
	return s.weeklyReset(ctx, true)
}

// DueWeeklyReset closes the week only once the scheduled reset time has
// passed. The first call on an empty store just schedules the next reset.
func (s *Service) DueWeeklyReset(ctx context.Context) (ResetReport, error) {
	meta, err := s.store.Meta(ctx)
	if err != nil {
		return ResetReport{}, err
	}
	if !meta.NextReset.IsZero() && s.now().Before(meta.NextReset) {
		return ResetReport{NextReset: meta.NextReset}, nil
	}
	return s.weeklyReset(ctx, false)
}

func (s *Service) weeklyReset(ctx context.Context, force bool) (ResetReport, error) {
	now := s.now()
	var report ResetReport
	err := s.store.Exclusive(ctx, func(users map[string]*ledger.UserRecord, meta *store.Meta) error {
		report = ResetReport{Users: len(users)}
		if !force {
			if meta.NextReset.IsZero() {
				meta.NextReset = ledger.NextWeeklyReset(now)
				report.NextReset = meta.NextReset
				return nil
			}
			if now.Before(meta.NextReset) {
				report.NextReset = meta.NextReset
				return nil
			}
		}

		report.Winners = s.defs.WeeklyReset(users)
		for _, w := range report.Winners {
			rec := users[w.UserID]
			xpBefore := rec.XP
			if badges, _ := s.settle(rec); len(badges) > 0 {
				if report.Unlocked == nil {
					report.Unlocked = map[string][]string{}
				}
				report.Unlocked[w.UserID] = badges
				rec.LogActivity(ledger.ActivityEntry{At: now, Kind: string(ResultBadgeUnlocked), Detail: badges[0], Source: "weekly_reset", XPDelta: rec.XP - xpBefore})
			}
		}
		meta.NextReset = ledger.NextWeeklyReset(now)
		report.NextReset = meta.NextReset
		report.Ran = true
		return nil
	})
	if err != nil {
		return ResetReport{}, err
	}
	if report.Ran {
		s.log.Info("weekly reset complete", "users", report.Users, "winners", len(report.Winners), "next_reset", report.NextReset)
	}
	return report, nil
}

func (s *Service) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Intn(n)
}

// between returns a uniform integer in [lo, hi].
func (s *Service) between(lo, hi int) int {
	return lo + s.intn(hi-lo+1)
}

func (s *Service) chance(p float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Float64() < p
}

// jitter returns a whole number of milliseconds in [lo, hi].
func (s *Service) jitter(lo, hi time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + time.Duration(s.rand.Int63n(int64((hi-lo)/time.Millisecond)+1))*time.Millisecond
}

func (s *Service) shuffle(items []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rand.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
}
