package ledger

import "fmt"

// Challenge keys double as the names of the record fields feeding them.
const (
	FieldGrindsToday    = "grinds_today"
	FieldXPToday        = "xp_today"
	FieldStreakDay      = "streak_day"
	FieldXPWeek         = "xp_week"
	FieldGrindsWeek     = "grinds_week"
	FieldBadgeCollector = "badge_collector"
)

type Change struct {
	XPDelta    int64
	RankBefore string
	RankAfter  string
}

// GrantXP applies amount (negative for deductions) with xp floored at zero and
// mirrors the applied delta into the weekly and daily counters. Challenge
// rewards are left to RefreshChallenges.
func (d *Definitions) GrantXP(rec *UserRecord, amount int64) Change {
	ch := Change{RankBefore: rec.Rank}
	ch.XPDelta = d.applyXP(rec, amount)
	ch.RankAfter = rec.Rank
	return ch
}

func (d *Definitions) ApplyPenalty(rec *UserRecord, amount int64) Change {
	if amount < 0 {
		amount = -amount
	}
	return d.GrantXP(rec, -amount)
}

func (d *Definitions) applyXP(rec *UserRecord, amount int64) int64 {
	next := rec.XP + amount
	if next < 0 {
		next = 0
	}
	delta := next - rec.XP
	rec.XP = next

	rec.Weekly.XP += delta
	if rec.Weekly.XP < 0 {
		rec.Weekly.XP = 0
	}
	if delta > 0 {
		rec.XPToday += delta
	}
	d.RecomputeRank(rec)
	return delta
}

// RecomputeRank derives the rank from xp. Ranks follow xp in both directions.
func (d *Definitions) RecomputeRank(rec *UserRecord) (before, after string) {
	before = rec.Rank
	rec.Rank = d.RankFor(rec.XP)
	return before, rec.Rank
}

func (d *Definitions) RankIndex(name string) int {
	for i, tier := range d.Ranks {
		if tier.Name == name {
			return i
		}
	}
	return -1
}

func (c Change) RankedUp(d *Definitions) bool {
	return d.RankIndex(c.RankAfter) > d.RankIndex(c.RankBefore)
}

// CheckBadges unlocks at most one badge: the first one in table order whose
// condition holds and that the record does not own yet.
func (d *Definitions) CheckBadges(rec *UserRecord) (string, bool) {
	for _, b := range d.Badges {
		if rec.HasBadge(b.Name) {
			continue
		}
		if !d.qualifies(rec, b) {
			continue
		}
		rec.Badges = append(rec.Badges, b.Name)
		return b.Name, true
	}
	return "", false
}

func (d *Definitions) CheckAllBadges(rec *UserRecord) []string {
	var unlocked []string
	for {
		name, ok := d.CheckBadges(rec)
		if !ok {
			return unlocked
		}
		unlocked = append(unlocked, name)
	}
}

func (d *Definitions) qualifies(rec *UserRecord, b BadgeDefinition) bool {
	switch b.Type {
	case BadgeOnboarding:
		return rec.OnboardingComplete
	case BadgeXP:
		return rec.XP >= b.Required
	case BadgeStreak:
		return int64(rec.Streak) >= b.Required
	case BadgeDailyGrinds:
		return int64(rec.GrindsToday) >= b.Required
	case BadgeWeeklyTop3:
		return rec.Weekly.Top3
	case BadgeSpecial:
		return rec.hasSpecial(b.Name)
	}
	return false
}

// GrantSpecial raises the operator flag behind a special badge. The badge itself
// is unlocked by the next CheckBadges call.
func (d *Definitions) GrantSpecial(rec *UserRecord, name string) error {
	b, ok := d.Badge(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBadge, name)
	}
	if b.Type != BadgeSpecial {
		return fmt.Errorf("%w: %q is not a special badge", ErrUnknownBadge, name)
	}
	if !rec.hasSpecial(name) {
		rec.Special = append(rec.Special, name)
	}
	return nil
}

type BadgeProgress struct {
	Unlocked     bool   `json:"unlocked"`
	ProgressText string `json:"progress_text"`
}

func (d *Definitions) BadgeProgress(rec UserRecord, name string) (BadgeProgress, error) {
	b, ok := d.Badge(name)
	if !ok {
		return BadgeProgress{}, fmt.Errorf("%w: %q", ErrUnknownBadge, name)
	}
	if rec.HasBadge(name) {
		return BadgeProgress{Unlocked: true, ProgressText: "unlocked"}, nil
	}
	var text string
	switch b.Type {
	case BadgeOnboarding:
		text = fmt.Sprintf("onboarding step %d", rec.OnboardingStep)
	case BadgeXP:
		text = fmt.Sprintf("%d/%d XP", min(rec.XP, b.Required), b.Required)
	case BadgeStreak:
		text = fmt.Sprintf("%d/%d days", min(int64(rec.Streak), b.Required), b.Required)
	case BadgeDailyGrinds:
		text = fmt.Sprintf("%d/%d grinds today", min(int64(rec.GrindsToday), b.Required), b.Required)
	case BadgeWeeklyTop3:
		text = "finish a week in the XP top 3"
	case BadgeSpecial:
		text = "granted by the team"
	}
	return BadgeProgress{ProgressText: text}, nil
}

// UpdateChallengeProgress stores value as the absolute progress of every
// challenge keyed by field. Progress never moves backwards inside a period and
// the completion reward is paid exactly once.
func (d *Definitions) UpdateChallengeProgress(rec *UserRecord, field string, value int64) ([]string, error) {
	d.ensureChallenges(rec)
	found := false
	var completed []string
	for _, period := range []string{PeriodDaily, PeriodWeekly} {
		progress := rec.Challenges.Daily
		if period == PeriodWeekly {
			progress = rec.Challenges.Weekly
		}
		for _, def := range d.challengesFor(period) {
			if def.Key != field {
				continue
			}
			found = true
			p := progress[field]
			if value > p.Current {
				p.Current = value
			}
			if !p.Completed && p.Current >= def.Required {
				p.Completed = true
				progress[field] = p
				d.applyXP(rec, def.RewardXP)
				completed = append(completed, period+"."+field)
				continue
			}
			progress[field] = p
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChallengeField, field)
	}
	return completed, nil
}

// RefreshChallenges pushes the record's own counters into every challenge it
// feeds. Rewards can push other counters over their thresholds, so it repeats
// until a pass completes nothing new.
func (d *Definitions) RefreshChallenges(rec *UserRecord) []string {
	var completed []string
	for {
		pass := 0
		for _, field := range d.challengeKeys() {
			value, ok := fieldValue(rec, field)
			if !ok {
				continue
			}
			done, err := d.UpdateChallengeProgress(rec, field, value)
			if err != nil {
				continue
			}
			pass += len(done)
			completed = append(completed, done...)
		}
		if pass == 0 {
			return completed
		}
	}
}

func (d *Definitions) challengeKeys() []string {
	seen := map[string]struct{}{}
	var keys []string
	for _, c := range append(append([]ChallengeDefinition{}, d.Challenges.Daily...), d.Challenges.Weekly...) {
		if _, ok := seen[c.Key]; ok {
			continue
		}
		seen[c.Key] = struct{}{}
		keys = append(keys, c.Key)
	}
	return keys
}

func fieldValue(rec *UserRecord, field string) (int64, bool) {
	switch field {
	case FieldGrindsToday:
		return int64(rec.GrindsToday), true
	case FieldXPToday:
		return rec.XPToday, true
	case FieldStreakDay:
		if rec.GrindsToday > 0 {
			return 1, true
		}
		return 0, true
	case FieldXPWeek:
		return rec.Weekly.XP, true
	case FieldGrindsWeek:
		return int64(rec.Weekly.Grinds), true
	case FieldBadgeCollector:
		n := int64(len(rec.Badges) - rec.Weekly.Badges)
		if n < 0 {
			n = 0
		}
		return n, true
	}
	return 0, false
}

type ChallengeStatus struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Current     int64  `json:"current"`
	Required    int64  `json:"required"`
	RewardXP    int64  `json:"reward_xp"`
	Completed   bool   `json:"completed"`
}

func (d *Definitions) ChallengeStatus(rec UserRecord, period string) []ChallengeStatus {
	progress := rec.Challenges.Daily
	if period == PeriodWeekly {
		progress = rec.Challenges.Weekly
	}
	defs := d.challengesFor(period)
	out := make([]ChallengeStatus, 0, len(defs))
	for _, def := range defs {
		p := progress[def.Key]
		out = append(out, ChallengeStatus{
			Key:         def.Key,
			Title:       def.Title,
			Description: def.Description,
			Current:     p.Current,
			Required:    def.Required,
			RewardXP:    def.RewardXP,
			Completed:   p.Completed,
		})
	}
	return out
}
