package ledger

import "time"

var StreakMilestones = []int{3, 7, 14, 30, 50, 100, 365}

type Rollover struct {
	NewDay    bool
	Streak    int
	Milestone bool
}

// ApplyDailyRollover is called before every qualifying action.
//
//   - first qualifying action ever: streak starts at 1
//   - repeat action on the same UTC day: nothing changes
//   - last active yesterday: streak + 1
//   - gap of more than one day: streak restarts at 1
//
// Any new day clears the daily counters and daily challenges.
func (d *Definitions) ApplyDailyRollover(rec *UserRecord, now time.Time) Rollover {
	today := DateKey(now)
	prev := rec.LastActive
	if prev == today || (prev != "" && prev > today) {
		return Rollover{Streak: rec.Streak}
	}

	before := rec.Streak
	switch prev {
	case "":
		rec.Streak = 1
	case DateKey(now.UTC().AddDate(0, 0, -1)):
		rec.Streak++
	default:
		rec.Streak = 1
	}

	rec.LastActive = today
	rec.GrindsToday = 0
	rec.XPToday = 0
	rec.Challenges.Daily = map[string]ChallengeProgress{}
	d.ensureChallenges(rec)

	return Rollover{
		NewDay:    true,
		Streak:    rec.Streak,
		Milestone: rec.Streak != before && isMilestone(rec.Streak),
	}
}

func isMilestone(streak int) bool {
	for _, m := range StreakMilestones {
		if streak == m {
			return true
		}
	}
	return false
}

// EffectiveStreak is the streak a reader should see today without mutating the
// record: a streak whose last day is older than yesterday is already broken.
func EffectiveStreak(rec UserRecord, now time.Time) int {
	switch rec.LastActive {
	case DateKey(now), DateKey(now.UTC().AddDate(0, 0, -1)):
		return rec.Streak
	}
	return 0
}

// EffectiveGrindsToday hides yesterday's counter until the next rollover runs.
func EffectiveGrindsToday(rec UserRecord, now time.Time) int {
	if rec.LastActive != DateKey(now) {
		return 0
	}
	return rec.GrindsToday
}
