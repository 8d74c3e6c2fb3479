package ledger

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type Metric string

const (
	MetricXP     Metric = "xp"
	MetricGrinds Metric = "grinds"
	MetricBadges Metric = "badges"

	LeaderboardSize = 3
)

type Standing struct {
	UserID string `json:"user_id"`
	Value  int64  `json:"value"`
}

func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case MetricXP, MetricGrinds, MetricBadges:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
}

func metricValue(rec UserRecord, metric Metric) int64 {
	switch metric {
	case MetricXP:
		return rec.Weekly.XP
	case MetricGrinds:
		return int64(rec.Weekly.Grinds)
	case MetricBadges:
		return int64(len(rec.Badges))
	}
	return 0
}

// TopN ranks users by metric, highest first. Equal values are ordered by user
// id so the result is stable between runs. Users hiding from the boards are
// left out.
func TopN(users map[string]UserRecord, metric Metric, n int) ([]Standing, error) {
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	rows := make([]Standing, 0, len(users))
	for id, rec := range users {
		if rec.Settings.HideFromBoards {
			continue
		}
		rows = append(rows, Standing{UserID: id, Value: metricValue(rec, metric)})
	}
	return topStandings(rows, n), nil
}

func topStandings(rows []Standing, n int) []Standing {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Value != rows[j].Value {
			return rows[i].Value > rows[j].Value
		}
		return rows[i].UserID < rows[j].UserID
	})
	if n >= 0 && len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

// WeeklyReset closes the week for every user and returns the XP top 3.
// Winners are flagged after the counters are cleared so the flag survives the
// reset. Users without weekly XP or hidden from the boards are never winners.
func (d *Definitions) WeeklyReset(users map[string]*UserRecord) []Standing {
	rows := make([]Standing, 0, len(users))
	for id, rec := range users {
		if rec.Weekly.XP > 0 && !rec.Settings.HideFromBoards {
			rows = append(rows, Standing{UserID: id, Value: rec.Weekly.XP})
		}
	}
	winners := topStandings(rows, LeaderboardSize)

	for _, rec := range users {
		rec.Weekly = Weekly{Badges: len(rec.Badges)}
		rec.Challenges.Weekly = map[string]ChallengeProgress{}
		d.ensureChallenges(rec)
	}
	for _, w := range winners {
		users[w.UserID].Weekly.Top3 = true
	}
	return winners
}

// NextWeeklyReset returns the first Monday 00:00 UTC strictly after now.
func NextWeeklyReset(now time.Time) time.Time {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	days := (int(time.Monday) - int(midnight.Weekday()) + 7) % 7
	next := midnight.AddDate(0, 0, days)
	if !next.After(now) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}
