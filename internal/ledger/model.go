package ledger

import (
	"errors"
	"time"
)

const (
	PeriodDaily  = "daily"
	PeriodWeekly = "weekly"

	dateLayout = "2006-01-02"
)

var (
	ErrUnknownBadge          = errors.New("unknown badge")
	ErrUnknownChallengeField = errors.New("unknown challenge field")
	ErrUnknownMetric         = errors.New("unknown leaderboard metric")
	ErrInvalidDefinitions    = errors.New("invalid definitions")
)

type UserRecord struct {
	XP                 int64             `json:"xp"`
	Rank               string            `json:"rank"`
	Streak             int               `json:"streak"`
	GrindsToday        int               `json:"grinds_today"`
	XPToday            int64             `json:"xp_today"`
	LastActive         string            `json:"last_active,omitempty"`
	LastGrindAt        time.Time         `json:"last_grind_at"`
	Badges             []string          `json:"badges"`
	Special            []string          `json:"special,omitempty"`
	OnboardingStep     int               `json:"onboarding_step"`
	OnboardingComplete bool              `json:"onboarding_complete"`
	OnboardingAnswers  map[string]string `json:"onboarding_answers,omitempty"`
	Weekly             Weekly            `json:"weekly"`
	Challenges         Challenges        `json:"challenges"`
	Activity           []ActivityEntry   `json:"activity,omitempty"`
	Settings           Settings          `json:"settings"`
	CreatedAt          time.Time         `json:"created_at"`
}

type Weekly struct {
	XP     int64 `json:"xp"`
	Grinds int   `json:"grinds"`
	Badges int   `json:"badges"`
	Top3   bool  `json:"top3"`
}

type Challenges struct {
	Daily  map[string]ChallengeProgress `json:"daily"`
	Weekly map[string]ChallengeProgress `json:"weekly"`
}

type ChallengeProgress struct {
	Current   int64 `json:"current"`
	Completed bool  `json:"completed"`
}

// NewUserRecord returns the zeroed record handed out on first contact.
func (d *Definitions) NewUserRecord(now time.Time) UserRecord {
	rec := UserRecord{
		Badges:    []string{},
		CreatedAt: now.UTC(),
	}
	rec.Rank = d.RankFor(0)
	d.ensureChallenges(&rec)
	return rec
}

// Normalize repairs records persisted by older builds or edited by hand:
// nil maps, duplicate badges and badges that no longer exist in the table.
func (d *Definitions) Normalize(rec *UserRecord) {
	if rec.XP < 0 {
		rec.XP = 0
	}
	if rec.Badges == nil {
		rec.Badges = []string{}
	}
	seen := make(map[string]struct{}, len(rec.Badges))
	kept := rec.Badges[:0]
	for _, name := range rec.Badges {
		if _, dup := seen[name]; dup {
			continue
		}
		if _, ok := d.badgeIndex[name]; !ok {
			continue
		}
		seen[name] = struct{}{}
		kept = append(kept, name)
	}
	rec.Badges = kept
	d.ensureChallenges(rec)
	if rec.Rank == "" {
		rec.Rank = d.RankFor(rec.XP)
	}
}

func (d *Definitions) ensureChallenges(rec *UserRecord) {
	if rec.Challenges.Daily == nil {
		rec.Challenges.Daily = map[string]ChallengeProgress{}
	}
	if rec.Challenges.Weekly == nil {
		rec.Challenges.Weekly = map[string]ChallengeProgress{}
	}
	for _, c := range d.Challenges.Daily {
		if _, ok := rec.Challenges.Daily[c.Key]; !ok {
			rec.Challenges.Daily[c.Key] = ChallengeProgress{}
		}
	}
	for _, c := range d.Challenges.Weekly {
		if _, ok := rec.Challenges.Weekly[c.Key]; !ok {
			rec.Challenges.Weekly[c.Key] = ChallengeProgress{}
		}
	}
}

func (r UserRecord) HasBadge(name string) bool {
	for _, b := range r.Badges {
		if b == name {
			return true
		}
	}
	return false
}

func (r UserRecord) hasSpecial(name string) bool {
	for _, s := range r.Special {
		if s == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so snapshots handed to readers never alias store state.
func (r UserRecord) Clone() UserRecord {
	out := r
	out.Badges = append([]string{}, r.Badges...)
	if r.Special != nil {
		out.Special = append([]string{}, r.Special...)
	}
	if r.OnboardingAnswers != nil {
		out.OnboardingAnswers = make(map[string]string, len(r.OnboardingAnswers))
		for k, v := range r.OnboardingAnswers {
			out.OnboardingAnswers[k] = v
		}
	}
	if r.Activity != nil {
		out.Activity = append([]ActivityEntry{}, r.Activity...)
	}
	out.Challenges.Daily = cloneProgress(r.Challenges.Daily)
	out.Challenges.Weekly = cloneProgress(r.Challenges.Weekly)
	return out
}

func cloneProgress(in map[string]ChallengeProgress) map[string]ChallengeProgress {
	if in == nil {
		return nil
	}
	out := make(map[string]ChallengeProgress, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func DateKey(t time.Time) string {
	return t.UTC().Format(dateLayout)
}
