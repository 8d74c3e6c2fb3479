package ledger

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml"
)

type BadgeType string

const (
	BadgeOnboarding  BadgeType = "onboarding"
	BadgeXP          BadgeType = "xp"
	BadgeStreak      BadgeType = "streak"
	BadgeDailyGrinds BadgeType = "daily_grinds"
	BadgeWeeklyTop3  BadgeType = "weekly_top3"
	BadgeSpecial     BadgeType = "special"
)

type BadgeDefinition struct {
	Name        string    `toml:"name" json:"name"`
	Type        BadgeType `toml:"type" json:"type"`
	Required    int64     `toml:"required" json:"required"`
	Description string    `toml:"description" json:"description"`
}

type ChallengeDefinition struct {
	Key         string `toml:"key" json:"key"`
	Title       string `toml:"title" json:"title"`
	Required    int64  `toml:"required" json:"required"`
	Description string `toml:"description" json:"description"`
	RewardXP    int64  `toml:"reward_xp" json:"reward_xp"`
}

type ChallengeTable struct {
	Daily  []ChallengeDefinition `toml:"daily"`
	Weekly []ChallengeDefinition `toml:"weekly"`
}

type RankTier struct {
	Name  string `toml:"name" json:"name"`
	MinXP int64  `toml:"min_xp" json:"min_xp"`
}

// Definitions is built once at startup and treated as read-only afterwards.
type Definitions struct {
	Badges     []BadgeDefinition
	Challenges ChallengeTable
	Ranks      []RankTier

	badgeIndex map[string]int
}

type definitionsFile struct {
	Badges     []BadgeDefinition `toml:"badges"`
	Challenges ChallengeTable    `toml:"challenges"`
	Ranks      []RankTier        `toml:"ranks"`
}

func DefaultDefinitions() *Definitions {
	d, err := NewDefinitions(defaultBadges(), defaultChallenges(), defaultRanks())
	if err != nil {
		panic(err)
	}
	return d
}

func defaultBadges() []BadgeDefinition {
	return []BadgeDefinition{
		{Name: "Initiate", Type: BadgeOnboarding, Required: 1, Description: "Complete the onboarding journey."},
		{Name: "Cracked", Type: BadgeXP, Required: 10_000, Description: "Reach 10,000 XP."},
		{Name: "Keeper", Type: BadgeStreak, Required: 30, Description: "Keep a 30-day streak alive."},
		{Name: "Machine", Type: BadgeDailyGrinds, Required: 50, Description: "Grind 50 times in a single day."},
		{Name: "Dominator", Type: BadgeWeeklyTop3, Required: 1, Description: "Finish a week in the XP top 3."},
		{Name: "Ascended", Type: BadgeXP, Required: 100_000, Description: "Reach 100,000 XP."},
		{Name: "Eternal", Type: BadgeStreak, Required: 100, Description: "Keep a 100-day streak alive."},
		{Name: "Founder", Type: BadgeSpecial, Required: 1, Description: "Awarded by the Ascension team."},
	}
}

// Keep challenge keys stable: they are persisted inside user records.
func defaultChallenges() ChallengeTable {
	return ChallengeTable{
		Daily: []ChallengeDefinition{
			{Key: FieldGrindsToday, Title: "Grind 20 times today", Required: 20, Description: "You gain speed, momentum, and discipline.", RewardXP: 200},
			{Key: FieldXPToday, Title: "Earn 500 XP today", Required: 500, Description: "Push yourself past your daily limit.", RewardXP: 300},
			{Key: FieldStreakDay, Title: "Maintain your streak today", Required: 1, Description: "Log in and grind at least once today.", RewardXP: 150},
		},
		Weekly: []ChallengeDefinition{
			{Key: FieldXPWeek, Title: "Earn 5,000 XP this week", Required: 5000, Description: "Only the consistent rise.", RewardXP: 500},
			{Key: FieldGrindsWeek, Title: "Perform 100 grinds this week", Required: 100, Description: "Prove your dedication.", RewardXP: 600},
			{Key: FieldBadgeCollector, Title: "Unlock a new badge this week", Required: 1, Description: "Badge collectors dominate the hall of honor.", RewardXP: 300},
		},
	}
}

func defaultRanks() []RankTier {
	return []RankTier{
		{Name: "Initiate", MinXP: 0},
		{Name: "Apprentice", MinXP: 500},
		{Name: "Grinder", MinXP: 2_000},
		{Name: "Ascendant", MinXP: 5_000},
		{Name: "Cracked", MinXP: 10_000},
		{Name: "Legend", MinXP: 25_000},
		{Name: "Mythic", MinXP: 50_000},
	}
}

func NewDefinitions(badges []BadgeDefinition, challenges ChallengeTable, ranks []RankTier) (*Definitions, error) {
	d := &Definitions{
		Badges:     badges,
		Challenges: challenges,
		Ranks:      ranks,
		badgeIndex: make(map[string]int, len(badges)),
	}
	for i, b := range badges {
		name := strings.TrimSpace(b.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: badge %d has no name", ErrInvalidDefinitions, i)
		}
		if _, dup := d.badgeIndex[name]; dup {
			return nil, fmt.Errorf("%w: duplicate badge %q", ErrInvalidDefinitions, name)
		}
		switch b.Type {
		case BadgeOnboarding, BadgeXP, BadgeStreak, BadgeDailyGrinds, BadgeWeeklyTop3, BadgeSpecial:
		default:
			return nil, fmt.Errorf("%w: badge %q has unknown type %q", ErrInvalidDefinitions, name, b.Type)
		}
		if b.Required < 0 {
			return nil, fmt.Errorf("%w: badge %q has negative threshold", ErrInvalidDefinitions, name)
		}
		d.badgeIndex[name] = i
	}
	for _, period := range [][]ChallengeDefinition{challenges.Daily, challenges.Weekly} {
		seen := map[string]struct{}{}
		for _, c := range period {
			if c.Key == "" {
				return nil, fmt.Errorf("%w: challenge without key", ErrInvalidDefinitions)
			}
			if _, dup := seen[c.Key]; dup {
				return nil, fmt.Errorf("%w: duplicate challenge %q", ErrInvalidDefinitions, c.Key)
			}
			if c.Required <= 0 || c.RewardXP < 0 {
				return nil, fmt.Errorf("%w: challenge %q has invalid thresholds", ErrInvalidDefinitions, c.Key)
			}
			seen[c.Key] = struct{}{}
		}
	}
	if len(ranks) == 0 || ranks[0].MinXP != 0 {
		return nil, fmt.Errorf("%w: rank table must start at 0 xp", ErrInvalidDefinitions)
	}
	for i := 1; i < len(ranks); i++ {
		if ranks[i].MinXP <= ranks[i-1].MinXP {
			return nil, fmt.Errorf("%w: rank thresholds must increase (%q)", ErrInvalidDefinitions, ranks[i].Name)
		}
	}
	return d, nil
}

// LoadDefinitions reads an optional TOML override file. Tables missing from the
// file keep their defaults.
func LoadDefinitions(path string) (*Definitions, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultDefinitions(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}
	return ParseDefinitions(raw)
}

func ParseDefinitions(raw []byte) (*Definitions, error) {
	var f definitionsFile
	if err := toml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse definitions: %w", err)
	}
	badges := defaultBadges()
	if len(f.Badges) > 0 {
		badges = f.Badges
	}
	challenges := defaultChallenges()
	if len(f.Challenges.Daily) > 0 {
		challenges.Daily = f.Challenges.Daily
	}
	if len(f.Challenges.Weekly) > 0 {
		challenges.Weekly = f.Challenges.Weekly
	}
	ranks := defaultRanks()
	if len(f.Ranks) > 0 {
		ranks = f.Ranks
	}
	return NewDefinitions(badges, challenges, ranks)
}

func (d *Definitions) Badge(name string) (BadgeDefinition, bool) {
	i, ok := d.badgeIndex[name]
	if !ok {
		return BadgeDefinition{}, false
	}
	return d.Badges[i], true
}

func (d *Definitions) challengesFor(period string) []ChallengeDefinition {
	if period == PeriodWeekly {
		return d.Challenges.Weekly
	}
	return d.Challenges.Daily
}

func (d *Definitions) RankFor(xp int64) string {
	rank := d.Ranks[0].Name
	for _, tier := range d.Ranks {
		if xp >= tier.MinXP {
			rank = tier.Name
		}
	}
	return rank
}
