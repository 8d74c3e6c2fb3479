package ledger

import "time"

// ActivityLogSize is how many reward events a record keeps.
const ActivityLogSize = 10

type ActivityEntry struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Detail  string    `json:"detail,omitempty"`
	Source  string    `json:"source,omitempty"`
	XPDelta int64     `json:"xp_delta"`
}

// Settings are the player's own preferences.
type Settings struct {
	HideFromBoards bool `json:"hide_from_boards,omitempty"`
}

// LogActivity appends e and drops the oldest entries past ActivityLogSize.
func (r *UserRecord) LogActivity(e ActivityEntry) {
	r.Activity = append(r.Activity, e)
	if extra := len(r.Activity) - ActivityLogSize; extra > 0 {
		r.Activity = append([]ActivityEntry{}, r.Activity[extra:]...)
	}
}

// RecentActivity returns the log newest first.
func (r UserRecord) RecentActivity() []ActivityEntry {
	out := make([]ActivityEntry, 0, len(r.Activity))
	for i := len(r.Activity) - 1; i >= 0; i-- {
		out = append(out, r.Activity[i])
	}
	return out
}

// NextRank returns the tier after the one xp sits in. ok is false at the top.
func (d *Definitions) NextRank(xp int64) (RankTier, bool) {
	for _, tier := range d.Ranks {
		if tier.MinXP > xp {
			return tier, true
		}
	}
	return RankTier{}, false
}
