// Package tracking keeps per-vehicle lane history and decides, frame by
// frame, whether a vehicle has switched lanes.
//
// A vehicle is credited with at most one violation for as long as its
// identity is remembered, however many times it changes lane afterwards.
package tracking

import (
	"sort"
)

// VehicleID is the identity assigned by the upstream object tracker.
type VehicleID int64

// Tag labels a single observation for downstream annotation.
type Tag string

const (
	TagNormal    Tag = "NORMAL"
	TagViolation Tag = "VIOLATION"
)

// LaneObservation is one in-ROI vehicle already classified into a lane.
type LaneObservation struct {
	ID   VehicleID
	Lane int
}

// VehicleState is everything the tracker remembers about one identity.
type VehicleState struct {
	LastLane         int
	ViolationFlagged bool
	FirstSeenFrame   int
	LastSeenFrame    int
	LaneChanges      int
}

// Decision is the tracker's verdict for one observation.
type Decision struct {
	ID           VehicleID
	Lane         int
	PreviousLane int // 0 when the identity had no prior lane
	Tag          Tag

	// FirstSeen is true on the identity's first-ever observation.
	FirstSeen bool
	// Counted is true when this observation incremented the violation total.
	Counted bool
	// Duplicate marks a repeated identity within one frame; it is ignored.
	Duplicate bool
}

// TrackerConfig holds tracker options.
type TrackerConfig struct {
	// IdentityTTL evicts identities unseen for more than this many frames.
	// Zero keeps every identity for the whole run.
	IdentityTTL int
}

// DefaultTrackerConfig keeps identities for the whole run.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{IdentityTTL: 0}
}

// Tracker owns the identity → state table. It is not safe for concurrent
// use; frames must be observed sequentially.
type Tracker struct {
	Config TrackerConfig

	vehicles   map[VehicleID]*VehicleState
	violations int
	unique     int
	evicted    int
}

// NewTracker creates an empty tracker.
func NewTracker(config TrackerConfig) *Tracker {
	return &Tracker{
		Config:   config,
		vehicles: make(map[VehicleID]*VehicleState),
	}
}

// Observe applies one frame's observations and returns a decision per
// observation, in input order.
func (t *Tracker) Observe(frame int, obs []LaneObservation) []Decision {
	t.evictStale(frame)

	decisions := make([]Decision, 0, len(obs))
	seen := make(map[VehicleID]struct{}, len(obs))

	for _, o := range obs {
		if _, dup := seen[o.ID]; dup {
			decisions = append(decisions, Decision{ID: o.ID, Lane: o.Lane, Tag: TagNormal, Duplicate: true})
			continue
		}
		seen[o.ID] = struct{}{}

		d := Decision{ID: o.ID, Lane: o.Lane, Tag: TagNormal}

		st, ok := t.vehicles[o.ID]
		switch {
		case !ok:
			st = &VehicleState{FirstSeenFrame: frame}
			t.vehicles[o.ID] = st
			t.unique++
			d.FirstSeen = true
		case st.LastLane != o.Lane:
			d.PreviousLane = st.LastLane
			d.Tag = TagViolation
			st.LaneChanges++
			if !st.ViolationFlagged {
				st.ViolationFlagged = true
				t.violations++
				d.Counted = true
			}
		default:
			d.PreviousLane = st.LastLane
		}

		st.LastLane = o.Lane
		st.LastSeenFrame = frame
		decisions = append(decisions, d)
	}

	return decisions
}

func (t *Tracker) evictStale(frame int) {
	if t.Config.IdentityTTL <= 0 {
		return
	}
	for id, st := range t.vehicles {
		if frame-st.LastSeenFrame > t.Config.IdentityTTL {
			delete(t.vehicles, id)
			t.evicted++
		}
	}
}

// ViolationTotal returns the number of identities credited with a violation.
func (t *Tracker) ViolationTotal() int { return t.violations }

// UniqueTotal returns the number of first-ever appearances. Identities that
// return after eviction are counted again.
func (t *Tracker) UniqueTotal() int { return t.unique }

// Evicted returns how many identities the TTL has removed.
func (t *Tracker) Evicted() int { return t.evicted }

// Len returns the number of remembered identities.
func (t *Tracker) Len() int { return len(t.vehicles) }

// State returns a copy of the identity's state.
func (t *Tracker) State(id VehicleID) (VehicleState, bool) {
	st, ok := t.vehicles[id]
	if !ok {
		return VehicleState{}, false
	}
	return *st, true
}

// flagged returns the identities credited with a violation, sorted.
func (t *Tracker) flagged() []VehicleID {
	var ids []VehicleID
	for id, st := range t.vehicles {
		if st.ViolationFlagged {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
