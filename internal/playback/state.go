package playback

import "time"

// State is a snapshot of one side's transport: position, play mode, speed,
// and volume. One instance exists for the local (waveform client) side and
// one for the remote (media engine) side.
type State struct {
	Position  float64   `json:"position"`
	Playing   bool      `json:"playing"`
	Speed     float64   `json:"speed"`
	Volume    int       `json:"volume"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns a stopped state with neutral speed and full volume.
func New() State {
	return State{Speed: 1.0, Volume: 100}
}

// Apply merges an update into the state, enforcing the staleness invariant:
// an update whose timestamp does not advance UpdatedAt is discarded. Returns
// true when the update was applied.
func (s *State) Apply(update State) bool {
	if !update.UpdatedAt.After(s.UpdatedAt) {
		return false
	}
	*s = update
	return true
}

// Touch stamps the state with the current time so a subsequent mutation
// passes the staleness check.
func (s *State) Touch(now time.Time) {
	s.UpdatedAt = now
}

// Clone returns a copy. State is a value type; this exists for call sites
// that want to be explicit about snapshotting.
func (s State) Clone() State {
	return s
}
