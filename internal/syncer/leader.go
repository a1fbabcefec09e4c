package syncer

// Leader identifies which side is currently authoritative for position and
// play-state.
type Leader int

const (
	LeaderIdle Leader = iota
	LeaderLocal
	LeaderRemote
)

func (l Leader) String() string {
	switch l {
	case LeaderLocal:
		return "local"
	case LeaderRemote:
		return "remote"
	default:
		return "idle"
	}
}
