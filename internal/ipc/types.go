package ipc

import (
	"wavelink/internal/session"
	"wavelink/internal/stats"
)

// StopRequest shuts the daemon down.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon/session status information.
type StatusResponse struct {
	Running     bool           `json:"running"`
	PID         int            `json:"pid"`
	LockPath    string         `json:"lock_path"`
	StatsDBPath string         `json:"stats_db_path"`
	APIBind     string         `json:"api_bind"`
	Session     session.Report `json:"session"`
}

// StatsRequest fetches live and historical synchronization statistics.
type StatsRequest struct {
	RecentLimit int `json:"recent_limit"`
}

// StatsResponse carries the live session report plus persisted aggregates.
type StatsResponse struct {
	Current session.Report    `json:"current"`
	Totals  stats.Totals      `json:"totals"`
	Recent  []session.Summary `json:"recent"`
}

// SessionAttachRequest starts a session. An empty socket uses the configured
// engine socket.
type SessionAttachRequest struct {
	Socket string `json:"socket"`
}

// SessionAttachResponse reports the freshly started session.
type SessionAttachResponse struct {
	Session session.Report `json:"session"`
}

// SessionDetachRequest stops the active session.
type SessionDetachRequest struct{}

// SessionDetachResponse indicates detach result.
type SessionDetachResponse struct {
	Detached bool `json:"detached"`
}

// SessionResetRequest rotates the session id and zeroes live counters.
type SessionResetRequest struct{}

// SessionResetResponse reports the reset session.
type SessionResetResponse struct {
	Session session.Report `json:"session"`
}
