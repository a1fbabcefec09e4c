// Package session owns the lifecycle of one synchronized playback session.
// The manager assembles the transport, command dispatcher, property observer,
// and synchronization engine, supervises the engine connection, and exposes
// the control surface the daemon's API and IPC layers call into.
package session
