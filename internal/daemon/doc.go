// Package daemon hosts the long-running wavelinkd process: single-instance
// locking, the HTTP API, the waveform-client websocket hub, and the lifecycle
// of the synchronized playback session.
package daemon
