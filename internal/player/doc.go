// Package player defines the command model and the line-delimited JSON
// transport used to talk to the external media engine.
//
// The wire protocol is fixed: outbound messages are
// {"command":[verb, ...args],"request_id":N}; inbound replies carry
// request_id and an error string ("success" on acceptance); inbound events
// are property-change notifications. The Transport owns the socket
// exclusively and performs no reconnection or state inference of its own.
package player
