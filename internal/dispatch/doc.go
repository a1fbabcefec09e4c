// Package dispatch owns the command queue between the sync core and the
// engine transport: deduplication, rate limiting, urgent-before-normal
// ordering, and the single in-flight slot that keeps the engine's view of
// command order unambiguous.
package dispatch
