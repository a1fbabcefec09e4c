// Package observe translates asynchronous engine property-change
// notifications into canonical remote playback state updates.
package observe
