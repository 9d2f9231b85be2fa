// Package watcher follows timer changes on the countdown server.
//
// It keeps a WatchTimers stream open, reconnecting after failures, and
// reports every change as it arrives.
package watcher
