// Package timer contains the core domain types of the countdown service.
//
// It defines the Timer record and its lifecycle State, the pure transition
// helpers that keep the record invariants intact (FireAt is set only while
// running, Remaining never goes negative), the remote control Request
// messages and the error taxonomy shared by the other packages.
package timer
