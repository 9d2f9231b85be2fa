// Package client implements the countdownctl commands.
//
// Each command connects to the countdown server, performs one timer
// operation and prints the resulting records.
package client
