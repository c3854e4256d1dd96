// Package state keeps per-user conversation sessions in memory and runs each
// user's updates one at a time.
package state
