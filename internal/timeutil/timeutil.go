// Package timeutil centralizes the pipeline's clock access so every
// service stamps events and rows with the same UTC convention.
package timeutil

import "time"

// Now returns the current instant in UTC. Every timestamp the pipeline
// persists or publishes goes through this so a single place controls the
// clock in tests.
func Now() time.Time {
	return time.Now().UTC()
}
