// Package clock abstracts wall time so issuance timestamps can be pinned in
// tests.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Provide returns the wall clock.
func Provide() Clock { return SystemClock{} }
