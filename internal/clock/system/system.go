// Package system provides the wall clock used outside of tests.
package system

import (
	"time"

	"github.com/JakeFAU/webannotate/internal/webview"
)

// Clock implements webview.Clock on top of the time package.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// AfterFunc runs f in its own goroutine once d has elapsed.
func (Clock) AfterFunc(d time.Duration, f func()) webview.Timer {
	return time.AfterFunc(d, f)
}
