package clock

import "time"

// Clock supplies the current instant. Ledger code reads time only through
// a Clock so tests can step it.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Func adapts a function to Clock.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }
