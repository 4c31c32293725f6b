package build

import (
	"github.com/davecgh/go-spew/spew"
)

// LogClosure defers building a log argument until the logger formats it, so
// packet and transfer dumps cost nothing at disabled levels.
type LogClosure func() string

// String implements fmt.Stringer.
func (c LogClosure) String() string {
	return c()
}

// NewLogClosure wraps c as a LogClosure.
func NewLogClosure(c func() string) LogClosure {
	return c
}

// SpewLogClosure dumps v with spew when the line is actually written.
func SpewLogClosure(v any) LogClosure {
	return func() string {
		return spew.Sdump(v)
	}
}
