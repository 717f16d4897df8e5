// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package logging provides the component-tagged stderr logger used across
// the bridge, matching the prefix-and-Fprintf idiom the rest of this
// codebase uses rather than pulling in a structured-logging framework.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger writes tagged lines to an underlying writer, after the standard
// log date/time prefix, e.g.:
//
//	2026/01/02 15:04:05 claude: warning: resume failed for session s1: no conversation found
type Logger struct {
	component string
	out       *log.Logger
}

// New returns a Logger tagged with component, writing to os.Stderr.
func New(component string) *Logger {
	return NewWithWriter(component, os.Stderr)
}

// NewWithWriter returns a Logger tagged with component, writing to w.
// Tests supply a bytes.Buffer here to assert on log output.
func NewWithWriter(component string, w io.Writer) *Logger {
	return &Logger{
		component: component,
		out:       log.New(w, "", log.LstdFlags),
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.out.Printf("%s: %s", l.component, fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.out.Printf("%s: warning: %s", l.component, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.out.Printf("%s: error: %s", l.component, fmt.Sprintf(format, args...))
}

// With returns a child Logger whose component is "parent.child", for
// sub-scopes like a single session within the claude-session component.
func (l *Logger) With(suffix string) *Logger {
	return &Logger{component: l.component + "." + suffix, out: l.out}
}
