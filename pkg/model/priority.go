package model

import (
	"fmt"
	"strings"
	"time"
)

// Priority orders scheduled updates. Higher priorities preempt lower ones:
// an in-progress render pass for a lower-priority update is abandoned (not
// resumed) when a higher-priority update arrives.
type Priority string

const (
	PriorityImmediate    Priority = "IMMEDIATE"
	PriorityUserBlocking Priority = "USER_BLOCKING"
	PriorityNormal       Priority = "NORMAL"
	PriorityLow          Priority = "LOW"
	PriorityIdle         Priority = "IDLE"
)

// String returns the string representation of the priority.
func (p Priority) String() string {
	return string(p)
}

// Rank returns the numeric urgency of the priority; larger preempts smaller.
func (p Priority) Rank() int {
	switch p {
	case PriorityImmediate:
		return 4
	case PriorityUserBlocking:
		return 3
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 1
	case PriorityIdle:
		return 0
	}
	return -1
}

// Preempts returns true if work at this priority interrupts in-progress
// work at priority other.
func (p Priority) Preempts(other Priority) bool {
	return p.Rank() > other.Rank()
}

// Timeout returns how long an update at this priority may stay pending
// before the scheduler force-completes it synchronously. The second return
// is false for PriorityIdle, which never expires.
//
// PriorityImmediate returns 0: an immediate update is already expired when
// scheduled, so any suspension inside it falls back without waiting.
func (p Priority) Timeout() (time.Duration, bool) {
	switch p {
	case PriorityImmediate:
		return 0, true
	case PriorityUserBlocking:
		return 250 * time.Millisecond, true
	case PriorityNormal:
		return 5 * time.Second, true
	case PriorityLow:
		return 10 * time.Second, true
	}
	return 0, false
}

// Valid reports whether p is one of the defined priority levels.
func (p Priority) Valid() bool {
	return p.Rank() >= 0
}

// ParsePriority converts a string to a Priority. Matching is
// case-insensitive and accepts both USER_BLOCKING and user-blocking forms.
// An empty string parses to PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNormal, nil
	}
	norm := strings.ToUpper(strings.ReplaceAll(s, "-", "_"))
	p := Priority(norm)
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q (want immediate, user_blocking, normal, low, or idle)", s)
	}
	return p, nil
}
