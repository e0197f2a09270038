package model

import "time"

// Kind identifies what a tree element (and the unit of work created from it)
// is: plain content, a container, a resource read, a computed expression, a
// boundary owning a fallback, or a component function.
type Kind string

const (
	// KindText is a leaf with static text content.
	KindText Kind = "text"

	// KindGroup is a visible container of children.
	KindGroup Kind = "group"

	// KindResource is a leaf whose text is the value of a cache resource;
	// rendering it suspends until the resource resolves.
	KindResource Kind = "resource"

	// KindExpr is a leaf whose text is computed by evaluating Expr with the
	// resources named in Uses bound as variables; it suspends while any of
	// them is unresolved.
	KindExpr Kind = "expr"

	// KindBoundary wraps a subtree and owns an optional Fallback shown when
	// a descendant suspends past the boundary's delay.
	KindBoundary Kind = "boundary"

	// KindComponent is a dynamic node whose subtree is produced by calling
	// Render. Only constructible in Go (not loadable from scene files).
	KindComponent Kind = "component"
)

// Valid reports whether k is one of the defined element kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindGroup, KindResource, KindExpr, KindBoundary, KindComponent:
		return true
	}
	return false
}

// RenderFunc produces the subtree of a component element. It runs inside a
// render pass; a non-nil error is retried exactly once in place before it
// propagates toward the nearest error-handling ancestor.
type RenderFunc func() (*Element, error)

// ErrorFunc turns a terminal descendant render error into replacement
// content. The handler receives the typed error so it can inspect the
// failing path and cause directly. A nil return means the element declines
// to handle the error and it keeps propagating upward.
type ErrorFunc func(err *RenderError) *Element

// Element is one node of a declarative tree description. Scene files and API
// requests build Elements from YAML/JSON; render passes walk them to build
// units of work.
//
// Identity across re-renders is positional unless Key is set; boundaries and
// keyed list children should carry a Key so their state survives sibling
// insertions.
type Element struct {
	Kind Kind   `json:"kind" yaml:"kind"`
	Key  string `json:"key,omitempty" yaml:"key,omitempty"`

	// Text is the content of a KindText leaf.
	Text string `json:"text,omitempty" yaml:"text,omitempty"`

	// Resource is the cache key read by a KindResource leaf.
	Resource string `json:"resource,omitempty" yaml:"resource,omitempty"`

	// Expr is the expression source of a KindExpr leaf; Uses names the
	// cache keys bound as variables before evaluation.
	Expr string   `json:"expr,omitempty" yaml:"expr,omitempty"`
	Uses []string `json:"uses,omitempty" yaml:"uses,omitempty"`

	// DelayMS is a KindBoundary's grace period: once a descendant suspends,
	// the fallback may not commit until this many virtual milliseconds have
	// passed (or the update's own expiration forces it, whichever is first).
	DelayMS int `json:"delay_ms,omitempty" yaml:"delay_ms,omitempty"`

	// Fallback is the subtree a KindBoundary shows while suspended past its
	// deadline. A boundary without a fallback is transparent: suspensions
	// bubble to the next boundary above it.
	Fallback *Element `json:"fallback,omitempty" yaml:"fallback,omitempty"`

	Children []*Element `json:"children,omitempty" yaml:"children,omitempty"`

	// Render produces a KindComponent's subtree. Not serializable.
	Render RenderFunc `json:"-" yaml:"-"`

	// OnError, when set, makes this element the error handler for terminal
	// render failures of its descendants. Not serializable.
	OnError ErrorFunc `json:"-" yaml:"-"`
}

// Delay returns the boundary grace period as a duration.
func (e *Element) Delay() time.Duration {
	return time.Duration(e.DelayMS) * time.Millisecond
}
