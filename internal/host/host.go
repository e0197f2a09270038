// Package host provides surfaces that committed frames are applied to: a
// recorder that keeps the frame log and a text host that maintains a live
// rendering for terminal output. Hosts follow the scheduler's single-owner
// discipline; the engine serializes all access.
package host

import (
	"fmt"
	"strings"

	"github.com/me/reflow/internal/commit"
	"github.com/me/reflow/pkg/model"
)

// Recorder retains applied frames in commit order, optionally keeping only
// the most recent ones.
type Recorder struct {
	frames []model.Frame
	cap    int
}

// NewRecorder returns an unbounded recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// NewCappedRecorder returns a recorder that keeps at most n frames, dropping
// the oldest. Every frame carries the full committed tree, so consumers that
// miss dropped frames resynchronize from any later one.
func NewCappedRecorder(n int) *Recorder {
	return &Recorder{cap: n}
}

// Apply appends the frame to the log.
func (r *Recorder) Apply(frame model.Frame) error {
	r.frames = append(r.frames, frame)
	if r.cap > 0 && len(r.frames) > r.cap {
		r.frames = append(r.frames[:0], r.frames[len(r.frames)-r.cap:]...)
	}
	return nil
}

// Frames returns the full frame log in commit order.
func (r *Recorder) Frames() []model.Frame {
	out := make([]model.Frame, len(r.frames))
	copy(out, r.frames)
	return out
}

// Since returns the frames with sequence numbers greater than seq.
func (r *Recorder) Since(seq int64) []model.Frame {
	var out []model.Frame
	for _, f := range r.frames {
		if f.Seq > seq {
			out = append(out, f)
		}
	}
	return out
}

// Last returns the most recent frame.
func (r *Recorder) Last() (model.Frame, bool) {
	if len(r.frames) == 0 {
		return model.Frame{}, false
	}
	return r.frames[len(r.frames)-1], true
}

// Len returns the number of recorded frames.
func (r *Recorder) Len() int {
	return len(r.frames)
}

// TextHost maintains a rendered tree by applying each frame's mutations,
// never reading the frame's full tree. It therefore doubles as a consistency
// check: the mutation stream alone must reproduce every committed state.
type TextHost struct {
	tree *model.RenderedNode
}

// NewTextHost returns a text host with an empty surface.
func NewTextHost() *TextHost {
	return &TextHost{tree: commit.EmptyTree()}
}

// Apply folds the frame's mutations into the maintained tree.
func (h *TextHost) Apply(frame model.Frame) error {
	next, err := commit.Apply(h.tree, frame.Mutations)
	if err != nil {
		return fmt.Errorf("frame %d: %w", frame.Seq, err)
	}
	h.tree = next
	return nil
}

// Tree returns the current surface.
func (h *TextHost) Tree() *model.RenderedNode {
	return h.tree
}

// Render formats the current surface as indented text, one node per line.
func (h *TextHost) Render() string {
	return Format(h.tree)
}

// Format renders a committed tree as indented text, one node per line. The
// synthetic root contributes no line of its own.
func Format(tree *model.RenderedNode) string {
	if tree == nil {
		return ""
	}
	var sb strings.Builder
	for _, c := range tree.Children {
		renderNode(&sb, c, 0)
	}
	return sb.String()
}

func renderNode(sb *strings.Builder, n *model.RenderedNode, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	switch n.Kind {
	case model.KindGroup:
		sb.WriteString("group")
		if n.Key != "" {
			sb.WriteString(" key=" + n.Key)
		}
		sb.WriteString("\n")
		for _, c := range n.Children {
			renderNode(sb, c, depth+1)
		}
	default:
		fmt.Fprintf(sb, "%s %q\n", n.Kind, n.Text)
	}
}

// Tee fans one frame out to several hosts, failing on the first error.
type Tee []interface {
	Apply(model.Frame) error
}

// Apply applies the frame to each host in order.
func (t Tee) Apply(frame model.Frame) error {
	for _, h := range t {
		if err := h.Apply(frame); err != nil {
			return err
		}
	}
	return nil
}
