package scheduler

import (
	"time"

	"github.com/me/reflow/pkg/model"
)

// Update is one scheduled unit of root-level work. The exported fields are
// read-only for callers; the scheduler owns all mutation.
type Update struct {
	ID            string
	Seq           int64
	Priority      model.Priority
	State         model.UpdateState
	Sync          bool
	Tree          *model.Element
	CreatedAt     time.Duration
	Expiration    time.Duration
	HasExpiration bool
	FrameSeq      int64
	CommittedAt   time.Duration
	Err           error

	// OnCommit, when set before the flush that commits this update, runs
	// synchronously right after the frame has been applied.
	OnCommit func(model.Frame)

	// retry marks updates materialized from boundary pings; they re-render
	// the current tree without resetting boundary deadlines.
	retry  bool
	walked bool

	// blockedOn and pendingPaths are populated while the update is parked:
	// the resource keys it waits for and the boundary paths it suspended
	// under.
	blockedOn    map[string]bool
	pendingPaths []string
}

func (u *Update) fail(err error) {
	u.State = model.UpdateDropped
	u.Err = err
}

// Status converts the update to its API representation.
func (u *Update) Status() model.UpdateStatus {
	st := model.UpdateStatus{
		ID:        u.ID,
		Priority:  u.Priority,
		State:     u.State,
		Sync:      u.Sync,
		CreatedMS: u.CreatedAt.Milliseconds(),
	}
	if u.HasExpiration {
		st.ExpiresMS = u.Expiration.Milliseconds()
	}
	if len(u.blockedOn) > 0 {
		st.BlockedOn = sortedKeys(u.blockedOn)
	}
	if u.State == model.UpdateCommitted {
		st.FrameSeq = u.FrameSeq
		st.CommitTime = u.CommittedAt.Milliseconds()
	}
	if u.Err != nil {
		st.Error = u.Err.Error()
	}
	return st
}
