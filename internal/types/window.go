package types

import (
	"fmt"
	"time"
)

// SyncWindow is an inclusive time range in epoch milliseconds
type SyncWindow struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// InitialWindow returns the window covering one full interval before now
func InitialWindow(now time.Time, interval time.Duration) SyncWindow {
	end := now.UnixMilli()
	return SyncWindow{
		Start: end - interval.Milliseconds(),
		End:   end,
	}
}

// Due reports whether at least one interval elapsed since the window start
func (w SyncWindow) Due(nowMs int64, interval time.Duration) bool {
	return nowMs-w.Start >= interval.Milliseconds()
}

// Span returns the window a cycle at nowMs covers
func (w SyncWindow) Span(nowMs int64) SyncWindow {
	return SyncWindow{Start: w.Start, End: nowMs}
}

// Next returns the window following a cycle that ended at nowMs
func (w SyncWindow) Next(nowMs int64) SyncWindow {
	return SyncWindow{Start: nowMs + 1, End: nowMs}
}

// Validate checks the window bounds
func (w SyncWindow) Validate() error {
	if w.Start > w.End+1 {
		return fmt.Errorf("window start %d is after end %d", w.Start, w.End)
	}
	return nil
}

// String returns a readable form of the window
func (w SyncWindow) String() string {
	return fmt.Sprintf("[%d, %d]", w.Start, w.End)
}
