package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"cfgkeeper/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type fakeAudit struct {
	entries []types.AuditLogEntry
	err     error
	windows []types.SyncWindow
}

func (f *fakeAudit) AuditLogs(_ context.Context, window types.SyncWindow) ([]types.AuditLogEntry, error) {
	f.windows = append(f.windows, window)
	return f.entries, f.err
}

type fakeSnapshots struct {
	refs []types.EntityReference
	fail map[string]error
}

func (f *fakeSnapshots) SettingsObjects(_ context.Context, ref types.EntityReference) (types.ConfigSnapshot, error) {
	f.refs = append(f.refs, ref)
	if err := f.fail[ref.ID]; err != nil {
		return nil, err
	}
	return types.ConfigSnapshot(`{"id":"` + ref.ID + `"}`), nil
}

type commitCall struct {
	Ref       types.EntityReference
	Snapshot  string
	User      string
	Timestamp int64
}

type fakeArchiver struct {
	commits []commitCall
	fail    map[string]error
}

func (f *fakeArchiver) Commit(_ context.Context, ref types.EntityReference, snapshot types.ConfigSnapshot, user string, timestamp int64) (*types.ArchiveRecord, error) {
	f.commits = append(f.commits, commitCall{Ref: ref, Snapshot: string(snapshot), User: user, Timestamp: timestamp})
	if err := f.fail[ref.ID]; err != nil {
		return nil, err
	}
	return &types.ArchiveRecord{Path: ref.ID + "/" + ref.Type + ".json", SHA: "sha-" + ref.ID}, nil
}

func newEngine(t *testing.T, audit *fakeAudit, snaps *fakeSnapshots, arch *fakeArchiver, opts Options) *Engine {
	t.Helper()
	if opts.PollingInterval == 0 {
		opts.PollingInterval = time.Minute
	}
	return NewEngine(audit, snaps, arch, opts, zaptest.NewLogger(t))
}

func ms(v int64) time.Time {
	return time.UnixMilli(v)
}

func TestInitializeCoversOneInterval(t *testing.T) {
	e := newEngine(t, &fakeAudit{}, &fakeSnapshots{}, &fakeArchiver{}, Options{})
	state := e.Initialize(ms(600_000))
	assert.Equal(t, types.SyncWindow{Start: 540_000, End: 600_000}, state.Window)
}

func TestTickNotDue(t *testing.T) {
	audit := &fakeAudit{}
	e := newEngine(t, audit, &fakeSnapshots{}, &fakeArchiver{}, Options{})

	state := State{Window: types.SyncWindow{Start: 100_001, End: 100_000}}
	next, report, err := e.Tick(context.Background(), state, ms(130_000))
	require.NoError(t, err)
	assert.Nil(t, report)
	assert.Equal(t, state, next)
	assert.Empty(t, audit.windows)
}

func TestWindowsAreContiguous(t *testing.T) {
	audit := &fakeAudit{}
	e := newEngine(t, audit, &fakeSnapshots{}, &fakeArchiver{}, Options{})

	state := e.Initialize(ms(1_000_000))
	now := int64(1_000_000)
	for _, step := range []int64{60_000, 90_000, 61_000, 600_000, 75_000} {
		now += step
		var err error
		state, _, err = e.Tick(context.Background(), state, ms(now))
		require.NoError(t, err)
	}

	require.Len(t, audit.windows, 5)
	for i := 1; i < len(audit.windows); i++ {
		assert.Equal(t, audit.windows[i-1].End+1, audit.windows[i].Start)
	}
	assert.Equal(t, int64(940_000), audit.windows[0].Start)
	assert.Equal(t, now, audit.windows[4].End)
	assert.Equal(t, int64(5), state.Cycles)
}

func TestZeroEntriesNoFetchNoWrite(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	snaps := &fakeSnapshots{}
	arch := &fakeArchiver{}
	e := NewEngine(&fakeAudit{}, snaps, arch, Options{PollingInterval: time.Minute}, zap.New(core))

	state := e.Initialize(ms(60_000))
	_, report, err := e.Tick(context.Background(), state, ms(120_000))
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Zero(t, report.Entries)
	assert.Empty(t, snaps.refs)
	assert.Empty(t, arch.commits)
	assert.Equal(t, 1, logs.FilterMessage("No changes in window").Len())
}

func TestEndToEndSingleEntry(t *testing.T) {
	audit := &fakeAudit{entries: []types.AuditLogEntry{
		{User: "alice", Timestamp: 4000, EntityID: "HOST(h1)"},
	}}
	snaps := &fakeSnapshots{}
	arch := &fakeArchiver{}
	e := newEngine(t, audit, snaps, arch, Options{PollingInterval: 4 * time.Second})

	state := State{Window: types.SyncWindow{Start: 1000, End: 1000}}
	next, report, err := e.Tick(context.Background(), state, ms(5000))
	require.NoError(t, err)

	assert.Equal(t, []types.SyncWindow{{Start: 1000, End: 5000}}, audit.windows)
	assert.Equal(t, []types.EntityReference{{Type: "HOST", ID: "h1"}}, snaps.refs)
	require.Len(t, arch.commits, 1)
	assert.Equal(t, commitCall{
		Ref:       types.EntityReference{Type: "HOST", ID: "h1"},
		Snapshot:  `{"id":"h1"}`,
		User:      "alice",
		Timestamp: 4000,
	}, arch.commits[0])

	assert.Equal(t, types.SyncWindow{Start: 5001, End: 5000}, next.Window)
	assert.Equal(t, 1, report.Committed)
	assert.Equal(t, "h1/HOST.json", report.Results[0].Path)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, report.RunID, next.LastRunID)
}

func TestMalformedEntrySkipped(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	audit := &fakeAudit{entries: []types.AuditLogEntry{
		{User: "a", Timestamp: 1, EntityID: "HOST(h1)"},
		{User: "b", Timestamp: 2, EntityID: "malformed"},
		{User: "c", Timestamp: 3, EntityID: "HOST(h3)"},
	}}
	arch := &fakeArchiver{}
	e := NewEngine(audit, &fakeSnapshots{}, arch, Options{PollingInterval: time.Minute}, zap.New(core))

	_, report, err := e.Tick(context.Background(), e.Initialize(ms(60_000)), ms(120_000))
	require.NoError(t, err)

	require.Len(t, arch.commits, 2)
	assert.Equal(t, "h1", arch.commits[0].Ref.ID)
	assert.Equal(t, "h3", arch.commits[1].Ref.ID)
	assert.Equal(t, 2, report.Committed)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, types.EntitySkipped, report.Results[1].Status)

	parseLogs := logs.FilterMessage("Failed to parse entity").All()
	require.Len(t, parseLogs, 1)
	assert.Equal(t, "malformed", parseLogs[0].ContextMap()["entity_id"])
}

func TestEntityFailuresDoNotStopCycle(t *testing.T) {
	audit := &fakeAudit{entries: []types.AuditLogEntry{
		{User: "a", Timestamp: 1, EntityID: "HOST(bad-fetch)"},
		{User: "b", Timestamp: 2, EntityID: "HOST(conflict)"},
		{User: "c", Timestamp: 3, EntityID: "HOST(ok)"},
	}}
	snaps := &fakeSnapshots{fail: map[string]error{"bad-fetch": errors.New("boom")}}
	arch := &fakeArchiver{fail: map[string]error{"conflict": types.ErrConflict}}
	e := newEngine(t, audit, snaps, arch, Options{})

	state := e.Initialize(ms(60_000))
	next, report, err := e.Tick(context.Background(), state, ms(120_000))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 1, report.Committed)
	assert.True(t, report.HasFailures())
	assert.Equal(t, int64(120_001), next.Window.Start, "entity failures still advance the window")
}

func TestAuditFailureKeepsWindow(t *testing.T) {
	audit := &fakeAudit{err: errors.New("unavailable")}
	e := newEngine(t, audit, &fakeSnapshots{}, &fakeArchiver{}, Options{})

	state := e.Initialize(ms(60_000))
	next, report, err := e.Tick(context.Background(), state, ms(120_000))
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Equal(t, state, next)

	audit.err = nil
	_, _, err = e.Tick(context.Background(), next, ms(200_000))
	require.NoError(t, err)
	assert.Equal(t, types.SyncWindow{Start: 0, End: 200_000}, audit.windows[1])
}

func TestCancelledCycleKeepsWindow(t *testing.T) {
	audit := &fakeAudit{entries: []types.AuditLogEntry{{User: "a", Timestamp: 1, EntityID: "HOST(h1)"}}}
	e := newEngine(t, audit, &fakeSnapshots{}, &fakeArchiver{}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state := e.Initialize(ms(60_000))
	next, _, err := e.Tick(ctx, state, ms(120_000))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, state, next)
}

func TestDuplicatesProcessedEveryOccurrence(t *testing.T) {
	entries := []types.AuditLogEntry{
		{User: "a", Timestamp: 1, EntityID: "HOST(h1)"},
		{User: "b", Timestamp: 2, EntityID: "HOST(h2)"},
		{User: "c", Timestamp: 3, EntityID: "HOST(h1)"},
	}

	arch := &fakeArchiver{}
	e := newEngine(t, &fakeAudit{entries: entries}, &fakeSnapshots{}, arch, Options{})
	_, _, err := e.Tick(context.Background(), e.Initialize(ms(60_000)), ms(120_000))
	require.NoError(t, err)
	require.Len(t, arch.commits, 3)
	assert.Equal(t, "c", arch.commits[2].User)

	collapsed := &fakeArchiver{}
	e = newEngine(t, &fakeAudit{entries: entries}, &fakeSnapshots{}, collapsed, Options{CollapseDuplicates: true})
	_, report, err := e.Tick(context.Background(), e.Initialize(ms(60_000)), ms(120_000))
	require.NoError(t, err)
	require.Len(t, collapsed.commits, 2)
	assert.Equal(t, "b", collapsed.commits[0].User)
	assert.Equal(t, "c", collapsed.commits[1].User)
	assert.Equal(t, 3, report.Entries)
}
