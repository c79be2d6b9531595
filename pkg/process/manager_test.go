package process

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProc struct {
	mu             sync.Mutex
	pid            int32
	name           string
	title          string
	memMB          float64
	running        bool
	nameErr        error
	memErr         error
	terminateErr   error
	killErr        error
	dieOnTerminate bool
	dieOnKill      bool
	terminateCalls int
	killCalls      int
}

func (f *fakeProc) PID() int32 { return f.pid }

func (f *fakeProc) Name(ctx context.Context) (string, error) {
	if f.nameErr != nil {
		return "", f.nameErr
	}
	return f.name, nil
}

func (f *fakeProc) Terminate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminateCalls++
	if f.terminateErr != nil {
		return f.terminateErr
	}
	if f.dieOnTerminate {
		f.running = false
	}
	return nil
}

func (f *fakeProc) Kill(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killCalls++
	if f.killErr != nil {
		return f.killErr
	}
	if f.dieOnKill {
		f.running = false
	}
	return nil
}

func (f *fakeProc) Running(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, nil
}

func (f *fakeProc) MemoryMB(ctx context.Context) (float64, error) {
	if f.memErr != nil {
		return 0, f.memErr
	}
	return f.memMB, nil
}

func (f *fakeProc) WindowTitle(ctx context.Context) (string, error) {
	return f.title, nil
}

func (f *fakeProc) kills() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killCalls
}

func (f *fakeProc) terminates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminateCalls
}

type fakeInspector struct {
	procs map[int32]*fakeProc
}

func (f *fakeInspector) Find(ctx context.Context, pid int32) (runningProcess, error) {
	p, ok := f.procs[pid]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (f *fakeInspector) Snapshot(ctx context.Context) ([]runningProcess, error) {
	out := make([]runningProcess, 0, len(f.procs))
	for _, p := range f.procs {
		out = append(out, p)
	}
	return out, nil
}

func fastConfig() Config {
	return Config{
		StartupWatch: 100 * time.Millisecond,
		GracefulWait: 300 * time.Millisecond,
		ForcedWait:   300 * time.Millisecond,
	}
}

func testManager(insp inspector) *Manager {
	return newManager(fastConfig(), zerolog.Nop(), insp)
}

func TestTerminateRejectsInvalidPID(t *testing.T) {
	m := testManager(&fakeInspector{procs: map[int32]*fakeProc{}})

	for _, pid := range []int32{0, -1, -42} {
		err := m.Terminate(context.Background(), pid)
		assert.ErrorIs(t, err, ErrInvalidPID)
	}
}

func TestTerminateNotFound(t *testing.T) {
	m := testManager(&fakeInspector{procs: map[int32]*fakeProc{}})

	err := m.Terminate(context.Background(), 4242)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTerminateRefusesProtectedProcess(t *testing.T) {
	tests := []string{"lsass.exe", "winlogon.exe", "SVCHOST.EXE", "systemd", "explorer.exe"}

	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			proc := &fakeProc{pid: 77, name: name, running: true}
			m := testManager(&fakeInspector{procs: map[int32]*fakeProc{77: proc}})

			err := m.Terminate(context.Background(), 77)
			require.ErrorIs(t, err, ErrProtected)
			assert.Zero(t, proc.terminates())
			assert.Zero(t, proc.kills())
			running, _ := proc.Running(context.Background())
			assert.True(t, running)
		})
	}
}

func TestTerminateGracefulStop(t *testing.T) {
	proc := &fakeProc{pid: 101, name: "worker", running: true, dieOnTerminate: true}
	m := testManager(&fakeInspector{procs: map[int32]*fakeProc{101: proc}})

	err := m.Terminate(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, 1, proc.terminates())
	assert.Zero(t, proc.kills(), "graceful stop must not escalate")
}

func TestTerminateEscalatesToKill(t *testing.T) {
	proc := &fakeProc{pid: 102, name: "worker", running: true, dieOnKill: true}
	m := testManager(&fakeInspector{procs: map[int32]*fakeProc{102: proc}})

	err := m.Terminate(context.Background(), 102)
	require.NoError(t, err)
	assert.Equal(t, 1, proc.terminates())
	assert.Equal(t, 1, proc.kills())
}

func TestTerminateSkipsGracefulWaitWhenUndeliverable(t *testing.T) {
	proc := &fakeProc{
		pid:          103,
		name:         "headless",
		running:      true,
		terminateErr: assert.AnError,
		dieOnKill:    true,
	}
	insp := &fakeInspector{procs: map[int32]*fakeProc{103: proc}}
	m := newManager(Config{GracefulWait: 5 * time.Second, ForcedWait: time.Second, StartupWatch: time.Millisecond}, zerolog.Nop(), insp)

	start := time.Now()
	err := m.Terminate(context.Background(), 103)
	require.NoError(t, err)
	assert.Equal(t, 1, proc.kills())
	assert.Less(t, time.Since(start), time.Second, "undeliverable graceful stop must not burn the graceful window")
}

func TestTerminateReportsStubbornProcess(t *testing.T) {
	proc := &fakeProc{pid: 104, name: "immortal", running: true}
	m := testManager(&fakeInspector{procs: map[int32]*fakeProc{104: proc}})

	err := m.Terminate(context.Background(), 104)
	require.ErrorIs(t, err, ErrStillRunning)
	assert.Equal(t, 1, proc.terminates())
	assert.Equal(t, 1, proc.kills())
}

func TestTerminateHonorsContext(t *testing.T) {
	proc := &fakeProc{pid: 105, name: "worker", running: true}
	m := testManager(&fakeInspector{procs: map[int32]*fakeProc{105: proc}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := m.Terminate(ctx, 105)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListRunningBestEffort(t *testing.T) {
	insp := &fakeInspector{procs: map[int32]*fakeProc{
		20: {pid: 20, name: "beta", memMB: 12.5, running: true},
		10: {pid: 10, name: "", nameErr: assert.AnError, memErr: assert.AnError, running: true},
		30: {pid: 30, name: "gamma", title: "Gamma - Editor", memMB: 4, running: true},
	}}
	m := testManager(insp)

	infos, err := m.ListRunning(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 3)

	assert.Equal(t, int32(10), infos[0].PID)
	assert.Empty(t, infos[0].Name)
	assert.Zero(t, infos[0].MemoryMB)

	assert.Equal(t, "beta", infos[1].Name)
	assert.InDelta(t, 12.5, infos[1].MemoryMB, 0.001)

	assert.Equal(t, "Gamma - Editor", infos[2].WindowTitle)
}

func TestLaunchRejectsMissingWorkingDir(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	m := testManager(&fakeInspector{procs: map[int32]*fakeProc{}})

	_, err := m.Launch(context.Background(), "sleep", "1", "/definitely/not/a/dir")
	assert.ErrorIs(t, err, ErrWorkingDirectory)
}

func TestLaunchUnresolvable(t *testing.T) {
	m := testManager(&fakeInspector{procs: map[int32]*fakeProc{}})

	_, err := m.Launch(context.Background(), "no-such-binary-xyzzy", "", "")
	assert.ErrorIs(t, err, ErrNotResolved)
}

func TestLaunchDetectsImmediateExit(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not available")
	}
	m := testManager(&fakeInspector{procs: map[int32]*fakeProc{}})

	_, err := m.Launch(context.Background(), "true", "", "")
	assert.ErrorIs(t, err, ErrExitedImmediately)
}

func TestLaunchAndTerminate(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	m := NewManager(fastConfig(), zerolog.Nop())

	pid, err := m.Launch(context.Background(), "sleep", "30", "")
	require.NoError(t, err)
	require.Greater(t, pid, int32(0))
	assert.Equal(t, 1, m.TrackedCount())

	require.NoError(t, m.Terminate(context.Background(), pid))

	assert.Eventually(t, func() bool { return m.TrackedCount() == 0 },
		2*time.Second, 50*time.Millisecond, "reaper should drop the exited child")
}
