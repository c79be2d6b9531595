package process

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// runningProcess is the narrow view of an OS process the manager needs.
// gopsutil backs the real implementation; tests substitute fakes to drive
// the termination ladder deterministically.
type runningProcess interface {
	PID() int32
	Name(ctx context.Context) (string, error)
	// Terminate requests a graceful stop. An error means the request could
	// not be delivered at all.
	Terminate(ctx context.Context) error
	Kill(ctx context.Context) error
	Running(ctx context.Context) (bool, error)
	MemoryMB(ctx context.Context) (float64, error)
	WindowTitle(ctx context.Context) (string, error)
}

// inspector locates processes on the host.
type inspector interface {
	Find(ctx context.Context, pid int32) (runningProcess, error)
	Snapshot(ctx context.Context) ([]runningProcess, error)
}

type gopsInspector struct{}

func (gopsInspector) Find(ctx context.Context, pid int32) (runningProcess, error) {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("%w: pid %d", ErrNotFound, pid)
	}
	return gopsProcess{proc}, nil
}

func (gopsInspector) Snapshot(ctx context.Context) ([]runningProcess, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]runningProcess, 0, len(procs))
	for _, p := range procs {
		out = append(out, gopsProcess{p})
	}
	return out, nil
}

type gopsProcess struct {
	p *process.Process
}

func (g gopsProcess) PID() int32 {
	return g.p.Pid
}

func (g gopsProcess) Name(ctx context.Context) (string, error) {
	return g.p.NameWithContext(ctx)
}

func (g gopsProcess) Terminate(ctx context.Context) error {
	return g.p.TerminateWithContext(ctx)
}

func (g gopsProcess) Kill(ctx context.Context) error {
	return g.p.KillWithContext(ctx)
}

func (g gopsProcess) Running(ctx context.Context) (bool, error) {
	return g.p.IsRunningWithContext(ctx)
}

func (g gopsProcess) MemoryMB(ctx context.Context) (float64, error) {
	info, err := g.p.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, err
	}
	if info == nil {
		return 0, nil
	}
	return float64(info.RSS) / (1024 * 1024), nil
}

// WindowTitle is best-effort. No cross-platform process API exposes window
// titles, so the live inspector reports none and the field stays optional.
func (g gopsProcess) WindowTitle(ctx context.Context) (string, error) {
	return "", nil
}
