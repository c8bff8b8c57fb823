package location

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// WakeLock keeps the host awake while positions are being sampled.
type WakeLock interface {
	Acquire(ctx context.Context) error
	Release() error
}

// NopWakeLock does nothing. Used when the host has no suspend inhibitor.
type NopWakeLock struct{}

func (NopWakeLock) Acquire(context.Context) error { return nil }
func (NopWakeLock) Release() error                 { return nil }

// InhibitWakeLock holds a systemd sleep inhibitor for as long as it is acquired.
type InhibitWakeLock struct {
	who string
	why string

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewInhibitWakeLock creates a wake lock backed by systemd-inhibit.
func NewInhibitWakeLock(who, why string) *InhibitWakeLock {
	return &InhibitWakeLock{who: who, why: why}
}

// Acquire starts an inhibitor process. Calling it while held is a no-op.
func (w *InhibitWakeLock) Acquire(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cmd != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := exec.LookPath("systemd-inhibit")
	if err != nil {
		return fmt.Errorf("systemd-inhibit not found: %w", err)
	}

	// Not bound to ctx: the inhibitor lives until Release, not until the caller returns.
	cmd := exec.Command(path,
		"--what=sleep:idle",
		"--who="+w.who,
		"--why="+w.why,
		"--mode=block",
		"sleep", "infinity",
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start inhibitor: %w", err)
	}
	w.cmd = cmd
	return nil
}

// Release stops the inhibitor process. Calling it when not held is a no-op.
func (w *InhibitWakeLock) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cmd == nil {
		return nil
	}
	cmd := w.cmd
	w.cmd = nil

	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to stop inhibitor: %w", err)
	}
	// The process was killed on purpose, its exit status carries no information.
	_ = cmd.Wait()
	return nil
}
