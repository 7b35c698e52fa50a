package staging_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"st-go/internal/config"
	"st-go/internal/core"
	"st-go/internal/staging"
	"st-go/internal/testutil"
)

// stepSignal wraps exec so every finished drain step is reported on the
// returned channel.
func stepSignal(exec func(ctx context.Context, fn func() error) error) (func(ctx context.Context, fn func() error) error, <-chan error) {
	steps := make(chan error, 64)
	return func(ctx context.Context, fn func() error) error {
		err := exec(ctx, fn)
		steps <- err
		return err
	}, steps
}

func waitStep(t *testing.T, steps <-chan error) {
	t.Helper()
	select {
	case err := <-steps:
		if err != nil {
			t.Fatalf("drain step error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a drain step")
	}
}

func TestArea_StartDrainsOnSchedule(t *testing.T) {
	h := testutil.NewHarness(t, testutil.HarnessOptions{})
	tr := newFooTree(t, h)
	other := h.MkFolder(t, h.Root(), "other")
	h.MkFile(t, other, "notes", "notes content")
	h.SetExpelled(t, tr.foo, true)
	h.SetExpelled(t, other, true)

	q := core.NewQueue()
	defer q.Close()
	exec, steps := stepSignal(q.Do)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := clockwork.NewFakeClock()
	done := h.Staging.Start(ctx, staging.DrainSchedule{
		Clock:      clock,
		Interval:   time.Minute,
		BatchLimit: 1,
		Exec:       exec,
	})

	// One entry drains right away; the other waits for the next tick.
	waitStep(t, steps)
	if entries := h.Entries(t); len(entries) != 1 || entries[0].SOID != other {
		t.Fatalf("Entries() after first batch = %v, want only other", entries)
	}

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext() error = %v", err)
	}
	clock.Advance(time.Minute)
	waitStep(t, steps)

	if entries := h.Entries(t); len(entries) != 0 {
		t.Errorf("Entries() after second batch = %v, want none", entries)
	}
	if got := len(h.Physical.Scrubs()); got != 6 {
		t.Errorf("scrubs = %v, want 6", h.Physical.Scrubs())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("drain loop did not stop after cancel")
	}
}

func TestArea_StartRetriesFailureOncePerTick(t *testing.T) {
	h := testutil.NewHarness(t, testutil.HarnessOptions{})
	tr := newFooTree(t, h)
	h.SetExpelled(t, tr.foo, true)
	h.Physical.FailScrub("foo/bar/baz", 1<<30)

	exec, steps := stepSignal(func(_ context.Context, fn func() error) error { return fn() })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := clockwork.NewFakeClock()
	done := h.Staging.Start(ctx, staging.DrainSchedule{
		Clock:      clock,
		Interval:   time.Minute,
		BatchLimit: 5,
		Exec:       exec,
	})

	waitStep(t, steps)
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext() error = %v", err)
	}
	clock.Advance(time.Minute)
	waitStep(t, steps)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("drain loop did not stop after cancel")
	}

	if extra := len(steps); extra != 0 {
		t.Errorf("%d extra drain steps for one failing entry over two ticks", extra)
	}
	if n := len(h.Entries(t)); n != 1 {
		t.Errorf("%d entries, want the failing one", n)
	}
	if !h.Exists(t, "foo/bar/baz") {
		t.Error("failing object was removed")
	}
}

func TestArea_StartStopsWhenCancelled(t *testing.T) {
	h := testutil.NewHarness(t, testutil.HarnessOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := h.Staging.Start(ctx, staging.DrainSchedule{
		Clock:    h.Clock.Clockwork(),
		Interval: time.Minute,
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("drain loop did not stop")
	}
}

func TestNewStagingAreaFromConfig(t *testing.T) {
	h := testutil.NewHarness(t, testutil.HarnessOptions{})
	deps := staging.Deps{
		TxManager: h.TM,
		Directory: h.Dir,
		Physical:  h.Physical,
		Versions:  h.Versions,
		Stores:    h.Stores,
	}

	tests := []struct {
		name    string
		cfg     config.StagingConfig
		deps    staging.Deps
		wantErr bool
	}{
		{name: "default is sqlite", cfg: config.StagingConfig{}, deps: deps},
		{name: "memory", cfg: config.StagingConfig{Type: "memory"}, deps: deps},
		{name: "sqlite without transactions", cfg: config.StagingConfig{Type: "sqlite"}, deps: staging.Deps{}, wantErr: true},
		{name: "unknown", cfg: config.StagingConfig{Type: "redis"}, deps: deps, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := staging.NewStagingAreaFromConfig(tt.cfg, tt.deps)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewStagingAreaFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && a == nil {
				t.Error("NewStagingAreaFromConfig() returned nil area")
			}
		})
	}
}
