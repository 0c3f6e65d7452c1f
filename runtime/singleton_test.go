package runtime

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/wippyai/starbridge/engine"
	"github.com/wippyai/starbridge/errors"
)

// The process-wide runtime can be initialized once, so the whole lifecycle
// is checked in a single test.
func TestSingletonLifecycle(t *testing.T) {
	ctx := context.Background()

	if _, err := Default(); !stderrors.Is(err, errors.ErrNotInitialized) {
		t.Fatalf("Default before Init = %v, want not initialized", err)
	}

	rt, err := Init(ctx, WithWasm(engine.WasmConfig{}))
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if _, err := Init(ctx); !stderrors.Is(err, errors.ErrAlreadyInitialized) {
		t.Errorf("second Init = %v, want already initialized", err)
	}
	got, err := Default()
	if err != nil || got != rt {
		t.Fatalf("Default = %v, %v", got, err)
	}

	p, err := rt.ToGuest(ctx, []int{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	if err := Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if p.IsLive() {
		t.Error("Shutdown must invalidate proxies")
	}
	if _, err := p.Convert(ctx); !stderrors.Is(err, errors.ErrDeadReference) {
		t.Errorf("Convert after Shutdown = %v, want dead reference", err)
	}
	if _, err := Default(); !stderrors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("Default after Shutdown = %v", err)
	}
	if err := Shutdown(ctx); !stderrors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("second Shutdown = %v", err)
	}
	if _, err := Init(ctx); !stderrors.Is(err, errors.ErrAlreadyInitialized) {
		t.Errorf("Init after Shutdown = %v, want already initialized", err)
	}
}
