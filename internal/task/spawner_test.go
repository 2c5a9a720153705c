package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSync_RunsInline(t *testing.T) {
	ran := false
	s := &Sync{}
	s.Spawn("unit", func(ctx context.Context) error {
		ran = true
		return nil
	})
	assert.True(t, ran, "Sync must have completed before Spawn returns")
}

func TestSync_SwallowsError(t *testing.T) {
	s := &Sync{}
	// Must not panic or propagate.
	s.Spawn("unit", func(ctx context.Context) error {
		return errors.New("boom")
	})
}

func TestDetached_RunsAsync(t *testing.T) {
	done := make(chan struct{})
	d := NewDetached(context.Background(), nil)
	d.Spawn("unit", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("detached task never ran")
	}
}

func TestDetached_UsesBaseContext(t *testing.T) {
	type key struct{}
	base := context.WithValue(context.Background(), key{}, "present")

	got := make(chan any, 1)
	d := NewDetached(base, nil)
	d.Spawn("unit", func(ctx context.Context) error {
		got <- ctx.Value(key{})
		return nil
	})

	select {
	case v := <-got:
		require.Equal(t, "present", v)
	case <-time.After(2 * time.Second):
		t.Fatal("detached task never ran")
	}
}

func TestDetached_RecoversPanic(t *testing.T) {
	done := make(chan struct{})
	d := NewDetached(context.Background(), nil)
	d.Spawn("unit", func(ctx context.Context) error {
		defer close(done)
		panic("should be recovered")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("detached task never ran")
	}
	// Give the deferred recover a moment; a panic escaping the goroutine
	// would crash the test binary.
	time.Sleep(50 * time.Millisecond)
}
