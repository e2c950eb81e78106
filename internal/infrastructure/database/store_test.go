package database

import (
	"context"
	"testing"
)

// TestChannelStore verifies output state persistence.
func TestChannelStore(t *testing.T) {
	db := openMigratedDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	store := NewChannelStore(db)

	t.Run("empty store returns no states", func(t *testing.T) {
		states, err := store.Outputs(ctx)
		if err != nil {
			t.Fatalf("Outputs() error = %v", err)
		}
		if len(states) != 0 {
			t.Errorf("Outputs() = %v, want empty", states)
		}
	})

	t.Run("save and load", func(t *testing.T) {
		if err := store.SaveOutput(ctx, 36, true); err != nil {
			t.Fatalf("SaveOutput() error = %v", err)
		}
		if err := store.SaveOutput(ctx, 34, false); err != nil {
			t.Fatalf("SaveOutput() error = %v", err)
		}

		states, err := store.Outputs(ctx)
		if err != nil {
			t.Fatalf("Outputs() error = %v", err)
		}
		if len(states) != 2 {
			t.Fatalf("len(Outputs()) = %d, want 2", len(states))
		}
		if !states[36] {
			t.Error("channel 36 = off, want on")
		}
		if states[34] {
			t.Error("channel 34 = on, want off")
		}
	})

	t.Run("save replaces existing state", func(t *testing.T) {
		if err := store.SaveOutput(ctx, 36, false); err != nil {
			t.Fatalf("SaveOutput() error = %v", err)
		}

		states, err := store.Outputs(ctx)
		if err != nil {
			t.Fatalf("Outputs() error = %v", err)
		}
		if states[36] {
			t.Error("channel 36 = on after overwrite, want off")
		}
	})

	t.Run("delete removes state", func(t *testing.T) {
		if err := store.DeleteOutput(ctx, 34); err != nil {
			t.Fatalf("DeleteOutput() error = %v", err)
		}

		states, err := store.Outputs(ctx)
		if err != nil {
			t.Fatalf("Outputs() error = %v", err)
		}
		if _, ok := states[34]; ok {
			t.Error("channel 34 still present after delete")
		}
	})

	t.Run("delete of missing channel is a no-op", func(t *testing.T) {
		if err := store.DeleteOutput(ctx, 99); err != nil {
			t.Errorf("DeleteOutput() error = %v", err)
		}
	})
}
