package database

import (
	"context"
	"fmt"
	"time"
)

// ChannelStore persists confirmed output channel states.
//
// Only acknowledged states are written: the store is the source of
// truth for "where the relays were" when the bridge restarts, so it
// must never record a state the controller has not confirmed.
type ChannelStore struct {
	db *DB
}

// NewChannelStore creates a store backed by the given database.
func NewChannelStore(db *DB) *ChannelStore {
	return &ChannelStore{db: db}
}

// SaveOutput records the confirmed state of an output channel.
// An existing row for the channel is replaced.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - channel: Output channel number
//   - on: Confirmed state
//
// Returns:
//   - error: If the write fails
func (s *ChannelStore) SaveOutput(ctx context.Context, channel int, on bool) error {
	state := 0
	if on {
		state = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_states (channel, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(channel) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at
	`, channel, state, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving channel %d state: %w", channel, err)
	}
	return nil
}

// Outputs returns the saved state of every output channel.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - map[int]bool: Channel number to confirmed state; empty if none saved
//   - error: If the query fails
func (s *ChannelStore) Outputs(ctx context.Context) (map[int]bool, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		"SELECT channel, state FROM channel_states ORDER BY channel",
	)
	if err != nil {
		return nil, fmt.Errorf("querying channel states: %w", err)
	}
	defer rows.Close()

	states := make(map[int]bool)
	for rows.Next() {
		var channel, state int
		if err := rows.Scan(&channel, &state); err != nil {
			return nil, fmt.Errorf("scanning channel state row: %w", err)
		}
		states[channel] = state == 1
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating channel states: %w", err)
	}
	return states, nil
}

// DeleteOutput removes the saved state for a channel. Used when a
// channel is dropped from the configuration.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - channel: Output channel number
//
// Returns:
//   - error: If the delete fails
func (s *ChannelStore) DeleteOutput(ctx context.Context, channel int) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM channel_states WHERE channel = ?", channel,
	)
	if err != nil {
		return fmt.Errorf("deleting channel %d state: %w", channel, err)
	}
	return nil
}
