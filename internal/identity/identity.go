// Package identity serves per-player training preferences: the assigned
// difficulty profile, an optional session-type override, the number of
// sessions played, and a lifetime max-speed statistic. A Redis implementation
// backs production; an in-memory implementation serves tests and single-node
// runs.
package identity

import (
	"context"
	"errors"
	"sync"
)

// ErrUnknownPlayer is returned when no record exists for the player.
var ErrUnknownPlayer = errors.New("identity: unknown player")

// Player is the identity record the engine consults before each session.
type Player struct {
	UserID         string  `json:"user_id"`
	ProfileName    string  `json:"profile_name"`
	TypeOverride   string  `json:"type_override,omitempty"`
	SessionsPlayed int     `json:"sessions_played"`
	GlobalMaxSpeed float64 `json:"global_max_speed"`
}

// Directory reads and updates player identity records.
type Directory interface {
	// Player returns the record, or ErrUnknownPlayer for a first-time user.
	Player(ctx context.Context, userID string) (Player, error)
	// SetProfile stores the profile a calibration run assigned.
	SetProfile(ctx context.Context, userID, profileName string) error
	// RecordSession increments the sessions-played counter and raises the
	// lifetime max speed when the session beat it.
	RecordSession(ctx context.Context, userID string, maxSpeed float64) error
	Close() error
}

// MemoryDirectory is a Directory kept in process memory.
type MemoryDirectory struct {
	mu      sync.RWMutex
	players map[string]Player
}

// NewMemoryDirectory builds an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{players: make(map[string]Player)}
}

// Seed installs a record wholesale, primarily for tests and fixtures.
func (d *MemoryDirectory) Seed(player Player) {
	d.mu.Lock()
	d.players[player.UserID] = player
	d.mu.Unlock()
}

// Player returns the stored record.
func (d *MemoryDirectory) Player(ctx context.Context, userID string) (Player, error) {
	if err := ctx.Err(); err != nil {
		return Player{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	player, ok := d.players[userID]
	if !ok {
		return Player{}, ErrUnknownPlayer
	}
	return player, nil
}

// SetProfile stores the assigned profile, creating the record when missing.
func (d *MemoryDirectory) SetProfile(ctx context.Context, userID, profileName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	player := d.players[userID]
	player.UserID = userID
	player.ProfileName = profileName
	d.players[userID] = player
	return nil
}

// RecordSession bumps the counter and the lifetime max speed.
func (d *MemoryDirectory) RecordSession(ctx context.Context, userID string, maxSpeed float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	player := d.players[userID]
	player.UserID = userID
	player.SessionsPlayed++
	if maxSpeed > player.GlobalMaxSpeed {
		player.GlobalMaxSpeed = maxSpeed
	}
	d.players[userID] = player
	return nil
}

// Close is a no-op for the in-memory directory.
func (d *MemoryDirectory) Close() error { return nil }
