package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const playerKeyPrefix = "engine:player:"

// RedisDirectory stores identity records as JSON values in Redis.
type RedisDirectory struct {
	client *redis.Client
}

// NewRedisDirectory connects to Redis and verifies the connection.
func NewRedisDirectory(ctx context.Context, addr string) (*RedisDirectory, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("identity: ping redis: %w", err)
	}
	return &RedisDirectory{client: client}, nil
}

func playerKey(userID string) string { return playerKeyPrefix + userID }

// Player returns the stored record, or ErrUnknownPlayer when absent.
func (d *RedisDirectory) Player(ctx context.Context, userID string) (Player, error) {
	data, err := d.client.Get(ctx, playerKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Player{}, ErrUnknownPlayer
	}
	if err != nil {
		return Player{}, fmt.Errorf("identity: get player: %w", err)
	}
	var player Player
	if err := json.Unmarshal(data, &player); err != nil {
		return Player{}, fmt.Errorf("identity: decode player: %w", err)
	}
	return player, nil
}

// SetProfile stores the assigned profile, creating the record when missing.
func (d *RedisDirectory) SetProfile(ctx context.Context, userID, profileName string) error {
	return d.update(ctx, userID, func(player *Player) {
		player.ProfileName = profileName
	})
}

// RecordSession bumps the counter and the lifetime max speed.
func (d *RedisDirectory) RecordSession(ctx context.Context, userID string, maxSpeed float64) error {
	return d.update(ctx, userID, func(player *Player) {
		player.SessionsPlayed++
		if maxSpeed > player.GlobalMaxSpeed {
			player.GlobalMaxSpeed = maxSpeed
		}
	})
}

// update applies a mutation inside a WATCH transaction so concurrent
// sessions for one player cannot lose increments.
func (d *RedisDirectory) update(ctx context.Context, userID string, mutate func(*Player)) error {
	key := playerKey(userID)
	txn := func(tx *redis.Tx) error {
		var player Player
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			player = Player{UserID: userID}
		case err != nil:
			return fmt.Errorf("identity: get player: %w", err)
		default:
			if err := json.Unmarshal(data, &player); err != nil {
				return fmt.Errorf("identity: decode player: %w", err)
			}
		}
		mutate(&player)
		encoded, err := json.Marshal(player)
		if err != nil {
			return fmt.Errorf("identity: encode player: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}
	//1.- Retry a handful of times on WATCH conflicts before giving up.
	for attempt := 0; attempt < 5; attempt++ {
		err := d.client.Watch(ctx, txn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("identity: update player %s: too many conflicts", userID)
}

// Close releases the Redis client.
func (d *RedisDirectory) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}
