package repository

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by Get/HGet when the key or field is absent.
// Backing-store outages surface as distinct errors, never as ErrKeyNotFound.
var ErrKeyNotFound = errors.New("key not found")

// ErrSkipUpdate may be returned by an HUpdate function to leave the field
// untouched without surfacing an error to the caller.
var ErrSkipUpdate = errors.New("skip update")

// KVStore is the contract both the in-process map and the shared redis
// backend satisfy. Override state, cached stats, and broadcast dedup
// entries all live behind this interface, so switching a deployment from
// single-instance to horizontally-scaled is a wiring change only.
//
// Every method is an atomic single-key operation; callers never compose a
// read with a later write for the same logical mutation (use Update).
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only if key is absent (or expired); reports whether
	// the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error

	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// HUpdate performs an atomic read-modify-write of one hash field. fn
	// receives the current value (and whether the field exists) and returns
	// the replacement; remove=true deletes the field instead. Returning
	// ErrSkipUpdate leaves the field untouched.
	HUpdate(ctx context.Context, key, field string, fn func(current string, exists bool) (next string, remove bool, err error)) error

	// Update performs an atomic read-modify-write of key. fn receives the
	// current value (and whether one exists) and returns the replacement.
	Update(ctx context.Context, key string, fn func(current string, exists bool) (string, error)) (string, error)
}
