// Copyright 2024 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fsm runs sequences of steps as a finite state machine. Each state
// decides which state runs next, so a sequence can branch or stop early.
//
// The design is inspired by Rob Pike's talk "Lexical Scanning in Go".
package fsm

import (
	"context"
	"fmt"
)

// State is a step of the machine. It receives args, returns them updated,
// together with the next State to run. A nil State ends the machine.
type State[T any] func(ctx context.Context, args T) (T, State[T], error)

// Observer is notified before a named state runs.
type Observer func(name string)

// Run executes the machine starting at start until a state returns a nil next
// state or an error. Cancellation of ctx is checked between states.
func Run[T any](ctx context.Context, args T, start State[T]) (T, error) {
	var err error

	current := start

	for current != nil {
		if ctx.Err() != nil {
			return args, ctx.Err()
		}

		args, current, err = current(ctx, args)
		if err != nil {
			return args, err
		}
	}

	return args, nil
}

// Named wraps s so that its errors are prefixed with name and obs, if not nil,
// is called before s runs.
func Named[T any](name string, obs Observer, s State[T]) State[T] {
	return func(ctx context.Context, args T) (T, State[T], error) {
		if obs != nil {
			obs(name)
		}

		args, next, err := s(ctx, args)
		if err != nil {
			return args, nil, fmt.Errorf("%s: %w", name, err)
		}

		return args, next, nil
	}
}
