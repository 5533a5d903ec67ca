// Package action runs the user-visible response to a pinch.
package action

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
)

// PinchEvent describes one fired pinch.
type PinchEvent struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Time      time.Time `json:"time"`
	Distance  float64   `json:"distance"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
}

// Action is fired once per pinch.
type Action interface {
	Fire(ctx context.Context, evt PinchEvent) error
}

// Func adapts a function to Action.
type Func func(ctx context.Context, evt PinchEvent) error

// Fire calls f.
func (f Func) Fire(ctx context.Context, evt PinchEvent) error {
	return f(ctx, evt)
}

// LogAction writes the event to the standard logger.
type LogAction struct {
	Message string
}

// Fire logs the pinch.
func (a LogAction) Fire(ctx context.Context, evt PinchEvent) error {
	msg := a.Message
	if msg == "" {
		msg = "Pinch"
	}
	log.Printf("%s at (%.0f, %.0f), distance %.3f", msg, evt.X, evt.Y, evt.Distance)
	return nil
}

// Multi fires every action in order and joins their errors.
type Multi []Action

// Fire runs all actions even if some fail.
func (m Multi) Fire(ctx context.Context, evt PinchEvent) error {
	var errs []error
	for _, a := range m {
		if a == nil {
			continue
		}
		if err := a.Fire(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async fires the wrapped action on its own goroutine so the frame loop never
// waits on it. Errors are logged.
type Async struct {
	Action Action
}

// Fire starts the action and returns immediately.
func (a Async) Fire(ctx context.Context, evt PinchEvent) error {
	if a.Action == nil {
		return nil
	}
	go func() {
		if err := a.Action.Fire(context.WithoutCancel(ctx), evt); err != nil {
			log.Printf("Pinch action failed: %v", err)
		}
	}()
	return nil
}
