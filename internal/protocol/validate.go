// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidEvent is returned when an event fails boundary validation.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrUnknownState is returned when an event carries an unrecognized state.
	ErrUnknownState = errors.New("unknown event state")
	// ErrDecodeEvent is returned when an event cannot be decoded from JSON.
	ErrDecodeEvent = errors.New("failed to decode event")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks an event against the boundary schema: required fields
// present and the state recognized. Loosely-typed payloads from another
// process must pass here before they are trusted.
func Validate(e Event) error {
	if err := validate.Struct(e); err != nil {
		return errors.Join(ErrInvalidEvent, err)
	}

	if !e.State.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownState, e.State)
	}

	return nil
}

// Decode parses a JSON-encoded event and validates it.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, errors.Join(ErrDecodeEvent, err)
	}

	if err := Validate(e); err != nil {
		return Event{}, err
	}

	return e, nil
}

// Encode serializes an event to its JSON wire shape.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}
