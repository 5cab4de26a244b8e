package controller

import "errors"

var (
	// ErrUnknownState is returned for a set-state value other than idle,
	// looking or look-at.
	ErrUnknownState = errors.New("unknown state")

	// ErrInvalidCommand is returned when a command payload cannot be parsed.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrNoReactions is returned when a person is found but no reaction
	// animations are configured.
	ErrNoReactions = errors.New("no reaction animations configured")
)
