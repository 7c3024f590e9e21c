// Package sentinel holds the errors stores return for facts about records.
// Services translate them into domain errors; handlers never see them.
package sentinel

import "errors"

var (
	// ErrNotFound means the key or row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyUsed means an insert hit an existing key.
	ErrAlreadyUsed = errors.New("already used")
)
