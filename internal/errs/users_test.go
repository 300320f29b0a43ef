package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExistingUserError(t *testing.T) {
	t.Parallel()

	var err error = &ExistingUserError{Identifier: "a@x.com"}
	wrapped := fmt.Errorf("create: %w", err)

	require.ErrorIs(t, wrapped, ErrAlreadyExists)
	require.NotErrorIs(t, wrapped, ErrNotFound)

	var eu *ExistingUserError
	require.True(t, errors.As(wrapped, &eu))
	require.Equal(t, "a@x.com", eu.Identifier)
	require.Contains(t, err.Error(), "a@x.com")
}

func TestNonExistingUserError(t *testing.T) {
	t.Parallel()

	var err error = &NonExistingUserError{Identifier: "bob"}
	require.ErrorIs(t, err, ErrNotFound)
	require.NotErrorIs(t, err, ErrAlreadyExists)
	require.Equal(t, `user "bob" does not exist`, err.Error())
}

func TestEngineError_UnwrapsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := fmt.Errorf("find: %w", &EngineError{Op: "lookup", Err: cause})

	require.ErrorIs(t, err, ErrEngine)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "lookup: connection refused")
}
