package errs

import "fmt"

// ExistingUserError reports that creating an account would violate the
// uniqueness of its email or username. Identifier holds the offending value.
type ExistingUserError struct {
	Identifier string
}

func (e *ExistingUserError) Error() string {
	return fmt.Sprintf("user %q already exists", e.Identifier)
}

// Is makes errors.Is(err, ErrAlreadyExists) hold.
func (e *ExistingUserError) Is(target error) bool { return target == ErrAlreadyExists }

// NonExistingUserError reports that no account matches a username or email.
type NonExistingUserError struct {
	Identifier string
}

func (e *NonExistingUserError) Error() string {
	return fmt.Sprintf("user %q does not exist", e.Identifier)
}

// Is makes errors.Is(err, ErrNotFound) hold.
func (e *NonExistingUserError) Is(target error) bool { return target == ErrNotFound }

// EngineError wraps a failure reported by the query engine. It is never retried.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *EngineError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrEngine) hold.
func (e *EngineError) Is(target error) bool { return target == ErrEngine }
