package taskview

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("task not found")
	ErrNotReady     = errors.New("no authenticated session")
	ErrAuth         = errors.New("authentication failed")
	ErrSubscription = errors.New("live task feed failed")
	ErrUnknown      = errors.New("unexpected store failure")

	ErrEmailInUse         = fmt.Errorf("%w: email already in use", ErrAuth)
	ErrInvalidEmail       = fmt.Errorf("%w: invalid email", ErrAuth)
	ErrWeakPassword       = fmt.Errorf("%w: weak password", ErrAuth)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrAuth)

	ErrTitleRequired       = fmt.Errorf("%w: title is required", ErrValidation)
	ErrInvalidDueDate      = fmt.Errorf("%w: due date must be YYYY-MM-DD", ErrValidation)
	ErrCredentialsRequired = fmt.Errorf("%w: email and password are required", ErrValidation)
)

var knownKinds = []error{ErrValidation, ErrNotFound, ErrNotReady, ErrAuth, ErrSubscription, ErrUnknown}

// Classify maps an adapter failure onto one of the package error kinds.
// Errors that already carry a kind pass through unchanged; anything else becomes ErrUnknown.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range knownKinds {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrUnknown, err)
}

// Message returns the user-facing text for err, or fallback when err has no specific wording.
func Message(err error, fallback string) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTitleRequired):
		return "Task title cannot be empty."
	case errors.Is(err, ErrInvalidDueDate):
		return "Due date must be a valid date."
	case errors.Is(err, ErrCredentialsRequired):
		return "Email and password cannot be empty."
	case errors.Is(err, ErrNotReady):
		return "Authentication not ready. Please wait."
	case errors.Is(err, ErrNotFound):
		return "Task not found."
	case errors.Is(err, ErrEmailInUse):
		return "Email already in use. Try logging in."
	case errors.Is(err, ErrInvalidEmail):
		return "Invalid email address."
	case errors.Is(err, ErrWeakPassword):
		return "Password should be at least 6 characters."
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, ErrSubscription):
		return "Failed to fetch real-time updates for tasks."
	}
	return fallback
}

func wrapSubscription(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range knownKinds {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrSubscription, err)
}
