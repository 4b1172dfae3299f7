package booking

import (
	"errors"
	"fmt"

	"github.com/lucmann/autotry/cmd/autotry/hospital"
)

var (
	ErrLoginRejected      = errors.New("login rejected")
	ErrLoginExhausted     = errors.New("login attempts exhausted")
	ErrNoSchedule         = errors.New("no schedule in response")
	ErrScheduleUnresolved = errors.New("schedule id not resolved")
	ErrNoSlotPaid         = errors.New("no time slot could be paid")
	ErrAlreadyPaid        = errors.New("booking already paid")
)

type LoginError struct {
	Attempts int
	Err      error
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *LoginError) Unwrap() error { return e.Err }

type ScheduleError struct {
	DoctorID string
	Err      error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("resolving schedule of doctor %s: %v", e.DoctorID, e.Err)
}

func (e *ScheduleError) Unwrap() error { return e.Err }

// PaymentError is a failed payment call. A declined payment is not an error.
type PaymentError struct {
	Slot hospital.TimePart
	Err  error
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("paying %s: %v", e.Slot, e.Err)
}

func (e *PaymentError) Unwrap() error { return e.Err }
