package order

import (
	"fmt"
)

// Status is the fulfillment state of an order.
type Status string

// Order statuses in pipeline order. Served and Canceled are terminal.
const (
	StatusReceived  Status = "Received"
	StatusOngoing   Status = "Ongoing"
	StatusFinishing Status = "Finishing"
	StatusOnTheWay  Status = "On the Way"
	StatusServed    Status = "Served"
	StatusCanceled  Status = "Canceled"
)

// ProgressSteps is the length of the customer-facing progress scale.
const ProgressSteps = 5

// Statuses lists every defined status in pipeline order.
var Statuses = []Status{
	StatusReceived,
	StatusOngoing,
	StatusFinishing,
	StatusOnTheWay,
	StatusServed,
	StatusCanceled,
}

var progress = map[Status]int{
	StatusReceived:  1,
	StatusOngoing:   2,
	StatusFinishing: 3,
	StatusOnTheWay:  4,
	StatusServed:    5,
	StatusCanceled:  0,
}

// ParseStatus returns the Status named by s.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := progress[st]; !ok {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return st, nil
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	_, ok := progress[s]
	return ok
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s Status) IsTerminal() bool {
	return s == StatusServed || s == StatusCanceled
}

// IsActive reports whether the order still needs attention from the
// restaurant.
func (s Status) IsActive() bool {
	return s.Valid() && !s.IsTerminal()
}

// Class partitions orders for the owner dashboard.
type Class string

const (
	ClassActive Class = "active"
	ClassPast   Class = "past"
)

// Classify returns ClassPast for Served and Canceled, ClassActive otherwise.
func Classify(s Status) Class {
	if s.IsTerminal() {
		return ClassPast
	}
	return ClassActive
}

// ProgressStep maps s onto the 1..ProgressSteps scale. Canceled maps to 0
// and is rendered separately from the progress bar.
func ProgressStep(s Status) int {
	return progress[s]
}

// ProgressPercentage returns ProgressStep(s) as a percentage of the scale.
func ProgressPercentage(s Status) float64 {
	return float64(ProgressStep(s)) / ProgressSteps * 100
}

// InvalidTransitionError is returned when a status change is not allowed.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %q -> %q", e.From, e.To)
}

// ValidateTransition checks a status change.
//
// In strict mode any non-terminal status may move to any other status
// (including backwards and to a terminal one), while terminal statuses are
// frozen. Permissive mode accepts every change between defined statuses,
// matching legacy clients that write the field directly.
func ValidateTransition(from, to Status, permissive bool) error {
	if !to.Valid() {
		return &InvalidTransitionError{From: from, To: to}
	}
	if permissive {
		return nil
	}
	if from == to {
		return &InvalidTransitionError{From: from, To: to}
	}
	if from.IsTerminal() {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}
