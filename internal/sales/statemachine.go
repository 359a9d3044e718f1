package sales

import (
	"fmt"
	"slices"

	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

var transitions = map[Status][]Status{
	StatusDraft:     {StatusPending, StatusOrdered},
	StatusOrdered:   {StatusPending, StatusCancelled},
	StatusPending:   {StatusCompleted, StatusReceived, StatusCancelled},
	StatusCompleted: {StatusCancelled},
	StatusReceived:  {StatusCancelled},
}

var initialStatuses = []Status{StatusDraft, StatusPending, StatusOrdered, StatusCompleted}

// CanTransition reports whether a sale may move from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// ParseStatus normalises raw input such as "completed" to a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(shared.NormalizeStatus(raw))
	if _, ok := transitions[s]; ok || s == StatusCancelled {
		return s, nil
	}
	return "", shared.NewValidationError("status", "must be one of Draft Pending Ordered Completed Received Cancelled")
}

func parseInitialStatus(raw string) (Status, error) {
	if raw == "" {
		return StatusPending, nil
	}
	s, err := ParseStatus(raw)
	if err != nil {
		return "", err
	}
	if !slices.Contains(initialStatuses, s) {
		return "", shared.NewValidationError("status", "new sales start as Draft Pending Ordered or Completed")
	}
	return s, nil
}

func checkTransition(sale Sale, to Status) error {
	if sale.Status == StatusDraft && to == StatusCancelled {
		return fmt.Errorf("%w: draft sales are deleted, not cancelled", shared.ErrInvalidTransition)
	}
	if !CanTransition(sale.Status, to) {
		return fmt.Errorf("%w: sale %s to %s", shared.ErrInvalidTransition, sale.Status, to)
	}
	return nil
}

func checkEditable(sale Sale) error {
	switch sale.Status {
	case StatusCompleted, StatusReceived, StatusCancelled:
		return fmt.Errorf("%w: %s sales cannot be edited", shared.ErrInvalidTransition, sale.Status)
	}
	return nil
}

func checkDeletable(sale Sale) error {
	if sale.Status != StatusDraft && sale.Status != StatusOrdered {
		return fmt.Errorf("%w: only Draft or Ordered sales can be deleted", shared.ErrInvalidTransition)
	}
	return nil
}
