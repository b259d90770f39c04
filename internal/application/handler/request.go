package handler

import (
	"time"

	"github.com/garyjia/case-event-handler/internal/domain/dmn"
	"github.com/garyjia/case-event-handler/internal/domain/event"
)

// Decision table input names.
const (
	inputEventID          = "eventId"
	inputPostEventState   = "postEventState"
	inputNow              = "now"
	inputDirectionDueDate = "directionDueDate"
	inputEvent            = "event"
	inputState            = "state"
	inputFromState        = "fromState"
)

// stateTransitionVariables is the request shape of the cancellation table.
func stateTransitionVariables(evt *event.Event) dmn.Variables {
	return dmn.Variables{}.
		Set(inputEvent, evt.EventID).
		Set(inputState, evt.NewStateID).
		Set(inputFromState, evt.PreviousStateID)
}

// categoriesWhere returns the distinct task categories of the rows matching
// pred, in row order.
func categoriesWhere(rows []dmn.Row, pred func(dmn.Row) bool) []string {
	seen := make(map[string]bool, len(rows))
	var categories []string
	for _, row := range rows {
		if !pred(row) {
			continue
		}
		category := row.TaskCategory()
		if seen[category] {
			continue
		}
		seen[category] = true
		categories = append(categories, category)
	}
	return categories
}

// MaxWorkingDays bounds the workingDaysAllowed a decision row may ask for.
const MaxWorkingDays = 3650

// AddWorkingDays moves start forward by days, counting only Monday to Friday.
// Whole weeks are added in one step; days <= 0 returns start.
func AddWorkingDays(start time.Time, days int) time.Time {
	if days <= 0 {
		return start
	}

	// Keep at least one day for the walk so the result lands on a weekday.
	weeks, rest := days/5, days%5
	if rest == 0 {
		weeks, rest = weeks-1, 5
	}

	d := start.AddDate(0, 0, weeks*7)
	for rest > 0 {
		d = d.AddDate(0, 0, 1)
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			rest--
		}
	}
	return d
}
