// Package workflow holds the static transition table of the review lifecycle
// and evaluates its role guards. It has no storage dependencies so the
// state machine contract can be tested in isolation.
package workflow

import (
	"fmt"

	"draftreview/internal/model"
)

// Guard is a set of roles, any one of which permits a transition.
type Guard uint8

const (
	GuardAssignedReviewer Guard = 1 << iota
	GuardCreator
	GuardAdministrator
	GuardDeliveryService
	GuardScheduler
)

func (g Guard) String() string {
	names := []struct {
		bit  Guard
		name string
	}{
		{GuardAssignedReviewer, "assigned reviewer"},
		{GuardCreator, "creator"},
		{GuardAdministrator, "administrator"},
		{GuardDeliveryService, "delivery service"},
		{GuardScheduler, "scheduler"},
	}
	out := ""
	for _, n := range names {
		if g&n.bit == 0 {
			continue
		}
		if out != "" {
			out += " or "
		}
		out += n.name
	}
	return out
}

// Rule is one (state, event) row of the table.
type Rule struct {
	From   model.TaskStatus
	Event  string
	To     model.TaskStatus
	Guard  Guard
	Auto   bool   // fired only by the engine as the tail of a compound transition
	Then   string // event applied immediately after this one, in the same unit
	Closes bool   // releases the reviewer's slot

	Unassigned bool // requires reviewer_id to be null
}

var rules = []Rule{
	{From: model.StatusPending, Event: model.EventAssign, To: model.StatusPending, Guard: GuardScheduler | GuardAdministrator, Unassigned: true},
	{From: model.StatusPending, Event: model.EventAccept, To: model.StatusInReview, Guard: GuardAssignedReviewer},
	{From: model.StatusInReview, Event: model.EventEdit, To: model.StatusInReview, Guard: GuardAssignedReviewer},
	{From: model.StatusInReview, Event: model.EventApprove, To: model.StatusApproved, Guard: GuardAssignedReviewer},
	{From: model.StatusInReview, Event: model.EventReject, To: model.StatusRejected, Guard: GuardAssignedReviewer, Closes: true},
	{From: model.StatusInReview, Event: model.EventRequestModification, To: model.StatusModificationRequested, Guard: GuardAssignedReviewer},
	{From: model.StatusModificationRequested, Event: model.EventSubmitRevision, To: model.StatusModified, Guard: GuardAssignedReviewer | GuardCreator, Then: model.EventResumeReview},
	{From: model.StatusModified, Event: model.EventResumeReview, To: model.StatusInReview, Auto: true},
	{From: model.StatusApproved, Event: model.EventAuthorize, To: model.StatusAuthorized, Guard: GuardAssignedReviewer},
	{From: model.StatusAuthorized, Event: model.EventDispatch, To: model.StatusSent, Guard: GuardDeliveryService, Closes: true},
	{From: model.StatusPending, Event: model.EventCancel, To: model.StatusCancelled, Guard: GuardCreator | GuardAdministrator, Closes: true},
	{From: model.StatusInReview, Event: model.EventCancel, To: model.StatusCancelled, Guard: GuardCreator | GuardAdministrator, Closes: true},
	{From: model.StatusModificationRequested, Event: model.EventCancel, To: model.StatusCancelled, Guard: GuardCreator | GuardAdministrator, Closes: true},
	{From: model.StatusModified, Event: model.EventCancel, To: model.StatusCancelled, Guard: GuardCreator | GuardAdministrator, Closes: true},
}

type key struct {
	from  model.TaskStatus
	event string
}

var index = func() map[key]Rule {
	m := make(map[key]Rule, len(rules))
	for _, r := range rules {
		m[key{r.From, r.Event}] = r
	}
	return m
}()

// Rules returns a copy of the transition table.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Lookup returns the rule for (from, event), if any.
func Lookup(from model.TaskStatus, event string) (Rule, bool) {
	r, ok := index[key{from, event}]
	return r, ok
}

// Events lists the distinct events in the table, in table order.
func Events() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rules {
		if !seen[r.Event] {
			seen[r.Event] = true
			out = append(out, r.Event)
		}
	}
	return out
}

// Permits reports whether actor satisfies the rule's guard for task.
func Permits(r Rule, task *model.ReviewTask, actor model.Actor) bool {
	if r.Guard&GuardAssignedReviewer != 0 && task.IsAssignedTo(actor.ID) {
		return true
	}
	if r.Guard&GuardCreator != 0 && task.CreatorID == actor.ID {
		return true
	}
	if r.Guard&GuardAdministrator != 0 && actor.IsAdmin() {
		return true
	}
	if r.Guard&GuardDeliveryService != 0 && actor.Role == model.RoleDelivery {
		return true
	}
	if r.Guard&GuardScheduler != 0 && actor.Role == model.RoleSystem {
		return true
	}
	return false
}

// Ready reports whether the task satisfies the rule's non-actor preconditions.
func Ready(r Rule, task *model.ReviewTask) bool {
	return !r.Unassigned || task.ReviewerID == nil
}

// Plan resolves the ordered steps an external event triggers from the task's
// current status. A compound transition yields more than one step; all of
// them must be applied as a single unit.
func Plan(task *model.ReviewTask, event string, actor model.Actor) ([]Rule, error) {
	refuse := func(reason string) error {
		return &model.TransitionError{
			Err:           model.ErrInvalidTransition,
			TaskID:        task.ID.String(),
			Event:         event,
			ActorID:       actor.ID,
			CurrentStatus: task.Status,
			Reason:        reason,
		}
	}

	if task.Status.IsTerminal() {
		return nil, refuse("task is in a terminal state")
	}
	r, ok := Lookup(task.Status, event)
	if !ok || r.Auto {
		return nil, refuse(fmt.Sprintf("no transition for event %q from %s", event, task.Status))
	}
	if !Permits(r, task, actor) {
		return nil, refuse("actor must be " + r.Guard.String())
	}
	if !Ready(r, task) {
		return nil, refuse("task already has a reviewer")
	}

	steps := []Rule{r}
	for r.Then != "" {
		next, ok := Lookup(r.To, r.Then)
		if !ok {
			return nil, refuse(fmt.Sprintf("broken compound transition %s -> %s", r.To, r.Then))
		}
		steps = append(steps, next)
		r = next
	}
	return steps, nil
}
