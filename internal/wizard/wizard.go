// Package wizard gates forward navigation through an onboarding flow on
// per-step validity predicates.
package wizard

import (
	"errors"
	"fmt"
	"strings"

	"actionboard/internal/domain"
	"actionboard/internal/selection"
	"actionboard/internal/teams"
)

type StepID string

const (
	StepOrganization    StepID = "organization"
	StepActions         StepID = "actions"
	StepGlobalActions   StepID = "global-actions"
	StepFunctionActions StepID = "function-actions"
	StepMembers         StepID = "members"
	StepTeam            StepID = "team"
	StepTeams           StepID = "teams"
	StepSummary         StepID = "summary"
)

// Flow is a named, ordered list of steps.
type Flow struct {
	Name  string
	Steps []StepID
}

var (
	Legacy  = Flow{Name: "legacy", Steps: []StepID{StepOrganization, StepActions, StepTeam, StepSummary}}
	Current = Flow{Name: "current", Steps: []StepID{StepOrganization, StepGlobalActions, StepFunctionActions, StepMembers, StepTeams, StepSummary}}
)

// NewFlow builds a flow from configured step names.
func NewFlow(name string, steps []string) (Flow, error) {
	if len(steps) == 0 {
		return Flow{}, fmt.Errorf("flow %s has no steps", name)
	}
	f := Flow{Name: name}
	for _, s := range steps {
		id := StepID(s)
		if !known(id) {
			return Flow{}, fmt.Errorf("flow %s references unknown step %s", name, s)
		}
		f.Steps = append(f.Steps, id)
	}
	return f, nil
}

func known(id StepID) bool {
	switch id {
	case StepOrganization, StepActions, StepGlobalActions, StepFunctionActions,
		StepMembers, StepTeam, StepTeams, StepSummary:
		return true
	}
	return false
}

// Input is the snapshot the predicates are evaluated against.
type Input struct {
	OrganizationName   string
	Selection          selection.State
	Mandatory          []domain.ActionCategory
	Teams              []domain.Team
	Members            []domain.Member
	RequireTeamMembers bool
}

func fail(step StepID, rule, format string, args ...any) error {
	return &domain.ValidationError{Step: string(step), Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// checkStep evaluates the predicate of a single non-summary step.
func checkStep(step StepID, in Input) error {
	switch step {
	case StepOrganization:
		if strings.TrimSpace(in.OrganizationName) == "" {
			return fail(step, "organization.name", "organization name is required")
		}
	case StepActions, StepGlobalActions:
		for _, c := range in.Mandatory {
			need := c.Required()
			if got := selection.SelectedCount(in.Selection, c.ID); got < need {
				return fail(step, "actions.mandatory_minimum", "category %s needs at least %d selected actions (has %d)", c.Name, need, got)
			}
		}
	case StepFunctionActions:
		// Function-specific selections are optional.
	case StepMembers:
		if len(in.Members) == 0 {
			return fail(step, "members.present", "add at least one member")
		}
	case StepTeam, StepTeams:
		if len(in.Teams) == 0 {
			return fail(step, "teams.present", "create at least one team")
		}
		policy := teams.Policy{RequireMembers: in.RequireTeamMembers}
		for _, t := range in.Teams {
			if problems := teams.Problems(t, policy); len(problems) > 0 {
				label := t.Name
				if strings.TrimSpace(label) == "" {
					label = t.ID
				}
				return fail(step, "teams.complete", "team %s: %s", label, domain.Problems(problems))
			}
		}
		if err := teams.CheckExclusive(in.Teams); err != nil {
			return fail(step, "teams.exclusive", "%v", err)
		}
	default:
		return fail(step, "step.unknown", "unknown step %s", step)
	}
	return nil
}

// Check evaluates the predicate of step within the flow. The summary step
// re-evaluates every other step of the flow.
func (f Flow) Check(step StepID, in Input) error {
	if step != StepSummary {
		return checkStep(step, in)
	}
	for _, s := range f.Steps {
		if s == StepSummary {
			continue
		}
		if err := checkStep(s, in); err != nil {
			var ve *domain.ValidationError
			if errors.As(err, &ve) {
				return &domain.ValidationError{Step: string(StepSummary), Rule: ve.Rule, Message: ve.Message}
			}
			return err
		}
	}
	return nil
}

// CanAdvance reports whether step's predicate holds.
func (f Flow) CanAdvance(step StepID, in Input) bool {
	return f.Check(step, in) == nil
}

// Wizard tracks the position in a flow and whether a final submission is running.
// It is not safe for concurrent use; the owning session serializes access.
type Wizard struct {
	flow       Flow
	index      int
	submitting bool
}

func New(flow Flow) *Wizard {
	return &Wizard{flow: flow}
}

func (w *Wizard) Flow() Flow { return w.flow }

func (w *Wizard) Index() int { return w.index }

func (w *Wizard) Current() StepID { return w.flow.Steps[w.index] }

func (w *Wizard) Submitting() bool { return w.submitting }

// IsLast reports whether the current step is the final one.
func (w *Wizard) IsLast() bool { return w.index == len(w.flow.Steps)-1 }

// Advance moves forward when the current step's predicate holds.
func (w *Wizard) Advance(in Input) error {
	step := w.Current()
	if err := w.flow.Check(step, in); err != nil {
		return err
	}
	if w.IsLast() {
		return fail(step, "flow.end", "already at the last step")
	}
	w.index++
	return nil
}

// Back moves one step backward. It is rejected while a submission is in flight.
func (w *Wizard) Back() error {
	if w.submitting {
		return domain.ErrSubmissionInFlight
	}
	if w.index > 0 {
		w.index--
	}
	return nil
}

// BeginSubmit marks the final submission as running.
func (w *Wizard) BeginSubmit() error {
	if w.submitting {
		return domain.ErrSubmissionInFlight
	}
	if !w.IsLast() {
		return fail(w.Current(), "flow.not_final", "submission is only possible from the last step")
	}
	w.submitting = true
	return nil
}

func (w *Wizard) EndSubmit() { w.submitting = false }

// Reset returns to the first step.
func (w *Wizard) Reset() {
	w.index = 0
	w.submitting = false
}

type StepStatus struct {
	ID      StepID `json:"id"`
	Valid   bool   `json:"valid"`
	Current bool   `json:"current"`
	Visited bool   `json:"visited"`
}

type Progress struct {
	Flow    string       `json:"flow"`
	Steps   []StepStatus `json:"steps"`
	Percent int          `json:"percent"`
}

// Progress reports each step's status; Percent counts the steps behind the current one.
func (w *Wizard) Progress(in Input) Progress {
	p := Progress{Flow: w.flow.Name}
	for i, s := range w.flow.Steps {
		p.Steps = append(p.Steps, StepStatus{
			ID:      s,
			Valid:   w.flow.CanAdvance(s, in),
			Current: i == w.index,
			Visited: i <= w.index,
		})
	}
	if n := len(w.flow.Steps); n > 1 {
		p.Percent = w.index * 100 / (n - 1)
	}
	return p
}
