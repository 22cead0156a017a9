// SPDX-License-Identifier: Apache-2.0

// Package prompt implements the ConfirmationPrompter capability: a variant
// capability surfacing row samples to an operator and yielding one of
// {proceed, skip, cancel}. The core engine depends only on the Prompter
// interface; silent, terminal, and gui are swappable implementations.
package prompt

import (
	"fmt"

	"github.com/pterm/pterm"
)

// Decision is the operator's answer to a confirmation request.
type Decision int

const (
	// Proceed performs the destructive step as planned.
	Proceed Decision = iota
	// Skip no-ops the destructive step but continues the run.
	Skip
	// Cancel is a terminal signal: the orchestrator rolls back and exits.
	Cancel
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case Skip:
		return "skip"
	case Cancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// SampleRow is one row of a bounded preview sample shown to the operator
// before a destructive step (a duplicate PK group, rows with a dangling FK,
// rows about to be updated or inserted).
type SampleRow struct {
	Columns []string
	Values  []string
}

// Prompter is the confirmation capability. It never mutates the database.
type Prompter interface {
	Confirm(title, message string, sample []SampleRow) (Decision, error)
}

// Silent always proceeds without asking; it is the non-interactive variant
// used when Config.Interactive is false.
type Silent struct{}

func (Silent) Confirm(string, string, []SampleRow) (Decision, error) {
	return Proceed, nil
}

// Terminal is the console y/n variant, backed by pterm's interactive
// confirm widget and table renderer for the sample.
type Terminal struct{}

func (Terminal) Confirm(title, message string, sample []SampleRow) (Decision, error) {
	pterm.DefaultSection.Println(title)
	pterm.Println(message)

	if len(sample) > 0 {
		if err := renderSample(sample); err != nil {
			return Cancel, err
		}
	}

	proceed, err := pterm.DefaultInteractiveConfirm.
		WithDefaultText("Proceed?").
		Show()
	if err != nil {
		return Cancel, fmt.Errorf("reading operator confirmation: %w", err)
	}
	if proceed {
		return Proceed, nil
	}

	skip, err := pterm.DefaultInteractiveConfirm.
		WithDefaultText("Skip this step and continue the run?").
		Show()
	if err != nil {
		return Cancel, fmt.Errorf("reading operator confirmation: %w", err)
	}
	if skip {
		return Skip, nil
	}
	return Cancel, nil
}

// GUIDisplay is injected by callers of GUI to render a modal tabular display
// and collect the operator's decision. The real graphical widget is an
// external collaborator out of scope for this engine (spec §1); GUI is a
// thin adapter onto whatever implementation is supplied.
type GUIDisplay func(title, message string, sample []SampleRow) (Decision, error)

// GUI is the modal-tabular-display variant. It delegates entirely to the
// injected GUIDisplay, defaulting to a pterm-rendered table followed by the
// same confirm flow as Terminal when none is supplied, so the binary still
// runs sensibly without a real GUI toolkit wired in.
type GUI struct {
	Display GUIDisplay
}

func (g GUI) Confirm(title, message string, sample []SampleRow) (Decision, error) {
	if g.Display != nil {
		return g.Display(title, message, sample)
	}
	return Terminal{}.Confirm(title, message, sample)
}

func renderSample(sample []SampleRow) error {
	if len(sample) == 0 {
		return nil
	}

	data := make([][]string, 0, len(sample)+1)
	data = append(data, sample[0].Columns)
	for _, row := range sample {
		data = append(data, row.Values)
	}

	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
