// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package migrate

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/resource"
)

// Status is the outcome of one item
type Status string

// Item outcomes
const (
	StatusCopied      Status = "copied-with-value"
	StatusPlaceholder Status = "copied-with-placeholder"
	StatusSkipped     Status = "skipped-existing"
	StatusFailed      Status = "failed"
)

func (s Status) symbol() string {
	switch s {
	case StatusCopied:
		return "✅"
	case StatusPlaceholder:
		return "🔑"
	case StatusSkipped:
		return "📁"
	default:
		return "❌"
	}
}

// Outcome records what happened to one item
type Outcome struct {
	Item   string `json:"item"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// CategoryReport aggregates the outcomes of one category
type CategoryReport struct {
	Category    resource.Category `json:"category"`
	Outcomes    []Outcome         `json:"outcomes"`
	Error       string            `json:"error,omitempty"`
	Copied      int               `json:"copied"`
	Placeholder int               `json:"placeholder"`
	Skipped     int               `json:"skipped"`
	Failed      int               `json:"failed"`
}

func (c *CategoryReport) record(o Outcome) {
	c.Outcomes = append(c.Outcomes, o)
	switch o.Status {
	case StatusCopied:
		c.Copied++
	case StatusPlaceholder:
		c.Placeholder++
	case StatusSkipped:
		c.Skipped++
	default:
		c.Failed++
	}
}

// EnvironmentReport summarizes the environment pre-pass
type EnvironmentReport struct {
	Created  int    `json:"created"`
	Existing int    `json:"existing"`
	Failed   int    `json:"failed"`
	Implicit int    `json:"implicit,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Report is the result of one run between a source and a target
type Report struct {
	Source       string             `json:"source"`
	Target       string             `json:"target"`
	Unknown      []string           `json:"unknown_scopes,omitempty"`
	Environments *EnvironmentReport `json:"environments,omitempty"`
	Categories   []*CategoryReport  `json:"categories"`
	Duration     time.Duration      `json:"duration_ns"`
}

// Category returns the report of a category, or nil
func (r *Report) Category(c resource.Category) *CategoryReport {
	for _, cr := range r.Categories {
		if cr.Category == c {
			return cr
		}
	}
	return nil
}

// Totals sums the outcomes of all categories
func (r *Report) Totals() (copied, placeholder, skipped, failed int) {
	for _, c := range r.Categories {
		copied += c.Copied
		placeholder += c.Placeholder
		skipped += c.Skipped
		failed += c.Failed
	}
	return copied, placeholder, skipped, failed
}

// HasFailures reports whether any item, category or environment failed
func (r *Report) HasFailures() bool {
	for _, c := range r.Categories {
		if c.Failed > 0 || c.Error != "" {
			return true
		}
	}
	if r.Environments != nil && (r.Environments.Failed > 0 || r.Environments.Error != "") {
		return true
	}
	return false
}

// PrintSummary writes the human readable summary
func (r *Report) PrintSummary(w io.Writer) {
	fmt.Fprintln(w, "\n==================================================")
	fmt.Fprintf(w, "Migration Summary: %s -> %s\n", r.Source, r.Target)
	fmt.Fprintln(w, "==================================================")

	if r.Environments != nil {
		e := r.Environments
		fmt.Fprintf(w, "🌐 environments: %d created, %d already present", e.Created, e.Existing)
		if e.Failed > 0 {
			fmt.Fprintf(w, ", %d failed", e.Failed)
		}
		fmt.Fprintln(w)
		if e.Error != "" {
			fmt.Fprintf(w, "   ⚠️  %s\n", e.Error)
		}
	}

	for _, c := range r.Categories {
		symbol := "✅"
		if c.Failed > 0 || c.Error != "" {
			symbol = "❌"
		}
		fmt.Fprintf(w, "%s %s: copied %d, placeholder %d, skipped %d, failed %d\n",
			symbol, c.Category, c.Copied, c.Placeholder, c.Skipped, c.Failed)
		if c.Error != "" {
			fmt.Fprintf(w, "   ⚠️  enumeration: %s\n", c.Error)
		}
		for _, o := range c.Outcomes {
			if o.Status == StatusFailed {
				fmt.Fprintf(w, "   ❌ %s [%s]\n", o.Item, o.Reason)
			}
		}
	}

	for _, token := range r.Unknown {
		fmt.Fprintf(w, "⚠️  unrecognized scope %q was skipped\n", token)
	}

	copied, placeholder, skipped, failed := r.Totals()
	fmt.Fprintln(w, "\nTotal:", copied+placeholder+skipped+failed, "items")
	if copied > 0 {
		fmt.Fprintf(w, "Copied: %d\n", copied)
	}
	if placeholder > 0 {
		fmt.Fprintf(w, "Copied with placeholder: %d\n", placeholder)
	}
	fmt.Fprintf(w, "Already exists: %d\n", skipped)
	if failed > 0 {
		fmt.Fprintf(w, "Failed: %d\n", failed)
	}
}

// WriteJSON writes reports as an indented JSON array
func WriteJSON(w io.Writer, reports []*Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reports); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}
