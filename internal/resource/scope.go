// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package resource

import "strings"

// Special scope tokens
const (
	TokenAll          = "all"
	TokenEnvironments = "environments"
)

// Job is the ordered, deduplicated work derived from a scope list
type Job struct {
	Categories        []Descriptor
	NeedsEnvironments bool
	Unknown           []string
}

// NeedsRepository reports whether any requested category is repository scoped
func (j Job) NeedsRepository() bool {
	if j.NeedsEnvironments {
		return true
	}
	for _, d := range j.Categories {
		if d.RequiresRepository() {
			return true
		}
	}
	return false
}

// Split partitions the job into organization categories and repository categories.
// The environment flag stays with the repository part.
func (j Job) Split() (org Job, repo Job) {
	repo.NeedsEnvironments = j.NeedsEnvironments
	for _, d := range j.Categories {
		if d.Scope == ScopeOrg {
			org.Categories = append(org.Categories, d)
		} else {
			repo.Categories = append(repo.Categories, d)
		}
	}
	return org, repo
}

// Empty reports whether nothing is scheduled
func (j Job) Empty() bool {
	return len(j.Categories) == 0 && !j.NeedsEnvironments
}

// HasSecrets reports whether any requested category is a secret category
func (j Job) HasSecrets() bool {
	for _, d := range j.Categories {
		if d.Kind == KindSecret {
			return true
		}
	}
	return false
}

// Scope renders the job back into a scope list that ParseScope accepts.
// Unknown tokens are kept so they are still reported.
func (j Job) Scope() string {
	tokens := make([]string, 0, len(j.Categories)+len(j.Unknown)+1)
	for _, d := range j.Categories {
		tokens = append(tokens, string(d.Category))
	}
	if j.NeedsEnvironments {
		tokens = append(tokens, TokenEnvironments)
	}
	tokens = append(tokens, j.Unknown...)
	return strings.Join(tokens, ",")
}

// ParseScope turns a comma separated scope list into a Job. Tokens are
// case-insensitive, accept either the canonical name or its alias, and keep the
// order of first appearance. Unknown tokens are collected, not fatal.
func ParseScope(scope string) Job {
	var job Job
	seen := make(map[Category]bool)
	unknownSeen := make(map[string]bool)

	add := func(d Descriptor) {
		if seen[d.Category] {
			return
		}
		seen[d.Category] = true
		job.Categories = append(job.Categories, d)
		if d.RequiresEnvironment() {
			job.NeedsEnvironments = true
		}
	}

	for _, raw := range strings.FieldsFunc(scope, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' || r == '\t' }) {
		token := strings.ToLower(strings.TrimSpace(raw))
		if token == "" {
			continue
		}

		switch token {
		case TokenAll:
			for _, d := range descriptors {
				add(d)
			}
			continue
		case TokenEnvironments:
			job.NeedsEnvironments = true
			continue
		}

		if d, ok := lookupToken(token); ok {
			add(d)
			continue
		}

		if !unknownSeen[token] {
			unknownSeen[token] = true
			job.Unknown = append(job.Unknown, strings.TrimSpace(raw))
		}
	}

	return job
}

func lookupToken(token string) (Descriptor, bool) {
	for _, d := range descriptors {
		if string(d.Category) == token || d.Alias == token {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Tokens returns the recognized scope tokens with their aliases
func Tokens() map[string]string {
	tokens := make(map[string]string, len(descriptors))
	for _, d := range descriptors {
		tokens[string(d.Category)] = d.Alias
	}
	return tokens
}
