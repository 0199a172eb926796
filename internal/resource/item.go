// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package resource

import (
	"fmt"
	"strings"
)

// Visibility values for organization level entries
const (
	VisibilityAll      = "all"
	VisibilityPrivate  = "private"
	VisibilitySelected = "selected"
)

// Coordinates identifies an organization, repository or environment
type Coordinates struct {
	Org         string
	Repo        string
	Environment string
}

// NewCoordinates builds coordinates with surrounding whitespace removed
func NewCoordinates(org, repo, environment string) Coordinates {
	return Coordinates{
		Org:         strings.TrimSpace(org),
		Repo:        strings.TrimSpace(repo),
		Environment: strings.TrimSpace(environment),
	}
}

// WithEnvironment returns a copy of the coordinates qualified by an environment
func (c Coordinates) WithEnvironment(name string) Coordinates {
	c.Environment = strings.TrimSpace(name)
	return c
}

// WithRepo returns a copy of the coordinates pointing at another repository
func (c Coordinates) WithRepo(name string) Coordinates {
	c.Repo = strings.TrimSpace(name)
	return c
}

// FullName returns "org/repo"
func (c Coordinates) FullName() string {
	return c.Org + "/" + c.Repo
}

func (c Coordinates) String() string {
	s := c.Org
	if c.Repo != "" {
		s += "/" + c.Repo
	}
	if c.Environment != "" {
		s += "@" + c.Environment
	}
	return s
}

// Credential is a bearer token. It never prints its value.
type Credential string

// Token returns the raw token for use in an Authorization header
func (c Credential) Token() string {
	return string(c)
}

// IsZero reports whether no token was provided
func (c Credential) IsZero() bool {
	return strings.TrimSpace(string(c)) == ""
}

func (c Credential) String() string {
	if c.IsZero() {
		return "<none>"
	}
	return "<redacted>"
}

// GoString keeps %#v from leaking the token
func (c Credential) GoString() string {
	return c.String()
}

// Item is one entry discovered at the source
type Item struct {
	Category    Category
	Name        string
	Environment string
	Value       string
	HasValue    bool
	Visibility  string
	Restricted  bool
}

// Key identifies the item within a run, e.g. "prod/DB_PASS"
func (i Item) Key() string {
	if i.Environment != "" {
		return i.Environment + "/" + i.Name
	}
	return i.Name
}

// TargetVisibility maps the source restriction onto the target visibility.
// The selected repository list itself is not carried over.
func (i Item) TargetVisibility() string {
	if i.Restricted {
		return VisibilityPrivate
	}
	return VisibilityAll
}

func (i Item) String() string {
	return fmt.Sprintf("%s:%s", i.Category, i.Key())
}

// IsRestricted reports whether an organization visibility limits access
func IsRestricted(visibility string) bool {
	v := strings.ToLower(strings.TrimSpace(visibility))
	return v != "" && v != VisibilityAll
}
