// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

// Package provider talks to the hosting platform: REST reads and variable writes
// through go-github, secret writes through the gh command-line tool.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/resource"
	"github.com/google/go-github/v53/github"
)

// ErrNotFound is returned when the remote resource does not exist
var ErrNotFound = errors.New("not found")

// RateLimitError represents a rate limiting error
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// IsRateLimitError checks if an error is, or wraps, a rate limit error
func IsRateLimitError(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// RequestError records which call failed
type RequestError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: %d: %v", e.Method, e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.Endpoint, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Secret is a secret as listed by the API. Values are never returned.
type Secret struct {
	Name       string           `json:"name"`
	Visibility string           `json:"visibility,omitempty"`
	CreatedAt  github.Timestamp `json:"created_at,omitempty"`
	UpdatedAt  github.Timestamp `json:"updated_at,omitempty"`
}

// Variable is a plaintext configuration variable
type Variable struct {
	Name       string `json:"name"`
	Value      string `json:"value"`
	Visibility string `json:"visibility,omitempty"`
}

// Repository is the subset of repository metadata the migration needs
type Repository struct {
	ID            string
	Name          string
	FullName      string
	DefaultBranch string
	Archived      bool
}

// SecretSpec describes a secret write or delete at a location
type SecretSpec struct {
	Name        string
	Value       string
	App         resource.App
	Coordinates resource.Coordinates
	OrgLevel    bool
	Visibility  string
}

// Collection returns the REST collection path the secret lives in
func (s SecretSpec) Collection() string {
	app := s.App
	if app == "" {
		app = resource.AppActions
	}
	c := s.Coordinates
	switch {
	case s.OrgLevel:
		return fmt.Sprintf("orgs/%s/%s/secrets", c.Org, app)
	case c.Environment != "":
		return fmt.Sprintf("repos/%s/%s/environments/%s/secrets", c.Org, c.Repo, url.PathEscape(c.Environment))
	default:
		return fmt.Sprintf("repos/%s/%s/%s/secrets", c.Org, c.Repo, app)
	}
}

// SecretWriter writes secrets, encrypting them the way the platform requires
type SecretWriter interface {
	SetSecret(ctx context.Context, spec SecretSpec) error
	DeleteSecret(ctx context.Context, spec SecretSpec) error
}

// VariableWriter creates or updates plaintext variables
type VariableWriter interface {
	PutVariable(ctx context.Context, collection string, v *Variable) error
}
