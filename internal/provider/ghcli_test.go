// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package provider

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	stdin string
	env   []string
	name  string
	args  []string
}

type fakeRunner struct {
	calls  []recordedCall
	output string
	err    error
}

func (f *fakeRunner) Run(_ context.Context, stdin io.Reader, env []string, name string, args ...string) ([]byte, error) {
	call := recordedCall{env: env, name: name, args: args}
	if stdin != nil {
		b, _ := io.ReadAll(stdin)
		call.stdin = string(b)
	}
	f.calls = append(f.calls, call)
	return []byte(f.output), f.err
}

func TestGHSecretWriter_SetSecret(t *testing.T) {
	repo := resource.NewCoordinates("acme", "widgets", "")

	tests := []struct {
		name     string
		spec     SecretSpec
		expected []string
	}{
		{
			name:     "repository secret",
			spec:     SecretSpec{Name: "API_KEY", Value: "v", App: resource.AppActions, Coordinates: repo},
			expected: []string{"secret", "set", "API_KEY", "--repo", "acme/widgets"},
		},
		{
			name:     "environment secret",
			spec:     SecretSpec{Name: "DB_PASS", Value: "v", App: resource.AppActions, Coordinates: repo.WithEnvironment("prod")},
			expected: []string{"secret", "set", "DB_PASS", "--repo", "acme/widgets", "--env", "prod"},
		},
		{
			name:     "dependabot repository secret",
			spec:     SecretSpec{Name: "NPM", Value: "v", App: resource.AppDependabot, Coordinates: repo},
			expected: []string{"secret", "set", "NPM", "--repo", "acme/widgets", "--app", "dependabot"},
		},
		{
			name:     "organization secret restricted",
			spec:     SecretSpec{Name: "ORG_TOKEN", Value: "v", App: resource.AppCodespaces, Coordinates: repo, OrgLevel: true, Visibility: resource.VisibilityPrivate},
			expected: []string{"secret", "set", "ORG_TOKEN", "--org", "acme", "--app", "codespaces", "--visibility", "private"},
		},
		{
			name:     "organization secret default visibility",
			spec:     SecretSpec{Name: "ORG_TOKEN", Value: "v", App: resource.AppActions, Coordinates: repo, OrgLevel: true},
			expected: []string{"secret", "set", "ORG_TOKEN", "--org", "acme", "--visibility", "all"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			writer, err := NewGHSecretWriter("ghp_target", "", "/usr/bin/gh", WithRunner(runner))
			require.NoError(t, err)

			require.NoError(t, writer.SetSecret(context.Background(), tt.spec))
			require.Len(t, runner.calls, 1)

			call := runner.calls[0]
			assert.Equal(t, "/usr/bin/gh", call.name)
			assert.Equal(t, tt.expected, call.args)
			assert.Equal(t, tt.spec.Value, call.stdin)
			assert.Contains(t, call.env, "GH_TOKEN=ghp_target")
			for _, arg := range call.args {
				assert.NotContains(t, arg, "ghp_target")
			}
		})
	}
}

func TestGHSecretWriter_TrailingLineEndings(t *testing.T) {
	tests := []struct {
		value    string
		expected string
	}{
		{"plain", "plain"},
		{"pem\n", "pem"},
		{"pem\n\n\n", "pem"},
		{"crlf\r\n\r\n", "crlf"},
		{"multi\nline\n", "multi\nline"},
	}

	for _, tt := range tests {
		runner := &fakeRunner{}
		writer, err := NewGHSecretWriter("tok", "", "gh", WithRunner(runner))
		require.NoError(t, err)

		spec := SecretSpec{Name: "KEY", Value: tt.value, Coordinates: resource.NewCoordinates("o", "r", "")}
		require.NoError(t, writer.SetSecret(context.Background(), spec))
		require.Len(t, runner.calls, 1)
		assert.Equal(t, tt.expected, runner.calls[0].stdin, "value %q", tt.value)
	}
}

func TestGHSecretWriter_EnterpriseHost(t *testing.T) {
	runner := &fakeRunner{}
	writer, err := NewGHSecretWriter("tok", "ghe.example.com", "gh", WithRunner(runner))
	require.NoError(t, err)

	spec := SecretSpec{Name: "X", Coordinates: resource.NewCoordinates("o", "r", "e")}
	require.NoError(t, writer.DeleteSecret(context.Background(), spec))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"secret", "delete", "X", "--repo", "o/r", "--env", "e"}, runner.calls[0].args)
	assert.Contains(t, runner.calls[0].env, "GH_HOST=ghe.example.com")
	assert.Contains(t, runner.calls[0].env, "GH_ENTERPRISE_TOKEN=tok")
}

func TestGHSecretWriter_Failure(t *testing.T) {
	runner := &fakeRunner{
		output: "HTTP 403: Resource not accessible by integration\nmore detail",
		err:    errors.New("exit status 1"),
	}
	writer, err := NewGHSecretWriter("tok", "", "gh", WithRunner(runner))
	require.NoError(t, err)

	err = writer.SetSecret(context.Background(), SecretSpec{Name: "X", Value: "super-secret", Coordinates: resource.NewCoordinates("o", "r", "")})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "Resource not accessible"))
	assert.NotContains(t, err.Error(), "more detail")
	assert.NotContains(t, err.Error(), "super-secret")
}

func TestSecretSpec_Collection(t *testing.T) {
	tests := []struct {
		name     string
		spec     SecretSpec
		expected string
	}{
		{"repository actions", SecretSpec{Coordinates: resource.NewCoordinates("o", "r", "")}, "repos/o/r/actions/secrets"},
		{"repository dependabot", SecretSpec{App: resource.AppDependabot, Coordinates: resource.NewCoordinates("o", "r", "")}, "repos/o/r/dependabot/secrets"},
		{"environment", SecretSpec{Coordinates: resource.NewCoordinates("o", "r", "prod")}, "repos/o/r/environments/prod/secrets"},
		{"organization codespaces", SecretSpec{App: resource.AppCodespaces, OrgLevel: true, Coordinates: resource.NewCoordinates("o", "", "")}, "orgs/o/codespaces/secrets"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.spec.Collection())
		})
	}
}
