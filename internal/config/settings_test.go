// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	fs.Bool(FlagVerbose, false, "")
	fs.Duration(FlagTimeout, time.Minute, "")
	require.NoError(t, fs.Parse(args))
	return fs
}

func clearSettingsEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SOURCE_ORG", "SOURCE_REPO", "TARGET_ORG", "TARGET_REPO",
		"MIGRATE_SOURCE_ORG", "MIGRATE_SCOPE", "MIGRATE_PLACEHOLDER", "MIGRATE_WORKERS", "MIGRATE_OUTPUT", "MIGRATE_CONFIG",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	clearTokenEnv(t)
}

func TestLoad_FlagsAndDefaults(t *testing.T) {
	clearSettingsEnv(t)

	fs := newFlagSet(t,
		"--source-org", " acme ",
		"--source-repo", "widgets",
		"--target-org", "acme-new",
		"--target-repo", "widgets",
		"--scope", "repo-secret,actionsrepovariables",
		"--overwrite",
		"--workers", "4",
	)

	s, err := Load(fs)
	require.NoError(t, err)

	assert.Equal(t, "acme", s.SourceOrg)
	assert.Equal(t, "widgets", s.TargetRepo)
	assert.True(t, s.Overwrite)
	assert.Equal(t, 4, s.Workers)
	assert.Equal(t, "PLACEHOLDER_VALUE", s.Placeholder)
	assert.Equal(t, 60*time.Second, s.ExtractTimeout)
	assert.Equal(t, 2*time.Second, s.ExtractInterval)
	assert.Equal(t, OutputText, s.Output)
}

func TestLoad_EmptyPlaceholderIsKept(t *testing.T) {
	clearSettingsEnv(t)

	s, err := Load(newFlagSet(t, "--placeholder", ""))
	require.NoError(t, err)
	assert.Equal(t, "", s.Placeholder)
}

func TestLoad_EnvironmentAndFile(t *testing.T) {
	clearSettingsEnv(t)

	path := filepath.Join(t.TempDir(), "migrate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
source-org: from-file
target-org: target-from-file
scope: org-variable
workers: 3
`), 0600))

	t.Setenv("SOURCE_ORG", "from-env")
	t.Setenv("SOURCE_TOKEN", "ghp_env")

	s, err := Load(newFlagSet(t, "--config", path))
	require.NoError(t, err)

	assert.Equal(t, "from-env", s.SourceOrg)
	assert.Equal(t, "target-from-file", s.TargetOrg)
	assert.Equal(t, "org-variable", s.Scope)
	assert.Equal(t, 3, s.Workers)
	assert.Equal(t, "ghp_env", s.SourceToken.Token())
}

func TestLoad_GenericEnvironmentIgnored(t *testing.T) {
	clearSettingsEnv(t)

	t.Setenv("CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("WORKERS", "9")
	t.Setenv("OUTPUT", "json")
	t.Setenv("SCOPE", "all")
	t.Setenv("VERBOSE", "true")

	s, err := Load(newFlagSet(t))
	require.NoError(t, err)

	assert.Equal(t, 1, s.Workers)
	assert.Equal(t, OutputText, s.Output)
	assert.Empty(t, s.Scope)
	assert.False(t, s.Verbose)
}

func TestLoad_PrefixedEnvironment(t *testing.T) {
	clearSettingsEnv(t)

	t.Setenv("MIGRATE_WORKERS", "6")
	t.Setenv("MIGRATE_SCOPE", "org-secret")
	t.Setenv("MIGRATE_OUTPUT", "json")
	t.Setenv("TARGET_ORG", "bare")
	t.Setenv("MIGRATE_SOURCE_ORG", "prefixed")

	s, err := Load(newFlagSet(t))
	require.NoError(t, err)

	assert.Equal(t, 6, s.Workers)
	assert.Equal(t, "org-secret", s.Scope)
	assert.Equal(t, OutputJSON, s.Output)
	assert.Equal(t, "bare", s.TargetOrg)
	assert.Equal(t, "prefixed", s.SourceOrg)
}

func TestValidationError_Error(t *testing.T) {
	assert.Equal(t, "invalid configuration: --workers must be at least 1",
		(&ValidationError{Field: FlagWorkers, Reason: "must be at least 1"}).Error())
	assert.Equal(t, "invalid configuration: no categories selected",
		(&ValidationError{Reason: "no categories selected"}).Error())
}

func TestLoad_MissingConfigFile(t *testing.T) {
	clearSettingsEnv(t)

	_, err := Load(newFlagSet(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, err)
}

func TestApplyCredentials(t *testing.T) {
	clearTokenEnv(t)
	loader := NewCredentialsLoader(writeCredentials(t, "GITHUB_TOKEN=shared\n"))
	require.NoError(t, loader.LoadCredentials())

	s := &Settings{TargetToken: "explicit"}
	s.ApplyCredentials(loader)

	assert.Equal(t, "shared", s.SourceToken.Token())
	assert.Equal(t, "explicit", s.TargetToken.Token())
}

func TestSettings_Validate(t *testing.T) {
	valid := func() Settings {
		return Settings{
			SourceOrg:       "src",
			SourceRepo:      "app",
			TargetOrg:       "dst",
			TargetRepo:      "app",
			SourceToken:     "s",
			TargetToken:     "t",
			Scope:           "actionsreposecrets",
			Workers:         1,
			Output:          OutputText,
			ExtractTimeout:  time.Minute,
			ExtractInterval: time.Second,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Settings)
		field  string
	}{
		{"valid", func(*Settings) {}, ""},
		{"missing source org", func(s *Settings) { s.SourceOrg = "" }, FlagSourceOrg},
		{"missing target org", func(s *Settings) { s.TargetOrg = "" }, FlagTargetOrg},
		{"missing scope", func(s *Settings) { s.Scope = " " }, FlagScope},
		{"missing source token", func(s *Settings) { s.SourceToken = "" }, FlagSourceToken},
		{"missing target token", func(s *Settings) { s.TargetToken = "" }, FlagTargetToken},
		{"repository scope without target repo", func(s *Settings) { s.TargetRepo = "" }, FlagTargetRepo},
		{"organization scope without repos", func(s *Settings) {
			s.SourceRepo, s.TargetRepo, s.Scope = "", "", "actionsorgsecrets"
		}, ""},
		{"all repositories with target repo", func(s *Settings) { s.SourceRepo = "" }, FlagTargetRepo},
		{"all repositories", func(s *Settings) { s.SourceRepo, s.TargetRepo = "", "" }, ""},
		{"bad workers", func(s *Settings) { s.Workers = 0 }, FlagWorkers},
		{"bad output", func(s *Settings) { s.Output = "yaml" }, FlagOutput},
		{"extraction without scratch dir", func(s *Settings) { s.ExtractSecrets = true }, FlagScratchDir},
		{"extraction interval too long", func(s *Settings) {
			s.ExtractSecrets, s.ScratchDir, s.ExtractInterval = true, "/tmp", 2*time.Minute
		}, FlagExtractInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)
			err := s.Validate()

			if tt.field == "" {
				assert.NoError(t, err)
				return
			}

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}
