// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

// Package config loads run settings from flags, environment variables, an
// optional YAML file, and a credentials file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/resource"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Flag names. Each is also read from the upper-cased environment variable
// with dashes replaced by underscores, e.g. SOURCE_ORG.
const (
	FlagSourceOrg       = "source-org"
	FlagSourceRepo      = "source-repo"
	FlagTargetOrg       = "target-org"
	FlagTargetRepo      = "target-repo"
	FlagSourceToken     = "source-token"
	FlagTargetToken     = "target-token"
	FlagScope           = "scope"
	FlagOverwrite       = "overwrite"
	FlagExtractSecrets  = "extract-secrets"
	FlagScratchDir      = "scratch-dir"
	FlagRunnerLabel     = "runner-label"
	FlagExtractTimeout  = "extract-timeout"
	FlagExtractInterval = "extract-interval"
	FlagPlaceholder     = "placeholder"
	FlagCopyProtection  = "copy-environment-protection"
	FlagWorkers         = "workers"
	FlagAPIURL          = "api-url"
	FlagGHPath          = "gh-path"
	FlagOutput          = "output"
	FlagCredentialsFile = "credentials-file"
	FlagConfig          = "config"
	FlagVerbose         = "verbose"
	FlagTimeout         = "timeout"
)

// Output formats
const (
	OutputText = "text"
	OutputJSON = "json"
)

// ValidationError is a configuration problem detected before any remote call
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: --%s %s", e.Field, e.Reason)
}

// Settings holds everything a migration run needs
type Settings struct {
	SourceOrg   string
	SourceRepo  string
	TargetOrg   string
	TargetRepo  string
	SourceToken resource.Credential
	TargetToken resource.Credential

	Scope     string
	Overwrite bool

	ExtractSecrets  bool
	ScratchDir      string
	RunnerLabel     string
	ExtractTimeout  time.Duration
	ExtractInterval time.Duration
	Placeholder     string

	CopyEnvironmentProtection bool
	Workers                   int
	APIURL                    string
	GHPath                    string
	Output                    string
	CredentialsFile           string
	Verbose                   bool
	Timeout                   time.Duration
}

// RegisterFlags adds the migration flags to fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(FlagSourceOrg, "", "Source organization (required)")
	fs.String(FlagSourceRepo, "", "Source repository (empty = every repository of the source organization)")
	fs.String(FlagTargetOrg, "", "Target organization (required)")
	fs.String(FlagTargetRepo, "", "Target repository (required for repository and environment scopes)")
	fs.String(FlagSourceToken, "", "Source token (or set SOURCE_TOKEN / GITHUB_TOKEN)")
	fs.String(FlagTargetToken, "", "Target token (or set TARGET_TOKEN / GITHUB_TOKEN)")
	fs.String(FlagScope, "", "Comma separated categories to migrate (see 'scopes')")
	fs.Bool(FlagOverwrite, false, "Overwrite entries that already exist at the target")
	fs.Bool(FlagExtractSecrets, false, "Recover secret values through a temporary workflow on a self-hosted runner")
	fs.String(FlagScratchDir, "", "Directory shared with the self-hosted runner for extracted values")
	fs.String(FlagRunnerLabel, "", "Additional runs-on label for the extraction workflow")
	fs.Duration(FlagExtractTimeout, 60*time.Second, "Maximum wait for one extracted value")
	fs.Duration(FlagExtractInterval, 2*time.Second, "Polling interval for extracted values")
	fs.String(FlagPlaceholder, "PLACEHOLDER_VALUE", "Value written for secrets that cannot be read")
	fs.Bool(FlagCopyProtection, false, "Copy wait timer, reviewers and branch policy to created environments")
	fs.IntP(FlagWorkers, "w", 1, "Number of items processed concurrently within a category")
	fs.String(FlagAPIURL, "", "GitHub API URL (default https://api.github.com/)")
	fs.String(FlagGHPath, "", "Path to the gh CLI (default: looked up on PATH)")
	fs.StringP(FlagOutput, "o", OutputText, "Report format: text or json")
	fs.String(FlagCredentialsFile, "", "Path to credentials file (default: auto-detect)")
	fs.String(FlagConfig, "", "Optional YAML file with flag values")
}

// EnvPrefix namespaces the environment variables read for settings, e.g.
// MIGRATE_WORKERS or MIGRATE_SCOPE
const EnvPrefix = "MIGRATE"

// unprefixedEnv are the repository and token settings, which are also read
// from their bare names such as SOURCE_ORG or TARGET_TOKEN
var unprefixedEnv = []string{
	FlagSourceOrg, FlagSourceRepo, FlagTargetOrg, FlagTargetRepo, FlagSourceToken, FlagTargetToken,
}

// Load merges flags, environment and the optional config file into Settings.
// Explicit flags win over the environment, which wins over the file.
func Load(fs *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, key := range unprefixedEnv {
		name := strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		if err := v.BindEnv(key, EnvPrefix+"_"+name, name); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", name, err)
		}
	}

	if file := v.GetString(FlagConfig); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	s := &Settings{
		SourceOrg:                 strings.TrimSpace(v.GetString(FlagSourceOrg)),
		SourceRepo:                strings.TrimSpace(v.GetString(FlagSourceRepo)),
		TargetOrg:                 strings.TrimSpace(v.GetString(FlagTargetOrg)),
		TargetRepo:                strings.TrimSpace(v.GetString(FlagTargetRepo)),
		SourceToken:               resource.Credential(v.GetString(FlagSourceToken)),
		TargetToken:               resource.Credential(v.GetString(FlagTargetToken)),
		Scope:                     v.GetString(FlagScope),
		Overwrite:                 v.GetBool(FlagOverwrite),
		ExtractSecrets:            v.GetBool(FlagExtractSecrets),
		ScratchDir:                v.GetString(FlagScratchDir),
		RunnerLabel:               v.GetString(FlagRunnerLabel),
		ExtractTimeout:            v.GetDuration(FlagExtractTimeout),
		ExtractInterval:           v.GetDuration(FlagExtractInterval),
		Placeholder:               v.GetString(FlagPlaceholder),
		CopyEnvironmentProtection: v.GetBool(FlagCopyProtection),
		Workers:                   v.GetInt(FlagWorkers),
		APIURL:                    v.GetString(FlagAPIURL),
		GHPath:                    v.GetString(FlagGHPath),
		Output:                    strings.ToLower(v.GetString(FlagOutput)),
		CredentialsFile:           v.GetString(FlagCredentialsFile),
		Verbose:                   v.GetBool(FlagVerbose),
		Timeout:                   v.GetDuration(FlagTimeout),
	}

	return s, nil
}

// ApplyCredentials fills missing tokens from the loader
func (s *Settings) ApplyCredentials(loader *CredentialsLoader) {
	if s.SourceToken.IsZero() {
		s.SourceToken = loader.SourceToken()
	}
	if s.TargetToken.IsZero() {
		s.TargetToken = loader.TargetToken()
	}
}

// AllRepositories reports whether every source repository is migrated
func (s *Settings) AllRepositories() bool {
	return s.SourceRepo == ""
}

// Validate checks the settings before anything touches the network
func (s *Settings) Validate() error {
	if s.SourceOrg == "" {
		return &ValidationError{Field: FlagSourceOrg, Reason: "is required"}
	}
	if s.TargetOrg == "" {
		return &ValidationError{Field: FlagTargetOrg, Reason: "is required"}
	}
	if strings.TrimSpace(s.Scope) == "" {
		return &ValidationError{Field: FlagScope, Reason: "is required"}
	}
	if s.SourceToken.IsZero() {
		return &ValidationError{Field: FlagSourceToken, Reason: "is required (or set SOURCE_TOKEN)"}
	}
	if s.TargetToken.IsZero() {
		return &ValidationError{Field: FlagTargetToken, Reason: "is required (or set TARGET_TOKEN)"}
	}

	job := resource.ParseScope(s.Scope)
	if s.AllRepositories() {
		if s.TargetRepo != "" {
			return &ValidationError{Field: FlagTargetRepo, Reason: "requires --source-repo"}
		}
	} else if job.NeedsRepository() && s.TargetRepo == "" {
		return &ValidationError{Field: FlagTargetRepo, Reason: "is required for repository and environment scopes"}
	}

	if s.Workers < 1 {
		return &ValidationError{Field: FlagWorkers, Reason: "must be at least 1"}
	}
	if s.Output != OutputText && s.Output != OutputJSON {
		return &ValidationError{Field: FlagOutput, Reason: fmt.Sprintf("must be %q or %q", OutputText, OutputJSON)}
	}

	if s.ExtractSecrets {
		if s.ScratchDir == "" {
			return &ValidationError{Field: FlagScratchDir, Reason: "is required with --extract-secrets"}
		}
		if s.ExtractTimeout <= 0 {
			return &ValidationError{Field: FlagExtractTimeout, Reason: "must be positive"}
		}
		if s.ExtractInterval <= 0 || s.ExtractInterval > s.ExtractTimeout {
			return &ValidationError{Field: FlagExtractInterval, Reason: "must be positive and not exceed --extract-timeout"}
		}
	}

	return nil
}
