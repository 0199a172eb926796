// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

// Package environment makes sure deployment environments exist at the target
// before environment scoped entries are copied into them.
package environment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/provider"
	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/resource"
	"github.com/google/go-github/v53/github"
	"github.com/sirupsen/logrus"
)

// BootstrapSecret is written and removed again to create an environment
// implicitly when the target refuses direct creation
const BootstrapSecret = "MIGRATION_ENV_BOOTSTRAP"

const teardownTimeout = 30 * time.Second

// Source lists environments and their branch patterns at the source repository
type Source interface {
	ListEnvironments(ctx context.Context, org, repo string) ([]*github.Environment, error)
	ListDeploymentBranchPolicies(ctx context.Context, org, repo, env string) ([]string, error)
}

// Target reads and creates environments at the target repository
type Target interface {
	GetEnvironment(ctx context.Context, org, repo, name string) (*github.Environment, error)
	CreateEnvironment(ctx context.Context, org, repo, name string, settings *github.CreateUpdateEnvironment) error
	CreateDeploymentBranchPolicy(ctx context.Context, org, repo, env, pattern string) error
}

// Result counts what the pre-pass did
type Result struct {
	Created  int
	Existing int
	Failed   int
	Implicit int
}

// Resolver runs the environment pre-pass at most once per instance
type Resolver struct {
	source         Source
	target         Target
	secrets        provider.SecretWriter
	src            resource.Coordinates
	dst            resource.Coordinates
	copyProtection bool
	log            logrus.FieldLogger

	mu      sync.Mutex
	ensured bool
	result  Result
	listed  bool
	envs    []*github.Environment
	listErr error
}

// Option configures a Resolver
type Option func(*Resolver)

// WithProtection copies wait timer, reviewers and branch policy to new environments
func WithProtection(enabled bool) Option {
	return func(r *Resolver) {
		r.copyProtection = enabled
	}
}

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Resolver) {
		r.log = log
	}
}

// NewResolver creates a resolver between two repositories. secrets is used
// only for the implicit creation fallback and may be nil.
func NewResolver(source Source, target Target, secrets provider.SecretWriter, src, dst resource.Coordinates, opts ...Option) *Resolver {
	r := &Resolver{
		source:  source,
		target:  target,
		secrets: secrets,
		src:     src,
		dst:     dst,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithField("component", "environments")
	return r
}

// SourceEnvironments returns the environment names at the source, listing
// them only on first use
func (r *Resolver) SourceEnvironments(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	envs, err := r.listLocked(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(envs))
	for _, env := range envs {
		names = append(names, env.GetName())
	}
	return names, nil
}

func (r *Resolver) listLocked(ctx context.Context) ([]*github.Environment, error) {
	if r.listed {
		return r.envs, r.listErr
	}

	envs, err := r.source.ListEnvironments(ctx, r.src.Org, r.src.Repo)
	if errors.Is(err, provider.ErrNotFound) {
		envs, err = nil, nil
	}
	if err != nil {
		err = fmt.Errorf("failed to list environments of %s: %w", r.src.FullName(), err)
	}

	r.listed = true
	r.envs = envs
	r.listErr = err
	return envs, err
}

// EnsureEnvironments creates every source environment missing at the target.
// Only the first call does any work; later calls return the first result.
// Existing target environments are left untouched.
func (r *Resolver) EnsureEnvironments(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ensured {
		return r.result, nil
	}
	r.ensured = true

	envs, err := r.listLocked(ctx)
	if err != nil {
		r.log.WithError(err).Warn("Could not list source environments")
		return r.result, err
	}

	for _, env := range envs {
		name := env.GetName()
		log := r.log.WithField("environment", name)

		_, err := r.target.GetEnvironment(ctx, r.dst.Org, r.dst.Repo, name)
		if err == nil {
			r.result.Existing++
			log.Debug("Environment already exists at target")
			continue
		}
		if !errors.Is(err, provider.ErrNotFound) {
			r.result.Failed++
			log.WithError(err).Warn("Could not check target environment")
			continue
		}

		if err := r.create(ctx, env); err != nil {
			r.result.Failed++
			log.WithError(err).Warn("Failed to create environment")
			continue
		}
		log.Info("Created environment at target")
	}

	return r.result, nil
}

func (r *Resolver) create(ctx context.Context, env *github.Environment) error {
	name := env.GetName()

	settings := &github.CreateUpdateEnvironment{}
	var patterns []string
	if r.copyProtection {
		settings = protectionSettings(env, r.src.Org == r.dst.Org)
		patterns = r.branchPatterns(ctx, env, settings)
	}

	err := r.target.CreateEnvironment(ctx, r.dst.Org, r.dst.Repo, name, settings)
	if err == nil {
		r.result.Created++
		r.replayBranchPatterns(ctx, name, settings, patterns)
		return nil
	}

	if r.secrets == nil {
		return err
	}

	r.log.WithError(err).WithField("environment", name).Debug("Direct creation rejected, creating implicitly")

	if implicitErr := r.createImplicitly(ctx, name); implicitErr != nil {
		return fmt.Errorf("direct creation failed (%v) and implicit creation failed: %w", err, implicitErr)
	}
	r.result.Created++
	r.result.Implicit++
	return nil
}

// branchPatterns reads the source branch name patterns when the environment
// uses custom branch policies. If they cannot be read the branch restriction
// is dropped from settings, since custom mode without patterns blocks every
// deployment.
func (r *Resolver) branchPatterns(ctx context.Context, env *github.Environment, settings *github.CreateUpdateEnvironment) []string {
	if !settings.DeploymentBranchPolicy.GetCustomBranchPolicies() {
		return nil
	}

	patterns, err := r.source.ListDeploymentBranchPolicies(ctx, r.src.Org, r.src.Repo, env.GetName())
	if err != nil {
		r.log.WithError(err).WithField("environment", env.GetName()).
			Warn("Could not read branch patterns, creating environment without branch restriction")
		settings.DeploymentBranchPolicy = nil
		return nil
	}
	return patterns
}

// replayBranchPatterns copies branch name patterns onto a freshly created
// environment. On failure the branch restriction is lifted again so the
// environment stays deployable.
func (r *Resolver) replayBranchPatterns(ctx context.Context, name string, settings *github.CreateUpdateEnvironment, patterns []string) {
	log := r.log.WithField("environment", name)

	for _, pattern := range patterns {
		err := r.target.CreateDeploymentBranchPolicy(ctx, r.dst.Org, r.dst.Repo, name, pattern)
		if err == nil {
			continue
		}

		log.WithError(err).WithField("pattern", pattern).
			Warn("Failed to copy branch pattern, removing branch restriction")
		settings.DeploymentBranchPolicy = nil
		if resetErr := r.target.CreateEnvironment(ctx, r.dst.Org, r.dst.Repo, name, settings); resetErr != nil {
			log.WithError(resetErr).Warn("Failed to remove branch restriction")
		}
		return
	}

	if len(patterns) > 0 {
		log.WithField("patterns", len(patterns)).Debug("Copied branch patterns")
	}
}

// createImplicitly writes a throwaway secret into the environment, which
// brings the environment into existence, and always removes the secret again
func (r *Resolver) createImplicitly(ctx context.Context, name string) (err error) {
	spec := provider.SecretSpec{
		Name:        BootstrapSecret,
		Value:       "bootstrap",
		App:         resource.AppActions,
		Coordinates: r.dst.WithEnvironment(name),
	}

	if err := r.secrets.SetSecret(ctx, spec); err != nil {
		return err
	}
	defer func() {
		cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()
		if delErr := r.secrets.DeleteSecret(cleanup, spec); delErr != nil {
			r.log.WithError(delErr).WithField("environment", name).Warn("Failed to remove bootstrap secret")
			if err == nil {
				err = fmt.Errorf("bootstrap secret left behind: %w", delErr)
			}
		}
	}()

	return nil
}

// protectionSettings carries the source protection rules that the create
// endpoint accepts. Team IDs are organization specific and are only kept when
// both repositories live in the same organization.
func protectionSettings(env *github.Environment, sameOrg bool) *github.CreateUpdateEnvironment {
	settings := &github.CreateUpdateEnvironment{
		DeploymentBranchPolicy: env.DeploymentBranchPolicy,
	}
	if env.CanAdminsBypass != nil {
		settings.CanAdminsBypass = env.CanAdminsBypass
	}

	for _, rule := range env.ProtectionRules {
		switch rule.GetType() {
		case "wait_timer":
			settings.WaitTimer = rule.WaitTimer
		case "required_reviewers":
			for _, reviewer := range rule.Reviewers {
				if r := envReviewer(reviewer, sameOrg); r != nil {
					settings.Reviewers = append(settings.Reviewers, r)
				}
			}
		}
	}

	return settings
}

func envReviewer(reviewer *github.RequiredReviewer, sameOrg bool) *github.EnvReviewers {
	switch v := reviewer.Reviewer.(type) {
	case *github.User:
		return &github.EnvReviewers{Type: github.String("User"), ID: github.Int64(v.GetID())}
	case *github.Team:
		if sameOrg {
			return &github.EnvReviewers{Type: github.String("Team"), ID: github.Int64(v.GetID())}
		}
	}
	return nil
}
