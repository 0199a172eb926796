// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

// Package migrate drives a migration run: it parses the scope, prepares
// environments, and copies every requested category from source to target.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/config"
	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/enumerator"
	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/environment"
	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/provider"
	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/resolve"
	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/resource"
	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/worker"
	"github.com/sirupsen/logrus"
)

// Remote is the REST surface the orchestrator needs from either side.
// *provider.Client implements it.
type Remote interface {
	enumerator.Lister
	enumerator.Prober
	provider.VariableWriter
	resolve.VariableReader
	environment.Source
	environment.Target
}

// Options configure an Orchestrator
type Options struct {
	Source       resource.Coordinates
	Target       resource.Coordinates
	SourceClient Remote
	TargetClient Remote
	Secrets      provider.SecretWriter

	// Strategy defaults to placeholders for secrets and direct reads for
	// variables
	Strategy resolve.Strategy

	Force          bool
	CopyProtection bool
	Workers        int
	Retry          *worker.Config

	Out    io.Writer
	Logger logrus.FieldLogger
}

// Orchestrator runs migrations for one source and target pair
type Orchestrator struct {
	opts Options
	envs *environment.Resolver
	log  logrus.FieldLogger

	outMu sync.Mutex
}

// New creates an orchestrator. The environment pre-pass state lives on the
// returned instance.
func New(opts Options) *Orchestrator {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Strategy.Secrets == nil {
		opts.Strategy.Secrets = resolve.NewPlaceholder(resolve.DefaultPlaceholder)
	}
	if opts.Strategy.Variables == nil && opts.SourceClient != nil {
		opts.Strategy.Variables = resolve.NewDirectRead(opts.SourceClient, opts.Source)
	}

	o := &Orchestrator{
		opts: opts,
		log:  opts.Logger,
	}
	if opts.SourceClient != nil && opts.TargetClient != nil {
		o.envs = environment.NewResolver(opts.SourceClient, opts.TargetClient, opts.Secrets,
			opts.Source, opts.Target,
			environment.WithProtection(opts.CopyProtection),
			environment.WithLogger(opts.Logger))
	}
	return o
}

// Run migrates every category named in scope. Only validation problems are
// returned as errors; everything else is recorded in the report.
func (o *Orchestrator) Run(ctx context.Context, scope string) (*Report, error) {
	start := time.Now()

	if strings.TrimSpace(scope) == "" {
		return nil, &config.ValidationError{Field: config.FlagScope, Reason: "at least one scope token is required"}
	}

	job := resource.ParseScope(scope)
	for _, token := range job.Unknown {
		o.log.WithField("token", token).Warn("Unrecognized scope token, skipping")
		o.printf("⚠️  Skipping unrecognized scope %q\n", token)
	}

	if err := o.validate(job); err != nil {
		return nil, err
	}

	report := &Report{
		Source:  o.opts.Source.String(),
		Target:  o.opts.Target.String(),
		Unknown: job.Unknown,
	}

	if job.NeedsEnvironments {
		report.Environments = o.ensureEnvironments(ctx)
	}

	for _, desc := range job.Categories {
		report.Categories = append(report.Categories, o.runCategory(ctx, desc))
	}

	report.Duration = time.Since(start)
	return report, nil
}

func (o *Orchestrator) validate(job resource.Job) error {
	if o.opts.Source.Org == "" {
		return &config.ValidationError{Field: config.FlagSourceOrg, Reason: "is required"}
	}
	if o.opts.Target.Org == "" {
		return &config.ValidationError{Field: config.FlagTargetOrg, Reason: "is required"}
	}
	if job.NeedsRepository() {
		if o.opts.Source.Repo == "" {
			return &config.ValidationError{Field: config.FlagSourceRepo, Reason: "is required for repository and environment scopes"}
		}
		if o.opts.Target.Repo == "" {
			return &config.ValidationError{Field: config.FlagTargetRepo, Reason: "is required for repository and environment scopes"}
		}
	}
	if o.opts.SourceClient == nil {
		return &config.ValidationError{Field: config.FlagSourceToken, Reason: "must yield a source API client"}
	}
	if o.opts.TargetClient == nil {
		return &config.ValidationError{Field: config.FlagTargetToken, Reason: "must yield a target API client"}
	}
	for _, d := range job.Categories {
		if d.Kind == resource.KindSecret && o.opts.Secrets == nil {
			return &config.ValidationError{Field: config.FlagGHPath, Reason: "must point to a gh CLI to write " + string(d.Category)}
		}
	}
	return nil
}

func (o *Orchestrator) ensureEnvironments(ctx context.Context) *EnvironmentReport {
	o.printf("Preparing environments %s -> %s...\n", o.opts.Source, o.opts.Target)

	result, err := o.envs.EnsureEnvironments(ctx)
	report := &EnvironmentReport{
		Created:  result.Created,
		Existing: result.Existing,
		Failed:   result.Failed,
		Implicit: result.Implicit,
	}
	if err != nil {
		report.Error = err.Error()
		o.printf("⚠️  Environment preparation failed: %v\n", err)
	}
	return report
}

func (o *Orchestrator) runCategory(ctx context.Context, desc resource.Descriptor) *CategoryReport {
	report := &CategoryReport{Category: desc.Category}
	log := o.log.WithField("category", desc.Category)

	e := enumerator.New(desc, enumerator.Deps{
		Source:       o.opts.SourceClient,
		Target:       o.opts.TargetClient,
		Variables:    o.opts.TargetClient,
		Secrets:      o.opts.Secrets,
		Environments: o.envs,
		Logger:       o.opts.Logger,
	})

	o.printf("\nMigrating %s...\n", desc.Category)

	items, err := e.Enumerate(ctx, o.opts.Source)
	if err != nil {
		report.Error = err.Error()
		o.printf("⚠️  %s: could not list source items: %v\n", desc.Category, err)
	}
	if len(items) == 0 {
		o.printf("No %s found at source.\n", desc.Category)
		return report
	}

	log.WithField("items", len(items)).Debug("Enumerated source items")

	resolver := o.opts.Strategy.For(desc)
	if resolver == nil {
		resolver = resolve.NewPlaceholder(resolve.DefaultPlaceholder)
	}

	outcomes := o.processItems(ctx, e, resolver, items)
	for _, outcome := range outcomes {
		report.record(outcome)
	}
	return report
}

// processItems runs the items of one category through the worker pool and
// returns their outcomes in enumeration order
func (o *Orchestrator) processItems(ctx context.Context, e *enumerator.Enumerator, resolver resolve.Resolver, items []resource.Item) []Outcome {
	outcomes := make([]Outcome, len(items))

	cfg := worker.DefaultConfig()
	if o.opts.Retry != nil {
		c := *o.opts.Retry
		cfg = &c
	}
	cfg.WorkerCount = o.opts.Workers
	if cfg.WorkerCount > len(items) {
		cfg.WorkerCount = len(items)
	}
	cfg.QueueSize = len(items)

	pool := worker.NewPool(ctx, cfg, o.opts.Logger)
	pool.Start()
	defer pool.Stop()

	for i, item := range items {
		i, item := i, item
		job := &worker.Job{
			ID:          item.String(),
			Description: item.Key(),
			Execute: func(ctx context.Context) error {
				outcome, err := o.processItem(ctx, e, resolver, item)
				outcomes[i] = outcome
				return err
			},
			Retryable: func(err error) (time.Duration, bool) {
				if rle, ok := provider.IsRateLimitError(err); ok {
					return rle.RetryAfter, true
				}
				return 0, false
			},
			OnRetry: func(attempt int, _ error, delay time.Duration) {
				o.printf("⏳ %s %s (rate limited, attempt %d, retrying in %v)\n", item.Category, item.Key(), attempt, delay)
			},
			OnDone: func(error) {
				o.printOutcome(item, outcomes[i])
			},
		}
		if err := pool.Submit(job); err != nil {
			outcomes[i] = Outcome{Item: item.Key(), Status: StatusFailed, Reason: err.Error()}
			o.printOutcome(item, outcomes[i])
		}
	}

	pool.Wait()
	return outcomes
}

// processItem handles one item. A panic is contained here and turned into a
// failed outcome.
func (o *Orchestrator) processItem(ctx context.Context, e *enumerator.Enumerator, resolver resolve.Resolver, item resource.Item) (outcome Outcome, err error) {
	outcome = Outcome{Item: item.Key()}
	log := o.log.WithFields(logrus.Fields{"category": item.Category, "item": item.Key()})

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Item processing panicked")
			outcome = Outcome{Item: item.Key(), Status: StatusFailed, Reason: fmt.Sprintf("panic: %v", r)}
			err = nil
		}
	}()

	fail := func(what string, cause error) (Outcome, error) {
		log.WithError(cause).Warn(what)
		return Outcome{Item: item.Key(), Status: StatusFailed, Reason: what + ": " + formatErrorMessage(cause)}, cause
	}

	exists, err := e.Exists(ctx, o.opts.Target, item)
	if err != nil {
		return fail("existence check failed", err)
	}
	if exists && !o.opts.Force {
		outcome.Status = StatusSkipped
		return outcome, nil
	}

	res, err := resolver.Resolve(ctx, item)
	if err != nil {
		return fail("value resolution failed", err)
	}

	if err := e.Apply(ctx, o.opts.Target, item, res.Value); err != nil {
		return fail("write failed", err)
	}

	if res.Placeholder {
		outcome.Status = StatusPlaceholder
	} else {
		outcome.Status = StatusCopied
	}
	return outcome, nil
}

// printOutcome writes one progress line, prefixed so concurrent items stay
// attributable
func (o *Orchestrator) printOutcome(item resource.Item, outcome Outcome) {
	detail := string(outcome.Status)
	if outcome.Reason != "" {
		detail += " [" + outcome.Reason + "]"
	}
	o.printf("%s %s %s (%s)\n", outcome.Status.symbol(), item.Category, item.Key(), detail)
}

func (o *Orchestrator) printf(format string, args ...interface{}) {
	o.outMu.Lock()
	defer o.outMu.Unlock()
	fmt.Fprintf(o.opts.Out, format, args...)
}

// formatErrorMessage shortens API errors to the part worth showing per item
func formatErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if rle, ok := provider.IsRateLimitError(err); ok {
		return fmt.Sprintf("rate limited, retry after %s", rle.RetryAfter.Round(time.Second))
	}
	var reqErr *provider.RequestError
	if errors.As(err, &reqErr) && reqErr.StatusCode != 0 {
		return fmt.Sprintf("HTTP %d from %s %s", reqErr.StatusCode, reqErr.Method, reqErr.Endpoint)
	}
	return err.Error()
}
