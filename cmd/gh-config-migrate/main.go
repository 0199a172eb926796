// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/config"
	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/migrate"
	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/provider"
	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/resolve"
	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/resource"
	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/worker"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gh-config-migrate",
		Short: "Copy GitHub Actions, Dependabot and Codespaces configuration between repositories",
		Long: `gh-config-migrate copies secrets, variables and deployment environments from
one GitHub organization or repository to another.

Secret values cannot be read back through the API. They are written as a
placeholder unless --extract-secrets is given, in which case a temporary
workflow on a self-hosted runner recovers each value.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().BoolP(config.FlagVerbose, "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().Duration(config.FlagTimeout, 2*time.Hour, "Overall operation timeout")

	rootCmd.AddCommand(newMigrateCmd(), newScopesCmd())
	return rootCmd
}

func newMigrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate configuration from a source to a target",
		Long: `Migrate secrets, variables and environments.

Examples:
  gh-config-migrate migrate --source-org acme --source-repo api --target-org acme-new --target-repo api --scope all
  gh-config-migrate migrate --source-org acme --target-org acme-new --scope org-secret,org-variable
  gh-config-migrate migrate --source-org acme --target-org acme-new --scope repo-variable   # every repository
  gh-config-migrate migrate --config migrate.yaml --overwrite --workers 4 --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return runMigrate(cmd.Context(), s, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	config.RegisterFlags(migrateCmd.Flags())
	return migrateCmd
}

func newScopesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scopes",
		Short: "List the recognized scope tokens",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printScopes(cmd.OutOrStdout())
		},
	}
}

func printScopes(w io.Writer) {
	tokens := resource.Tokens()
	names := make([]string, 0, len(tokens))
	for name := range tokens {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "Scope tokens (canonical name, alias):")
	for _, name := range names {
		fmt.Fprintf(w, "  %-24s %s\n", name, tokens[name])
	}
	fmt.Fprintf(w, "  %-24s %s\n", resource.TokenEnvironments, "create missing target environments only")
	fmt.Fprintf(w, "  %-24s %s\n", resource.TokenAll, "every category above")
}

func newLogger(w io.Writer, verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: !verbose})
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}
	return log
}

func runMigrate(ctx context.Context, s *config.Settings, out, errOut io.Writer) error {
	log := newLogger(errOut, s.Verbose)

	credentialsLoader := loadCredentials(s, log)
	s.ApplyCredentials(credentialsLoader)

	if err := s.Validate(); err != nil {
		return err
	}

	progress := progressWriter(s, out, errOut)
	if s.Verbose {
		showCredentialStatus(progress, credentialsLoader)
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	sourceClient, err := provider.NewClient(s.SourceToken, s.APIURL, provider.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create source client: %w", err)
	}
	targetClient, err := provider.NewClient(s.TargetToken, s.APIURL, provider.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create target client: %w", err)
	}

	job := resource.ParseScope(s.Scope)
	secrets, err := newSecretWriter(s, job, log)
	if err != nil {
		return err
	}

	var repos []string
	if s.AllRepositories() {
		if _, repoJob := job.Split(); !repoJob.Empty() {
			repos, err = listRepositories(ctx, sourceClient, s.SourceOrg, progress)
			if err != nil {
				return err
			}
		}
	}

	reports := make([]*migrate.Report, 0)
	for _, r := range plan(s, job, repos) {
		strategy, err := newStrategy(s, sourceClient, r.source, log)
		if err != nil {
			return err
		}

		orchestrator := migrate.New(migrate.Options{
			Source:         r.source,
			Target:         r.target,
			SourceClient:   sourceClient,
			TargetClient:   targetClient,
			Secrets:        secrets,
			Strategy:       strategy,
			Force:          s.Overwrite,
			CopyProtection: s.CopyEnvironmentProtection,
			Workers:        s.Workers,
			Retry:          retryConfig(s),
			Out:            progress,
			Logger:         log,
		})

		fmt.Fprintf(progress, "\n🚀 %s -> %s\n", r.source, r.target)
		report, err := orchestrator.Run(ctx, r.scope)
		if err != nil {
			return err
		}
		reports = append(reports, report)

		if ctx.Err() != nil {
			log.WithError(ctx.Err()).Warn("Stopping before remaining repositories")
			break
		}
	}

	return writeReports(out, s.Output, reports)
}

// run is one orchestrator invocation
type run struct {
	source resource.Coordinates
	target resource.Coordinates
	scope  string
}

// plan expands the settings into orchestrator runs. With a source repository
// there is exactly one run. Without one, organization categories run once and
// repository categories run once per source repository, targeting a repository
// of the same name.
func plan(s *config.Settings, job resource.Job, repos []string) []run {
	source := resource.NewCoordinates(s.SourceOrg, s.SourceRepo, "")
	target := resource.NewCoordinates(s.TargetOrg, s.TargetRepo, "")

	if !s.AllRepositories() {
		return []run{{source: source, target: target, scope: s.Scope}}
	}

	orgJob, repoJob := job.Split()
	orgJob.Unknown = job.Unknown

	var runs []run
	if !orgJob.Empty() || len(orgJob.Unknown) > 0 {
		runs = append(runs, run{source: source, target: target, scope: orgJob.Scope()})
	}
	if repoJob.Empty() {
		return runs
	}
	for _, name := range repos {
		runs = append(runs, run{
			source: source.WithRepo(name),
			target: target.WithRepo(name),
			scope:  repoJob.Scope(),
		})
	}
	return runs
}

func listRepositories(ctx context.Context, client *provider.Client, org string, out io.Writer) ([]string, error) {
	fmt.Fprintf(out, "Fetching repositories from %s...\n", org)

	repos, err := client.ListRepositories(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories of %s: %w", org, err)
	}

	names := make([]string, 0, len(repos))
	for _, repo := range repos {
		names = append(names, repo.Name)
	}
	fmt.Fprintf(out, "Found %d repositories.\n", len(names))
	return names, nil
}

// newSecretWriter locates gh when the scope writes secrets. Environment
// preparation only needs it for the implicit creation fallback, so a missing
// gh is not fatal there.
func newSecretWriter(s *config.Settings, job resource.Job, log logrus.FieldLogger) (provider.SecretWriter, error) {
	if !job.HasSecrets() && !job.NeedsEnvironments {
		return nil, nil
	}

	writer, err := provider.NewGHSecretWriter(s.TargetToken, provider.HostFromAPIURL(s.APIURL), s.GHPath,
		provider.WithGHLogger(log))
	if err != nil {
		if job.HasSecrets() {
			return nil, err
		}
		log.WithError(err).Warn("gh CLI unavailable; environments that reject direct creation will fail")
		return nil, nil
	}
	return writer, nil
}

func newStrategy(s *config.Settings, source *provider.Client, coords resource.Coordinates, log logrus.FieldLogger) (resolve.Strategy, error) {
	placeholder := resolve.NewPlaceholder(s.Placeholder)
	strategy := resolve.Strategy{
		Secrets:   placeholder,
		Variables: resolve.NewDirectRead(source, coords),
	}

	if !s.ExtractSecrets {
		return strategy, nil
	}

	extractor, err := resolve.NewExtractor(source, coords, resolve.ExtractConfig{
		ScratchDir:  s.ScratchDir,
		RunnerLabel: s.RunnerLabel,
		Timeout:     s.ExtractTimeout,
		Interval:    s.ExtractInterval,
	}, placeholder, log)
	if err != nil {
		return strategy, fmt.Errorf("failed to set up secret extraction: %w", err)
	}
	strategy.Secrets = extractor
	return strategy, nil
}

func retryConfig(s *config.Settings) *worker.Config {
	cfg := worker.DefaultConfig()
	cfg.WorkerCount = s.Workers
	cfg.LogVerbose = s.Verbose
	return cfg
}

// progressWriter keeps stdout clean for the JSON report
func progressWriter(s *config.Settings, out, errOut io.Writer) io.Writer {
	if s.Output == config.OutputJSON {
		return errOut
	}
	return out
}

func writeReports(out io.Writer, format string, reports []*migrate.Report) error {
	if format == config.OutputJSON {
		return migrate.WriteJSON(out, reports)
	}
	for _, report := range reports {
		report.PrintSummary(out)
	}
	return nil
}

// loadCredentials loads the credentials file named by the settings, or the
// first one found in the default locations
func loadCredentials(s *config.Settings, log logrus.FieldLogger) *config.CredentialsLoader {
	var credentialsLoader *config.CredentialsLoader
	if s.CredentialsFile != "" {
		credentialsLoader = config.NewCredentialsLoader(s.CredentialsFile)
	} else if credentialsPath := config.FindCredentialsFile(); credentialsPath != "" {
		credentialsLoader = config.NewCredentialsLoader(credentialsPath)
		log.WithField("path", credentialsPath).Debug("Using credentials file")
	} else {
		credentialsLoader = config.NewCredentialsLoader("")
	}

	if err := credentialsLoader.LoadCredentials(); err != nil {
		log.WithError(err).Warn("Failed to load credentials")
	}

	return credentialsLoader
}

// showCredentialStatus displays credential availability in verbose mode
func showCredentialStatus(w io.Writer, credentialsLoader *config.CredentialsLoader) {
	credentials := credentialsLoader.ListCredentials()
	names := make([]string, 0, len(credentials))
	for name := range credentials {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "Credential status:")
	for _, name := range names {
		status := "❌"
		if credentials[name] {
			status = "✅"
		}
		fmt.Fprintf(w, "  %s %s\n", status, name)
	}
	fmt.Fprintln(w)
}
