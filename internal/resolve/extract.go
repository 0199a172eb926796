// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package resolve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/provider"
	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/resource"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrExtractionTimeout is returned when no value appears before the deadline
var ErrExtractionTimeout = errors.New("extraction timed out")

var errNotUTF8 = errors.New("extracted value is not valid UTF-8")

const (
	// DefaultExtractTimeout bounds one extraction
	DefaultExtractTimeout = 60 * time.Second
	// DefaultExtractInterval is the polling interval for the output file
	DefaultExtractInterval = 2 * time.Second

	teardownTimeout = 30 * time.Second
	workflowDir     = ".github/workflows"
)

// WorkflowHost commits, runs and removes workflow files at the source
type WorkflowHost interface {
	DefaultBranch(ctx context.Context, org, repo string) (string, error)
	CommitFile(ctx context.Context, org, repo, branch, path, message string, content []byte) (string, error)
	DeleteFile(ctx context.Context, org, repo, branch, path, sha, message string) error
	DispatchWorkflow(ctx context.Context, org, repo, workflowFile, ref string) error
}

// ExtractConfig controls the side-channel
type ExtractConfig struct {
	ScratchDir  string
	RunnerLabel string
	Timeout     time.Duration
	Interval    time.Duration
}

// Extractor recovers secret values by running a throwaway workflow on a
// self-hosted runner that shares ScratchDir with this process. Anything that
// goes wrong falls back to the placeholder.
type Extractor struct {
	host     WorkflowHost
	source   resource.Coordinates
	config   ExtractConfig
	fallback Placeholder
	log      logrus.FieldLogger
	newID    func() string
}

// NewExtractor creates an extractor operating on the source repository
func NewExtractor(host WorkflowHost, source resource.Coordinates, config ExtractConfig, fallback Placeholder, log logrus.FieldLogger) (*Extractor, error) {
	if config.ScratchDir == "" {
		return nil, errors.New("extraction requires a scratch directory")
	}
	abs, err := filepath.Abs(config.ScratchDir)
	if err != nil {
		return nil, fmt.Errorf("invalid scratch directory: %w", err)
	}
	config.ScratchDir = abs
	if config.Timeout <= 0 {
		config.Timeout = DefaultExtractTimeout
	}
	if config.Interval <= 0 {
		config.Interval = DefaultExtractInterval
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Extractor{
		host:     host,
		source:   source,
		config:   config,
		fallback: fallback,
		log:      log.WithField("component", "extractor"),
		newID:    uuid.NewString,
	}, nil
}

// Resolve implements Resolver. Failures never propagate; the placeholder is
// returned instead and the reason is logged.
func (e *Extractor) Resolve(ctx context.Context, item resource.Item) (Resolution, error) {
	log := e.log.WithFields(logrus.Fields{"category": item.Category, "item": item.Key()})

	desc, ok := resource.Lookup(item.Category)
	if !ok || desc.Kind != resource.KindSecret {
		return e.fallback.Resolve(ctx, item)
	}
	if desc.App != resource.AppActions {
		log.Warn("Only Actions secrets are visible to workflows, using placeholder")
		return e.fallback.Resolve(ctx, item)
	}
	if e.source.Repo == "" {
		log.Warn("Extraction needs a source repository, using placeholder")
		return e.fallback.Resolve(ctx, item)
	}

	value, err := e.extract(ctx, item)
	if err != nil {
		if errors.Is(err, ErrExtractionTimeout) {
			log.WithField("timeout", e.config.Timeout).Warn("Extraction timed out, using placeholder")
		} else {
			log.WithError(err).Warn("Extraction failed, using placeholder")
		}
		return e.fallback.Resolve(ctx, item)
	}

	return Resolution{Value: value}, nil
}

func (e *Extractor) extract(ctx context.Context, item resource.Item) (string, error) {
	id := e.newID()
	name := "migrate-" + id
	path := workflowDir + "/" + name + ".yml"
	output := filepath.Join(e.config.ScratchDir, id+".out")

	content, err := renderWorkflow(name, item, output, e.config.RunnerLabel)
	if err != nil {
		return "", err
	}

	org, repo := e.source.Org, e.source.Repo

	branch, err := e.host.DefaultBranch(ctx, org, repo)
	if err != nil {
		return "", fmt.Errorf("failed to resolve default branch: %w", err)
	}

	deadline := time.Now().Add(e.config.Timeout)

	sha, err := e.host.CommitFile(ctx, org, repo, branch, path, "Add temporary migration workflow "+name, content)
	if err != nil {
		return "", fmt.Errorf("failed to commit workflow: %w", err)
	}
	defer e.teardown(org, repo, branch, path, sha, output)

	if err := e.dispatch(ctx, org, repo, name+".yml", branch, deadline); err != nil {
		return "", err
	}

	return e.poll(ctx, output, deadline)
}

// dispatch retries while the freshly committed workflow is not yet registered
func (e *Extractor) dispatch(ctx context.Context, org, repo, file, ref string, deadline time.Time) error {
	for {
		err := e.host.DispatchWorkflow(ctx, org, repo, file, ref)
		if err == nil {
			return nil
		}
		if !notRegistered(err) {
			return fmt.Errorf("failed to dispatch workflow: %w", err)
		}
		if time.Now().Add(e.config.Interval).After(deadline) {
			return ErrExtractionTimeout
		}

		e.log.WithField("workflow", file).Debug("Workflow not registered yet, retrying dispatch")

		if err := sleep(ctx, e.config.Interval); err != nil {
			return err
		}
	}
}

func notRegistered(err error) bool {
	if errors.Is(err, provider.ErrNotFound) {
		return true
	}
	var reqErr *provider.RequestError
	return errors.As(err, &reqErr) && reqErr.StatusCode == 422
}

func (e *Extractor) poll(ctx context.Context, output string, deadline time.Time) (string, error) {
	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for {
		value, ready, err := readOutput(output)
		if err != nil {
			return "", err
		}
		if ready {
			return value, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			// one last look; the runner may have finished on the boundary
			if value, ready, err := readOutput(output); err == nil && ready {
				return value, nil
			}
			return "", ErrExtractionTimeout
		case <-ticker.C:
		}
	}
}

// teardown runs on its own context so a cancelled run still cleans up
func (e *Extractor) teardown(org, repo, branch, path, sha, output string) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	if err := e.host.DeleteFile(ctx, org, repo, branch, path, sha, "Remove temporary migration workflow"); err != nil {
		e.log.WithError(err).WithField("path", path).Warn("Failed to remove temporary workflow")
	}

	for _, f := range []string{output, output + ".tmp"} {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			e.log.WithError(err).WithField("path", f).Warn("Failed to remove extraction output")
		}
	}
}

// readOutput returns the normalized file content once the file exists
func readOutput(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}

	value, err := normalize(data)
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// normalize trims trailing line endings, matching what the gh CLI stores,
// and rejects non UTF-8 content
func normalize(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errNotUTF8
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type workflowFile struct {
	Name string                 `yaml:"name"`
	On   map[string]interface{} `yaml:"on"`
	Jobs map[string]workflowJob `yaml:"jobs"`
}

type workflowJob struct {
	RunsOn      []string       `yaml:"runs-on"`
	Environment string         `yaml:"environment,omitempty"`
	Steps       []workflowStep `yaml:"steps"`
}

type workflowStep struct {
	Name  string            `yaml:"name"`
	Shell string            `yaml:"shell"`
	Env   map[string]string `yaml:"env"`
	Run   string            `yaml:"run"`
}

// renderWorkflow builds a dispatch-only workflow that writes one secret to
// output. The value is moved into place only once fully written.
func renderWorkflow(name string, item resource.Item, output, label string) ([]byte, error) {
	runsOn := []string{"self-hosted"}
	if label != "" {
		runsOn = append(runsOn, label)
	}

	tmp := output + ".tmp"
	script := fmt.Sprintf("printf '%%s' \"$VALUE\" > %s\nmv %s %s\n", shellQuote(tmp), shellQuote(tmp), shellQuote(output))

	wf := workflowFile{
		Name: name,
		On:   map[string]interface{}{"workflow_dispatch": map[string]interface{}{}},
		Jobs: map[string]workflowJob{
			"extract": {
				RunsOn:      runsOn,
				Environment: item.Environment,
				Steps: []workflowStep{{
					Name:  "Export value",
					Shell: "bash",
					Env:   map[string]string{"VALUE": "${{ secrets." + item.Name + " }}"},
					Run:   script,
				}},
			},
		},
	}

	out, err := yaml.Marshal(&wf)
	if err != nil {
		return nil, fmt.Errorf("failed to render workflow: %w", err)
	}
	return out, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
