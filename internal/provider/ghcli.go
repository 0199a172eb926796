// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/resource"
	"github.com/cli/safeexec"
	"github.com/sirupsen/logrus"
)

// CommandRunner runs an external command
type CommandRunner interface {
	Run(ctx context.Context, stdin io.Reader, env []string, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, stdin io.Reader, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Env = append(os.Environ(), env...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	return out.Bytes(), err
}

// GHSecretWriter writes secrets by running "gh secret set". The gh CLI fetches
// the repository public key and seals the value before upload.
type GHSecretWriter struct {
	path   string
	cred   resource.Credential
	host   string
	runner CommandRunner
	log    logrus.FieldLogger
}

// GHOption configures a GHSecretWriter
type GHOption func(*GHSecretWriter)

// WithRunner replaces the command runner, mostly for tests
func WithRunner(r CommandRunner) GHOption {
	return func(w *GHSecretWriter) {
		w.runner = r
	}
}

// WithGHLogger sets the logger
func WithGHLogger(log logrus.FieldLogger) GHOption {
	return func(w *GHSecretWriter) {
		w.log = log
	}
}

// NewGHSecretWriter creates a writer authenticated with cred. ghPath may be
// empty, in which case gh is looked up on PATH. host is the GitHub Enterprise
// host name, empty for github.com.
func NewGHSecretWriter(cred resource.Credential, host, ghPath string, opts ...GHOption) (*GHSecretWriter, error) {
	w := &GHSecretWriter{
		path:   ghPath,
		cred:   cred,
		host:   host,
		runner: execRunner{},
		log:    logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.path == "" {
		path, err := safeexec.LookPath("gh")
		if err != nil {
			return nil, fmt.Errorf("gh CLI not found on PATH: %w", err)
		}
		w.path = path
	}

	return w, nil
}

// SetSecret creates or replaces a secret. The value is passed on stdin so it
// never appears in the process list. gh strips trailing line endings from a
// stdin body, so they are trimmed here and the loss is logged.
func (w *GHSecretWriter) SetSecret(ctx context.Context, spec SecretSpec) error {
	args := []string{"secret", "set", spec.Name}
	args = append(args, scopeArgs(spec)...)
	if spec.OrgLevel {
		visibility := spec.Visibility
		if visibility == "" {
			visibility = resource.VisibilityAll
		}
		args = append(args, "--visibility", visibility)
	}

	log := w.log.WithFields(logrus.Fields{"collection": spec.Collection(), "secret": spec.Name})

	value := strings.TrimRight(spec.Value, "\r\n")
	if value != spec.Value {
		log.Warn("Secret value ends in line breaks that gh does not store; writing it without them")
	}

	log.Debug("Writing secret")

	return w.run(ctx, strings.NewReader(value), args)
}

// DeleteSecret removes a secret
func (w *GHSecretWriter) DeleteSecret(ctx context.Context, spec SecretSpec) error {
	args := []string{"secret", "delete", spec.Name}
	args = append(args, scopeArgs(spec)...)
	return w.run(ctx, nil, args)
}

func (w *GHSecretWriter) run(ctx context.Context, stdin io.Reader, args []string) error {
	env := []string{
		"GH_TOKEN=" + w.cred.Token(),
		"GH_PROMPT_DISABLED=1",
		"NO_COLOR=1",
	}
	if w.host != "" {
		env = append(env, "GH_HOST="+w.host, "GH_ENTERPRISE_TOKEN="+w.cred.Token())
	}

	w.log.WithField("args", strings.Join(args, " ")).Debug("Running gh")

	out, err := w.runner.Run(ctx, stdin, env, w.path, args...)
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return fmt.Errorf("gh %s %s: %w", args[0], args[1], err)
		}
		return fmt.Errorf("gh %s %s: %w: %s", args[0], args[1], err, firstLine(msg))
	}
	return nil
}

func scopeArgs(spec SecretSpec) []string {
	var args []string
	if spec.OrgLevel {
		args = append(args, "--org", spec.Coordinates.Org)
	} else {
		args = append(args, "--repo", spec.Coordinates.FullName())
		if spec.Coordinates.Environment != "" {
			args = append(args, "--env", spec.Coordinates.Environment)
		}
	}
	// actions is the gh default and the only app valid with --env
	if spec.App != "" && spec.App != resource.AppActions {
		args = append(args, "--app", string(spec.App))
	}
	return args
}

func firstLine(s string) string {
	line := strings.Split(s, "\n")[0]
	if len(line) > 200 {
		line = line[:197] + "..."
	}
	return line
}
