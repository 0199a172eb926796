// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package resolve

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/provider"
	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/resource"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestPlaceholder(t *testing.T) {
	for _, value := range []string{DefaultPlaceholder, ""} {
		res, err := NewPlaceholder(value).Resolve(context.Background(), resource.Item{Name: "TOKEN"})
		require.NoError(t, err)
		assert.Equal(t, value, res.Value)
		assert.True(t, res.Placeholder)
	}
}

func TestStrategy_For(t *testing.T) {
	secrets := NewPlaceholder("x")
	variables := NewDirectRead(nil, resource.Coordinates{})
	s := Strategy{Secrets: secrets, Variables: variables}

	for _, d := range resource.Descriptors() {
		if d.Kind == resource.KindVariable {
			assert.Equal(t, Resolver(variables), s.For(d), d.Category)
		} else {
			assert.Equal(t, Resolver(secrets), s.For(d), d.Category)
		}
	}
}

type fakeReader struct {
	calls []string
	value string
	err   error
}

func (f *fakeReader) GetVariable(_ context.Context, collection, name string) (*provider.Variable, error) {
	f.calls = append(f.calls, collection+"/"+name)
	if f.err != nil {
		return nil, f.err
	}
	return &provider.Variable{Name: name, Value: f.value}, nil
}

func TestDirectRead(t *testing.T) {
	src := resource.NewCoordinates("o", "r", "")

	t.Run("uses enumerated value", func(t *testing.T) {
		reader := &fakeReader{}
		res, err := NewDirectRead(reader, src).Resolve(context.Background(), resource.Item{
			Category: resource.RepoVariable, Name: "EMPTY", Value: "", HasValue: true,
		})
		require.NoError(t, err)
		assert.Equal(t, "", res.Value)
		assert.False(t, res.Placeholder)
		assert.Empty(t, reader.calls)
	})

	t.Run("reads environment variable", func(t *testing.T) {
		reader := &fakeReader{value: "db.internal"}
		res, err := NewDirectRead(reader, src).Resolve(context.Background(), resource.Item{
			Category: resource.EnvVariable, Name: "HOST", Environment: "prod",
		})
		require.NoError(t, err)
		assert.Equal(t, "db.internal", res.Value)
		assert.Equal(t, []string{"repos/o/r/environments/prod/variables/HOST"}, reader.calls)
	})

	t.Run("read failure", func(t *testing.T) {
		reader := &fakeReader{err: errors.New("boom")}
		_, err := NewDirectRead(reader, src).Resolve(context.Background(), resource.Item{
			Category: resource.OrgVariable, Name: "X",
		})
		assert.Error(t, err)
	})
}

type fakeHost struct {
	mu            sync.Mutex
	scratch       string
	id            string
	write         []byte
	notRegistered int
	commitErr     error

	committed   []byte
	commitPath  string
	dispatches  int
	deleted     []string
	deletedSHAs []string
}

func (f *fakeHost) DefaultBranch(context.Context, string, string) (string, error) {
	return "trunk", nil
}

func (f *fakeHost) CommitFile(_ context.Context, _, _, branch, path, _ string, content []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return "", f.commitErr
	}
	f.committed = content
	f.commitPath = path
	return "sha-1", nil
}

func (f *fakeHost) DeleteFile(_ context.Context, _, _, _, path, sha, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, path)
	f.deletedSHAs = append(f.deletedSHAs, sha)
	return nil
}

func (f *fakeHost) DispatchWorkflow(_ context.Context, _, _, file, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatches++
	if f.notRegistered > 0 {
		f.notRegistered--
		return &provider.RequestError{Method: "POST", Endpoint: file, StatusCode: 404, Err: provider.ErrNotFound}
	}
	if f.write != nil {
		return os.WriteFile(filepath.Join(f.scratch, f.id+".out"), f.write, 0o600)
	}
	return nil
}

func newTestExtractor(t *testing.T, host *fakeHost, timeout time.Duration) *Extractor {
	t.Helper()
	host.scratch = t.TempDir()
	host.id = "0000-test"

	e, err := NewExtractor(host, resource.NewCoordinates("o", "r", ""), ExtractConfig{
		ScratchDir:  host.scratch,
		RunnerLabel: "migration",
		Timeout:     timeout,
		Interval:    5 * time.Millisecond,
	}, NewPlaceholder(DefaultPlaceholder), quietLogger())
	require.NoError(t, err)
	e.newID = func() string { return host.id }
	return e
}

func TestExtractor_Success(t *testing.T) {
	host := &fakeHost{write: []byte("s3cret\n"), notRegistered: 2}
	e := newTestExtractor(t, host, time.Second)

	res, err := e.Resolve(context.Background(), resource.Item{Category: resource.EnvSecret, Name: "DB_PASS", Environment: "prod"})
	require.NoError(t, err)
	assert.Equal(t, "s3cret", res.Value)
	assert.False(t, res.Placeholder)
	assert.Equal(t, 3, host.dispatches)

	assert.Equal(t, ".github/workflows/migrate-0000-test.yml", host.commitPath)
	assert.Equal(t, []string{host.commitPath}, host.deleted)
	assert.Equal(t, []string{"sha-1"}, host.deletedSHAs)

	_, statErr := os.Stat(filepath.Join(host.scratch, host.id+".out"))
	assert.True(t, os.IsNotExist(statErr), "output file must be removed")

	var wf workflowFile
	require.NoError(t, yaml.Unmarshal(host.committed, &wf))
	job := wf.Jobs["extract"]
	assert.Equal(t, []string{"self-hosted", "migration"}, job.RunsOn)
	assert.Equal(t, "prod", job.Environment)
	require.Len(t, job.Steps, 1)
	assert.Equal(t, "${{ secrets.DB_PASS }}", job.Steps[0].Env["VALUE"])
	assert.Contains(t, wf.On, "workflow_dispatch")
}

func TestExtractor_TimeoutFallsBack(t *testing.T) {
	host := &fakeHost{}
	e := newTestExtractor(t, host, 40*time.Millisecond)

	res, err := e.Resolve(context.Background(), resource.Item{Category: resource.RepoSecret, Name: "API_KEY"})
	require.NoError(t, err)
	assert.True(t, res.Placeholder)
	assert.Equal(t, DefaultPlaceholder, res.Value)
	assert.Len(t, host.deleted, 1, "workflow must be removed after timeout")
}

func TestExtractor_CancelledStillTearsDown(t *testing.T) {
	host := &fakeHost{}
	e := newTestExtractor(t, host, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	res, err := e.Resolve(ctx, resource.Item{Category: resource.OrgSecret, Name: "ORG_KEY"})
	require.NoError(t, err)
	assert.True(t, res.Placeholder)
	assert.Len(t, host.deleted, 1)
}

func TestExtractor_FallbackCases(t *testing.T) {
	t.Run("dependabot secrets are not extractable", func(t *testing.T) {
		host := &fakeHost{write: []byte("x")}
		e := newTestExtractor(t, host, time.Second)

		res, err := e.Resolve(context.Background(), resource.Item{Category: resource.DependabotRepoSecret, Name: "NPM"})
		require.NoError(t, err)
		assert.True(t, res.Placeholder)
		assert.Nil(t, host.committed)
	})

	t.Run("commit failure", func(t *testing.T) {
		host := &fakeHost{commitErr: errors.New("forbidden")}
		e := newTestExtractor(t, host, time.Second)

		res, err := e.Resolve(context.Background(), resource.Item{Category: resource.RepoSecret, Name: "X"})
		require.NoError(t, err)
		assert.True(t, res.Placeholder)
		assert.Empty(t, host.deleted)
		assert.Zero(t, host.dispatches)
	})

	t.Run("non UTF-8 output", func(t *testing.T) {
		host := &fakeHost{write: []byte{0xff, 0xfe, 0x00}}
		e := newTestExtractor(t, host, time.Second)

		res, err := e.Resolve(context.Background(), resource.Item{Category: resource.RepoSecret, Name: "BIN"})
		require.NoError(t, err)
		assert.True(t, res.Placeholder)
		assert.Len(t, host.deleted, 1)
	})
}

func TestNewExtractor_RequiresScratchDir(t *testing.T) {
	_, err := NewExtractor(&fakeHost{}, resource.Coordinates{}, ExtractConfig{}, NewPlaceholder(""), nil)
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"value", "value"},
		{"value\n", "value"},
		{"value\r\n", "value"},
		{"value\n\n", "value"},
		{"value\r\n\r\n", "value"},
		{"in\r\nside\n", "in\r\nside"},
		{"", ""},
		{"\n", ""},
		{"multi\nline\n", "multi\nline"},
	}

	for _, tt := range tests {
		got, err := normalize([]byte(tt.in))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}

	_, err := normalize([]byte{0xc3, 0x28})
	assert.ErrorIs(t, err, errNotUTF8)
}
