// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package migrate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/provider"
	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/resource"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type storedEntry struct {
	Value      string
	Visibility string
}

// fakeGitHub is an in-memory stand-in for the REST endpoints the migration uses
type fakeGitHub struct {
	mu sync.Mutex

	// collection path -> name -> entry, e.g. "repos/o/r/actions/secrets"
	store map[string]map[string]storedEntry
	// "org/repo" -> environment names
	environments map[string][]string
	// collections whose listing fails with a server error
	failing map[string]bool

	requests       int
	envListCalls   int
	envCreateCalls int
	variableWrites int
	events         []string
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		store:        make(map[string]map[string]storedEntry),
		environments: make(map[string][]string),
		failing:      make(map[string]bool),
	}
}

func (f *fakeGitHub) put(collection, name, value, visibility string) {
	if f.store[collection] == nil {
		f.store[collection] = make(map[string]storedEntry)
	}
	f.store[collection][name] = storedEntry{Value: value, Visibility: visibility}
}

func (f *fakeGitHub) addEnvironment(fullName, name string) {
	f.environments[fullName] = append(f.environments[fullName], name)
}

func (f *fakeGitHub) get(collection, name string) (storedEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.store[collection][name]
	return e, ok
}

func (f *fakeGitHub) count(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.store[collection])
}

func (f *fakeGitHub) hasEnvironment(fullName, name string) bool {
	for _, env := range f.environments[fullName] {
		if env == name {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
}

func isNoun(s string) bool {
	return s == "secrets" || s == "variables"
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++

	path := strings.Trim(r.URL.Path, "/")
	parts := strings.Split(path, "/")
	n := len(parts)

	switch {
	case n == 4 && parts[0] == "repos" && parts[3] == "environments":
		f.envListCalls++
		var envs []map[string]string
		for _, name := range f.environments[parts[1]+"/"+parts[2]] {
			envs = append(envs, map[string]string{"name": name})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"total_count": len(envs), "environments": envs})

	case n == 5 && parts[0] == "repos" && parts[3] == "environments":
		fullName, name := parts[1]+"/"+parts[2], parts[4]
		switch r.Method {
		case http.MethodGet:
			if !f.hasEnvironment(fullName, name) {
				notFound(w)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"name": name})
		case http.MethodPut:
			f.envCreateCalls++
			if !f.hasEnvironment(fullName, name) {
				f.environments[fullName] = append(f.environments[fullName], name)
			}
			f.events = append(f.events, "environment "+fullName+"/"+name)
			writeJSON(w, http.StatusOK, map[string]string{"name": name})
		}

	case isNoun(parts[n-1]):
		f.serveCollection(w, r, path, parts[n-1])

	case n >= 2 && isNoun(parts[n-2]):
		f.serveItem(w, r, strings.Join(parts[:n-1], "/"), parts[n-2], parts[n-1])

	default:
		notFound(w)
	}
}

func (f *fakeGitHub) serveCollection(w http.ResponseWriter, r *http.Request, collection, noun string) {
	switch r.Method {
	case http.MethodGet:
		if f.failing[collection] {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "boom"})
			return
		}

		names := make([]string, 0, len(f.store[collection]))
		for name := range f.store[collection] {
			names = append(names, name)
		}
		sort.Strings(names)

		var entries []map[string]string
		for _, name := range names {
			e := f.store[collection][name]
			entry := map[string]string{"name": name}
			if noun == "variables" {
				entry["value"] = e.Value
			}
			if e.Visibility != "" {
				entry["visibility"] = e.Visibility
			}
			entries = append(entries, entry)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"total_count": len(entries), noun: entries})

	case http.MethodPost:
		var v provider.Variable
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &v); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		f.variableWrites++
		f.put(collection, v.Name, v.Value, v.Visibility)
		f.events = append(f.events, "variable "+collection+"/"+v.Name)
		w.WriteHeader(http.StatusCreated)
	}
}

func (f *fakeGitHub) serveItem(w http.ResponseWriter, r *http.Request, collection, noun, name string) {
	e, ok := f.store[collection][name]

	switch r.Method {
	case http.MethodGet:
		if !ok {
			notFound(w)
			return
		}
		out := map[string]string{"name": name}
		if noun == "variables" {
			out["value"] = e.Value
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPatch:
		if !ok {
			notFound(w)
			return
		}
		var v provider.Variable
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &v)
		f.variableWrites++
		f.put(collection, name, v.Value, v.Visibility)
		f.events = append(f.events, "variable "+collection+"/"+name)
		w.WriteHeader(http.StatusNoContent)
	}
}

// fakeSecretWriter stores secrets in the fake server the way gh would
type fakeSecretWriter struct {
	gh    *fakeGitHub
	mu    sync.Mutex
	calls int
	fail  map[string]error
	// failures served once per name before succeeding
	failOnce map[string]error
}

func (w *fakeSecretWriter) SetSecret(_ context.Context, spec provider.SecretSpec) error {
	w.mu.Lock()
	w.calls++
	if err, ok := w.failOnce[spec.Name]; ok {
		delete(w.failOnce, spec.Name)
		w.mu.Unlock()
		return err
	}
	err := w.fail[spec.Name]
	w.mu.Unlock()
	if err != nil {
		return err
	}

	w.gh.mu.Lock()
	defer w.gh.mu.Unlock()
	collection := spec.Collection()
	w.gh.put(collection, spec.Name, spec.Value, spec.Visibility)
	w.gh.events = append(w.gh.events, "secret "+collection+"/"+spec.Name)
	return nil
}

func (w *fakeSecretWriter) DeleteSecret(_ context.Context, spec provider.SecretSpec) error {
	w.gh.mu.Lock()
	defer w.gh.mu.Unlock()
	delete(w.gh.store[spec.Collection()], spec.Name)
	return nil
}

func (w *fakeSecretWriter) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type harness struct {
	gh      *fakeGitHub
	server  *httptest.Server
	source  *provider.Client
	target  *provider.Client
	secrets *fakeSecretWriter
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	gh := newFakeGitHub()
	server := httptest.NewServer(gh)
	t.Cleanup(server.Close)

	newClient := func(token string) *provider.Client {
		c, err := provider.NewClient(resource.Credential(token), server.URL+"/",
			provider.WithLimiter(rate.NewLimiter(rate.Inf, 0)),
			provider.WithLogger(quietLogger()))
		require.NoError(t, err)
		return c
	}

	return &harness{
		gh:      gh,
		server:  server,
		source:  newClient("source-token"),
		target:  newClient("target-token"),
		secrets: &fakeSecretWriter{gh: gh},
	}
}

func (h *harness) options(out io.Writer) Options {
	return Options{
		Source:       resource.NewCoordinates("src", "app", ""),
		Target:       resource.NewCoordinates("dst", "app", ""),
		SourceClient: h.source,
		TargetClient: h.target,
		Secrets:      h.secrets,
		Out:          out,
		Logger:       quietLogger(),
	}
}
