// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/resource"
)

// Credential keys, in lookup order per side
var (
	SourceTokenKeys = []string{"SOURCE_TOKEN", "GITHUB_TOKEN", "GH_TOKEN"}
	TargetTokenKeys = []string{"TARGET_TOKEN", "GITHUB_TOKEN", "GH_TOKEN"}
)

// CredentialsLoader resolves tokens from the environment and an optional
// KEY=VALUE credentials file
type CredentialsLoader struct {
	path   string
	values map[string]string
}

// NewCredentialsLoader creates a loader for the given file. An empty path
// means ".credentials" in the working directory.
func NewCredentialsLoader(path string) *CredentialsLoader {
	if path == "" {
		path = ".credentials"
	}

	return &CredentialsLoader{
		path:   path,
		values: make(map[string]string),
	}
}

// Path returns the credentials file location
func (c *CredentialsLoader) Path() string {
	return c.path
}

// LoadCredentials reads the credentials file. A missing file is not an error.
func (c *CredentialsLoader) LoadCredentials() error {
	file, err := os.Open(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open credentials file %s: %w", c.path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNumber := 0

	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			// never echo the line, it may hold a token
			return fmt.Errorf("invalid format in credentials file at line %d", lineNumber)
		}

		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))

		c.values[key] = value
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading credentials file: %w", err)
	}

	return nil
}

func unquote(value string) string {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return value[1 : len(value)-1]
		}
	}
	return value
}

// GetCredential returns a value, preferring the environment over the file
func (c *CredentialsLoader) GetCredential(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return c.values[key]
}

// Lookup returns the first non-empty credential among keys
func (c *CredentialsLoader) Lookup(keys ...string) resource.Credential {
	for _, key := range keys {
		if value := c.GetCredential(key); value != "" {
			return resource.Credential(value)
		}
	}
	return ""
}

// SourceToken returns the token used against the source
func (c *CredentialsLoader) SourceToken() resource.Credential {
	return c.Lookup(SourceTokenKeys...)
}

// TargetToken returns the token used against the target
func (c *CredentialsLoader) TargetToken() resource.Credential {
	return c.Lookup(TargetTokenKeys...)
}

// ListCredentials reports which known keys have a value
func (c *CredentialsLoader) ListCredentials() map[string]bool {
	credentials := make(map[string]bool)
	for _, key := range []string{"SOURCE_TOKEN", "TARGET_TOKEN", "GITHUB_TOKEN", "GH_TOKEN"} {
		credentials[key] = c.GetCredential(key) != ""
	}
	return credentials
}

// FindCredentialsFile looks for a credentials file in common locations
func FindCredentialsFile() string {
	home, _ := os.UserHomeDir()

	locations := []string{".credentials", ".env"}
	if home != "" {
		locations = append(locations,
			filepath.Join(home, ".config", "gh-config-migrate", "credentials"),
			filepath.Join(home, ".gh-config-migrate-credentials"),
		)
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}
