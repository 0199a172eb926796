// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

// Package resource defines the categories of configuration entries that can be
// migrated and the locations they are migrated between.
package resource

import (
	"fmt"
	"net/url"
)

// Category identifies one kind of configuration entry
type Category string

// Supported categories, named by their scope token
const (
	RepoSecret           Category = "actionsreposecrets"
	RepoVariable         Category = "actionsrepovariables"
	EnvSecret            Category = "actionsenvsecrets"
	EnvVariable          Category = "actionsenvvariables"
	OrgSecret            Category = "actionsorgsecrets"
	OrgVariable          Category = "actionsorgvariables"
	DependabotRepoSecret Category = "dependabotreposecrets"
	DependabotOrgSecret  Category = "dependabotorgsecrets"
	CodespacesRepoSecret Category = "codespacesreposecrets"
	CodespacesOrgSecret  Category = "codespacesorgsecrets"
)

// Kind separates write-only secrets from readable variables
type Kind int

// Kind constants
const (
	KindSecret Kind = iota
	KindVariable
)

func (k Kind) String() string {
	switch k {
	case KindSecret:
		return "secret"
	case KindVariable:
		return "variable"
	default:
		return "unknown"
	}
}

// Scope is the level an entry is attached to
type Scope int

// Scope constants
const (
	ScopeRepo Scope = iota
	ScopeEnv
	ScopeOrg
)

func (s Scope) String() string {
	switch s {
	case ScopeRepo:
		return "repository"
	case ScopeEnv:
		return "environment"
	case ScopeOrg:
		return "organization"
	default:
		return "unknown"
	}
}

// App is the platform feature that owns a secret store
type App string

// App constants, matching the REST path segment and the gh --app flag
const (
	AppActions    App = "actions"
	AppDependabot App = "dependabot"
	AppCodespaces App = "codespaces"
)

// Descriptor is the static description of a category
type Descriptor struct {
	Category Category
	Alias    string
	Kind     Kind
	Scope    Scope
	App      App
}

// descriptors is ordered; "all" expands in this order.
var descriptors = []Descriptor{
	{Category: RepoSecret, Alias: "repo-secret", Kind: KindSecret, Scope: ScopeRepo, App: AppActions},
	{Category: RepoVariable, Alias: "repo-variable", Kind: KindVariable, Scope: ScopeRepo, App: AppActions},
	{Category: EnvSecret, Alias: "env-secret", Kind: KindSecret, Scope: ScopeEnv, App: AppActions},
	{Category: EnvVariable, Alias: "env-variable", Kind: KindVariable, Scope: ScopeEnv, App: AppActions},
	{Category: OrgSecret, Alias: "org-secret", Kind: KindSecret, Scope: ScopeOrg, App: AppActions},
	{Category: OrgVariable, Alias: "org-variable", Kind: KindVariable, Scope: ScopeOrg, App: AppActions},
	{Category: DependabotRepoSecret, Alias: "dependabot-repo-secret", Kind: KindSecret, Scope: ScopeRepo, App: AppDependabot},
	{Category: DependabotOrgSecret, Alias: "dependabot-org-secret", Kind: KindSecret, Scope: ScopeOrg, App: AppDependabot},
	{Category: CodespacesRepoSecret, Alias: "codespaces-repo-secret", Kind: KindSecret, Scope: ScopeRepo, App: AppCodespaces},
	{Category: CodespacesOrgSecret, Alias: "codespaces-org-secret", Kind: KindSecret, Scope: ScopeOrg, App: AppCodespaces},
}

// Descriptors returns all known category descriptors in their canonical order
func Descriptors() []Descriptor {
	out := make([]Descriptor, len(descriptors))
	copy(out, descriptors)
	return out
}

// Lookup returns the descriptor of a category
func Lookup(c Category) (Descriptor, bool) {
	for _, d := range descriptors {
		if d.Category == c {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Readable reports whether values of this category can be read back through the API
func (d Descriptor) Readable() bool {
	return d.Kind == KindVariable
}

// RequiresEnvironment reports whether an environment qualifier is needed
func (d Descriptor) RequiresEnvironment() bool {
	return d.Scope == ScopeEnv
}

// HasVisibility reports whether the organization visibility qualifier applies
func (d Descriptor) HasVisibility() bool {
	return d.Scope == ScopeOrg
}

// RequiresRepository reports whether coordinates must name a repository
func (d Descriptor) RequiresRepository() bool {
	return d.Scope == ScopeRepo || d.Scope == ScopeEnv
}

// Collection returns the REST collection path of this category at the given
// coordinates, e.g. "repos/org/repo/actions/secrets".
func (d Descriptor) Collection(c Coordinates) (string, error) {
	noun := "secrets"
	if d.Kind == KindVariable {
		noun = "variables"
	}

	switch d.Scope {
	case ScopeOrg:
		if c.Org == "" {
			return "", fmt.Errorf("%s requires an organization", d.Category)
		}
		return fmt.Sprintf("orgs/%s/%s/%s", c.Org, d.App, noun), nil
	case ScopeRepo:
		if c.Org == "" || c.Repo == "" {
			return "", fmt.Errorf("%s requires an organization and repository", d.Category)
		}
		return fmt.Sprintf("repos/%s/%s/%s/%s", c.Org, c.Repo, d.App, noun), nil
	case ScopeEnv:
		if c.Org == "" || c.Repo == "" || c.Environment == "" {
			return "", fmt.Errorf("%s requires an organization, repository and environment", d.Category)
		}
		return fmt.Sprintf("repos/%s/%s/environments/%s/%s", c.Org, c.Repo, url.PathEscape(c.Environment), noun), nil
	}

	return "", fmt.Errorf("unknown scope for %s", d.Category)
}

func (d Descriptor) String() string {
	return string(d.Category)
}
