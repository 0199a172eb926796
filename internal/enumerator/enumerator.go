// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

// Package enumerator lists, probes and writes the entries of one category.
// A single Enumerator type serves every category; the behaviour differences
// come from the category descriptor.
package enumerator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/provider"
	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/resource"
	"github.com/sirupsen/logrus"
)

// Lister reads collections at the source
type Lister interface {
	ListSecrets(ctx context.Context, collection string) ([]*provider.Secret, error)
	ListVariables(ctx context.Context, collection string) ([]*provider.Variable, error)
}

// Prober checks for an entry at the target
type Prober interface {
	ItemExists(ctx context.Context, collection, name string) (bool, error)
}

// EnvironmentLister supplies the source environment names for
// environment scoped categories
type EnvironmentLister interface {
	SourceEnvironments(ctx context.Context) ([]string, error)
}

// Deps are the collaborators shared by all enumerators of a run
type Deps struct {
	Source       Lister
	Target       Prober
	Variables    provider.VariableWriter
	Secrets      provider.SecretWriter
	Environments EnvironmentLister
	Logger       logrus.FieldLogger
}

// Enumerator handles one category
type Enumerator struct {
	desc resource.Descriptor
	deps Deps
	log  logrus.FieldLogger
}

// New creates an enumerator for a category descriptor
func New(desc resource.Descriptor, deps Deps) *Enumerator {
	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Enumerator{
		desc: desc,
		deps: deps,
		log:  log.WithField("category", desc.Category),
	}
}

// Descriptor returns the category this enumerator serves
func (e *Enumerator) Descriptor() resource.Descriptor {
	return e.desc
}

// Enumerate lists the items of the category at src. It never fails hard: a
// missing collection yields no items, and a failed call is logged and
// reported alongside whatever items could be listed.
func (e *Enumerator) Enumerate(ctx context.Context, src resource.Coordinates) ([]resource.Item, error) {
	if !e.desc.RequiresEnvironment() {
		return e.enumerateAt(ctx, src)
	}

	if e.deps.Environments == nil {
		return nil, fmt.Errorf("%s: no environment source configured", e.desc.Category)
	}

	names, err := e.deps.Environments.SourceEnvironments(ctx)
	if err != nil {
		e.log.WithError(err).Warn("Could not list source environments")
		return nil, err
	}

	var items []resource.Item
	var errs []error
	for _, name := range names {
		found, err := e.enumerateAt(ctx, src.WithEnvironment(name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items = append(items, found...)
	}

	return items, errors.Join(errs...)
}

func (e *Enumerator) enumerateAt(ctx context.Context, src resource.Coordinates) ([]resource.Item, error) {
	collection, err := e.desc.Collection(src)
	if err != nil {
		return nil, err
	}

	var items []resource.Item

	if e.desc.Readable() {
		vars, err := e.deps.Source.ListVariables(ctx, collection)
		if err != nil {
			return e.soft(collection, err)
		}
		for _, v := range vars {
			items = append(items, resource.Item{
				Category:    e.desc.Category,
				Name:        v.Name,
				Environment: src.Environment,
				Value:       v.Value,
				HasValue:    true,
				Visibility:  v.Visibility,
				Restricted:  e.desc.HasVisibility() && resource.IsRestricted(v.Visibility),
			})
		}
	} else {
		secrets, err := e.deps.Source.ListSecrets(ctx, collection)
		if err != nil {
			return e.soft(collection, err)
		}
		for _, s := range secrets {
			items = append(items, resource.Item{
				Category:    e.desc.Category,
				Name:        s.Name,
				Environment: src.Environment,
				Visibility:  s.Visibility,
				Restricted:  e.desc.HasVisibility() && resource.IsRestricted(s.Visibility),
			})
		}
	}

	if len(items) == 0 {
		e.log.WithField("collection", collection).Debug("No items at source")
	}

	return items, nil
}

// soft maps a listing failure: absence is an empty list, anything else is
// logged with the failing call and returned
func (e *Enumerator) soft(collection string, err error) ([]resource.Item, error) {
	if errors.Is(err, provider.ErrNotFound) {
		e.log.WithField("collection", collection).Debug("Collection not found at source")
		return nil, nil
	}

	fields := logrus.Fields{"collection": collection}
	var reqErr *provider.RequestError
	if errors.As(err, &reqErr) {
		fields["method"] = reqErr.Method
		fields["endpoint"] = reqErr.Endpoint
	}
	e.log.WithFields(fields).WithError(err).Warn("Listing failed")

	return nil, err
}

// Exists reports whether the item is already present at dst
func (e *Enumerator) Exists(ctx context.Context, dst resource.Coordinates, item resource.Item) (bool, error) {
	collection, err := e.desc.Collection(e.at(dst, item))
	if err != nil {
		return false, err
	}
	return e.deps.Target.ItemExists(ctx, collection, item.Name)
}

// Apply writes the item with the given value at dst
func (e *Enumerator) Apply(ctx context.Context, dst resource.Coordinates, item resource.Item, value string) error {
	coords := e.at(dst, item)

	if e.desc.Readable() {
		collection, err := e.desc.Collection(coords)
		if err != nil {
			return err
		}
		v := &provider.Variable{Name: item.Name, Value: value}
		if e.desc.HasVisibility() {
			v.Visibility = item.TargetVisibility()
		}
		if err := e.deps.Variables.PutVariable(ctx, collection, v); err != nil {
			return fmt.Errorf("failed to write variable %s: %w", item.Key(), err)
		}
		return nil
	}

	spec := provider.SecretSpec{
		Name:        item.Name,
		Value:       value,
		App:         e.desc.App,
		Coordinates: coords,
		OrgLevel:    e.desc.HasVisibility(),
	}
	if spec.OrgLevel {
		spec.Visibility = item.TargetVisibility()
	}
	if err := e.deps.Secrets.SetSecret(ctx, spec); err != nil {
		return fmt.Errorf("failed to write secret %s: %w", item.Key(), err)
	}
	return nil
}

func (e *Enumerator) at(c resource.Coordinates, item resource.Item) resource.Coordinates {
	if e.desc.RequiresEnvironment() {
		return c.WithEnvironment(item.Environment)
	}
	c.Environment = ""
	return c
}
