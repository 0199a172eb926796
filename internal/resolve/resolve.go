// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

// Package resolve decides which value is written for a migrated item.
package resolve

import (
	"context"
	"fmt"

	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/provider"
	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/resource"
)

// DefaultPlaceholder is written for secrets whose value cannot be read
const DefaultPlaceholder = "PLACEHOLDER_VALUE"

// Resolution is a resolved value and whether it is a stand-in
type Resolution struct {
	Value       string
	Placeholder bool
}

// Resolver produces the value to write for an item
type Resolver interface {
	Resolve(ctx context.Context, item resource.Item) (Resolution, error)
}

// Placeholder always returns the same constant
type Placeholder struct {
	Value string
}

// NewPlaceholder returns a placeholder resolver for value. The empty string is
// a valid placeholder.
func NewPlaceholder(value string) Placeholder {
	return Placeholder{Value: value}
}

// Resolve implements Resolver
func (p Placeholder) Resolve(context.Context, resource.Item) (Resolution, error) {
	return Resolution{Value: p.Value, Placeholder: true}, nil
}

// VariableReader reads single variables at the source
type VariableReader interface {
	GetVariable(ctx context.Context, collection, name string) (*provider.Variable, error)
}

// DirectRead copies variable values verbatim from the source
type DirectRead struct {
	source VariableReader
	coords resource.Coordinates
}

// NewDirectRead creates a direct read resolver against the source location
func NewDirectRead(source VariableReader, coords resource.Coordinates) *DirectRead {
	return &DirectRead{source: source, coords: coords}
}

// Resolve returns the value captured at enumeration time, or reads it
func (d *DirectRead) Resolve(ctx context.Context, item resource.Item) (Resolution, error) {
	if item.HasValue {
		return Resolution{Value: item.Value}, nil
	}

	desc, ok := resource.Lookup(item.Category)
	if !ok {
		return Resolution{}, fmt.Errorf("unknown category %q", item.Category)
	}
	if !desc.Readable() {
		return Resolution{}, fmt.Errorf("%s values cannot be read directly", desc.Category)
	}

	coords := d.coords
	if desc.RequiresEnvironment() {
		coords = coords.WithEnvironment(item.Environment)
	}
	collection, err := desc.Collection(coords)
	if err != nil {
		return Resolution{}, err
	}

	v, err := d.source.GetVariable(ctx, collection, item.Name)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to read %s: %w", item.Key(), err)
	}
	return Resolution{Value: v.Value}, nil
}

// Strategy picks a resolver per category kind
type Strategy struct {
	Secrets   Resolver
	Variables Resolver
}

// For returns the resolver serving a category
func (s Strategy) For(d resource.Descriptor) Resolver {
	if d.Readable() {
		return s.Variables
	}
	return s.Secrets
}
