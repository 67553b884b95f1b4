package odm

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/artpar/docmap/core/schema"
)

// DefineAll defines the kinds described by defs. Base kinds are defined
// before the kinds extending them; kind-typed fields become embedded when
// the named kind is embedded and references otherwise. It returns the kinds
// in definition order.
func (c *Connection) DefineAll(defs []schema.KindDef) ([]*Kind, error) {
	byName := make(map[string]schema.KindDef, len(defs))
	var errs []error
	for _, def := range defs {
		if err := schema.ValidateKindDef(def); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", defSource(def), err))
			continue
		}
		if _, dup := byName[def.Name]; dup {
			errs = append(errs, fmt.Errorf("%s: kind %s defined twice", defSource(def), def.Name))
			continue
		}
		byName[def.Name] = def
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	order, err := extendsOrder(defs, byName)
	if err != nil {
		return nil, err
	}

	kindType := func(name string) (schema.Type, error) {
		if def, ok := byName[name]; ok {
			if def.Embedded {
				return schema.Embed(name), nil
			}
			return schema.Ref(name), nil
		}
		if k, ok := c.kinds.Get(name); ok {
			if k.embedded {
				return schema.Embed(name), nil
			}
			return schema.Ref(name), nil
		}
		return schema.Type{}, fmt.Errorf("%w: %s", ErrUnknownKind, name)
	}

	kinds := make([]*Kind, 0, len(order))
	for _, def := range order {
		k, err := c.defineKind(def, kindType)
		if err != nil {
			return kinds, fmt.Errorf("%s: %w", defSource(def), err)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func (c *Connection) defineKind(def schema.KindDef, kindType func(string) (schema.Type, error)) (*Kind, error) {
	decls := make(schema.Decls, 0, len(def.Fields))
	for _, f := range def.Fields {
		decl, err := f.Decl(kindType)
		if err != nil {
			return nil, err
		}
		decls = append(decls, decl)
	}

	var opts []KindOption
	if def.Collection != "" {
		opts = append(opts, Collection(def.Collection))
	}
	if def.Extends != "" {
		base, err := c.Kind(def.Extends)
		if err != nil {
			return nil, err
		}
		opts = append(opts, Extends(base))
	}
	if len(def.Migrations) > 0 {
		migrations := make([]Migration, len(def.Migrations))
		for i, step := range def.Migrations {
			migrations[i] = CompileMigration(step)
		}
		opts = append(opts, WithMigrations(migrations...))
	}

	if def.Embedded {
		return c.DefineEmbedded(def.Name, decls, opts...)
	}
	return c.Define(def.Name, decls, opts...)
}

// extendsOrder sorts defs so that every base precedes the kinds extending
// it. Bases that are not in defs must already be defined.
func extendsOrder(defs []schema.KindDef, byName map[string]schema.KindDef) ([]schema.KindDef, error) {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(defs))
	order := make([]schema.KindDef, 0, len(defs))

	var visit func(def schema.KindDef, path []string) error
	visit = func(def schema.KindDef, path []string) error {
		switch state[def.Name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("kind %s: cyclic extends: %s", def.Name, strings.Join(append(path, def.Name), " -> "))
		}
		state[def.Name] = visiting
		if base, ok := byName[def.Extends]; ok && def.Extends != "" {
			if err := visit(base, append(path, def.Name)); err != nil {
				return err
			}
		}
		state[def.Name] = done
		order = append(order, def)
		return nil
	}

	for _, def := range defs {
		if err := visit(def, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func defSource(def schema.KindDef) string {
	if def.Source != "" {
		return def.Source
	}
	return "kind " + def.Name
}

// CompileMigration turns a declarative step into a Migration.
//
//	rename:  moves each old key to its new name when present
//	set:     assigns the values unconditionally
//	unset:   removes the keys
//	default: assigns the values where the key is missing or null
func CompileMigration(step schema.MigrationStep) Migration {
	return func(doc map[string]any) (map[string]any, error) {
		out := make(map[string]any, len(doc))
		for k, v := range doc {
			out[k] = v
		}

		for _, from := range sortedKeys(step.Rename) {
			to := step.Rename[from]
			if from == schema.IDField || to == schema.IDField {
				return nil, fmt.Errorf("rename %s to %s: identity cannot be renamed", from, to)
			}
			if v, ok := out[from]; ok {
				delete(out, from)
				out[to] = v
			}
		}
		for _, key := range sortedKeys(step.Set) {
			out[key] = schema.CloneValue(step.Set[key])
		}
		for _, key := range step.Unset {
			delete(out, key)
		}
		for _, key := range sortedKeys(step.Default) {
			if v, ok := out[key]; !ok || v == nil {
				out[key] = schema.CloneValue(step.Default[key])
			}
		}
		return out, nil
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
