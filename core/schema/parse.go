package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// KindDef is a record kind declared in a YAML file.
type KindDef struct {
	// Name is the kind name (e.g., "User").
	Name string

	// Collection overrides the storage collection. Defaults to Name.
	Collection string

	// Embedded kinds have no identity and are stored inline.
	Embedded bool

	// Extends names a base kind whose fields are inherited.
	Extends string

	// Fields in declaration order.
	Fields []FieldDef

	// Migrations bring stored documents up to this definition, oldest first.
	Migrations []MigrationStep

	// Source is the file the definition was read from, if any.
	Source string
}

// FieldDef is a field as written in a kind definition.
type FieldDef struct {
	Name string

	// TypeName is a primitive type name or a kind name. Empty with Array set
	// means an array of any primitive.
	TypeName string
	Array    bool

	Default  any
	Required bool
	Choices  []any
	Min      *float64
	Max      *float64
	Match    string
	Unique   bool
	Private  bool
}

// MigrationStep is one declarative migration. Exactly one operation is set.
type MigrationStep struct {
	Rename  map[string]string `yaml:"rename,omitempty"`
	Set     map[string]any    `yaml:"set,omitempty"`
	Unset   []string          `yaml:"unset,omitempty"`
	Default map[string]any    `yaml:"default,omitempty"`
}

type rawKind struct {
	Kind       string          `yaml:"kind"`
	Collection string          `yaml:"collection,omitempty"`
	Embedded   bool            `yaml:"embedded,omitempty"`
	Extends    string          `yaml:"extends,omitempty"`
	Fields     yaml.Node       `yaml:"fields"`
	Migrations []MigrationStep `yaml:"migrations,omitempty"`
}

type rawField struct {
	Type     yaml.Node `yaml:"type"`
	Default  any       `yaml:"default,omitempty"`
	Required bool      `yaml:"required,omitempty"`
	Choices  []any     `yaml:"choices,omitempty"`
	Min      *float64  `yaml:"min,omitempty"`
	Max      *float64  `yaml:"max,omitempty"`
	Match    string    `yaml:"match,omitempty"`
	Unique   bool      `yaml:"unique,omitempty"`
	Private  bool      `yaml:"private,omitempty"`
}

// ParseFile parses a kind definition from a YAML file.
func ParseFile(path string) (KindDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return KindDef{}, fmt.Errorf("read file %s: %w", path, err)
	}

	def, err := Parse(data)
	if err != nil {
		return KindDef{}, fmt.Errorf("%s: %w", path, err)
	}
	def.Source = path
	return def, nil
}

// Parse parses a kind definition from YAML bytes.
func Parse(data []byte) (KindDef, error) {
	var raw rawKind
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return KindDef{}, fmt.Errorf("parse yaml: %w", err)
	}

	def := KindDef{
		Name:       raw.Kind,
		Collection: raw.Collection,
		Embedded:   raw.Embedded,
		Extends:    raw.Extends,
		Migrations: raw.Migrations,
	}

	fields, err := parseFields(&raw.Fields)
	if err != nil {
		return KindDef{}, fmt.Errorf("kind %q: %w", raw.Kind, err)
	}
	def.Fields = fields

	if err := ValidateKindDef(def); err != nil {
		return KindDef{}, fmt.Errorf("validate kind %q: %w", def.Name, err)
	}

	return def, nil
}

// ParseDir parses all kind definitions in a directory, including subdirectories.
func ParseDir(dir string) ([]KindDef, error) {
	var defs []KindDef

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			sub, err := ParseDir(path)
			if err != nil {
				return nil, err
			}
			defs = append(defs, sub...)
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		def, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	return defs, nil
}

// parseFields walks the fields mapping node so declaration order survives.
func parseFields(node *yaml.Node) ([]FieldDef, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("fields must be a mapping (line %d)", node.Line)
	}

	fields := make([]FieldDef, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		f, err := parseField(name, node.Content[i+1])
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func parseField(name string, node *yaml.Node) (FieldDef, error) {
	f := FieldDef{Name: name}

	switch node.Kind {
	case yaml.ScalarNode, yaml.SequenceNode:
		if err := parseTypeNode(&f, node); err != nil {
			return FieldDef{}, fmt.Errorf("field %q: %w", name, err)
		}
	case yaml.MappingNode:
		var raw rawField
		if err := node.Decode(&raw); err != nil {
			return FieldDef{}, fmt.Errorf("field %q: %w", name, err)
		}
		if err := parseTypeNode(&f, &raw.Type); err != nil {
			return FieldDef{}, fmt.Errorf("field %q: %w", name, err)
		}
		f.Default = raw.Default
		f.Required = raw.Required
		f.Choices = raw.Choices
		f.Min = raw.Min
		f.Max = raw.Max
		f.Match = raw.Match
		f.Unique = raw.Unique
		f.Private = raw.Private
	default:
		return FieldDef{}, fmt.Errorf("field %q: unsupported declaration (line %d)", name, node.Line)
	}

	return f, nil
}

func parseTypeNode(f *FieldDef, node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "" {
			return fmt.Errorf("type is required")
		}
		f.TypeName = node.Value
		return nil
	case yaml.SequenceNode:
		f.Array = true
		switch len(node.Content) {
		case 0:
			return nil
		case 1:
			if node.Content[0].Kind != yaml.ScalarNode {
				return fmt.Errorf("array element type must be a name")
			}
			f.TypeName = node.Content[0].Value
			return nil
		}
		return fmt.Errorf("only one type can be specified in arrays, got %d", len(node.Content))
	case 0:
		return fmt.Errorf("type is required")
	}
	return fmt.Errorf("unsupported type declaration (line %d)", node.Line)
}

// ValidateKindDef validates a kind definition.
func ValidateKindDef(def KindDef) error {
	var errs []string

	if def.Name == "" {
		errs = append(errs, "kind name is required")
	} else if !isValidIdentifier(def.Name) {
		errs = append(errs, fmt.Sprintf("kind name %q is not a valid identifier", def.Name))
	}

	if def.Collection != "" && !isValidIdentifier(def.Collection) {
		errs = append(errs, fmt.Sprintf("collection %q is not a valid identifier", def.Collection))
	}

	if len(def.Fields) == 0 && def.Extends == "" {
		errs = append(errs, "fields must have at least one field")
	}

	seen := make(map[string]bool)
	for _, f := range def.Fields {
		if !isValidIdentifier(f.Name) || strings.HasPrefix(f.Name, "_") {
			errs = append(errs, fmt.Sprintf("field name %q is not a valid identifier", f.Name))
		}
		if seen[f.Name] {
			errs = append(errs, fmt.Sprintf("field %q declared twice", f.Name))
		}
		seen[f.Name] = true

		if f.Match != "" {
			if _, err := regexp.Compile(f.Match); err != nil {
				errs = append(errs, fmt.Sprintf("field %q: invalid match pattern: %v", f.Name, err))
			}
		}
	}

	for i, step := range def.Migrations {
		ops := 0
		if len(step.Rename) > 0 {
			ops++
		}
		if len(step.Set) > 0 {
			ops++
		}
		if len(step.Unset) > 0 {
			ops++
		}
		if len(step.Default) > 0 {
			ops++
		}
		if ops != 1 {
			errs = append(errs, fmt.Sprintf("migration %d must have exactly one of rename, set, unset, default", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Decl resolves the definition into a declaration. kindType maps a non
// primitive type name to a Ref or Embed type.
func (f FieldDef) Decl(kindType func(name string) (Type, error)) (Decl, error) {
	var t Type
	switch {
	case f.TypeName == "":
		t = Array
	default:
		elem, ok := ParseTypeName(f.TypeName)
		if !ok {
			var err error
			elem, err = kindType(f.TypeName)
			if err != nil {
				return Decl{}, fmt.Errorf("field %q: %w", f.Name, err)
			}
		}
		t = elem
		if f.Array {
			t = ArrayOf(elem)
		}
	}

	field := Field{
		Type:     t,
		Default:  f.Default,
		Required: f.Required,
		Choices:  f.Choices,
		Min:      f.Min,
		Max:      f.Max,
		Unique:   f.Unique,
		Private:  f.Private,
	}
	if f.Match != "" {
		re, err := regexp.Compile(f.Match)
		if err != nil {
			return Decl{}, fmt.Errorf("field %q: invalid match pattern: %w", f.Name, err)
		}
		field.Match = re
	}

	return Decl{Name: f.Name, Type: field}, nil
}

func isValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_':
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
