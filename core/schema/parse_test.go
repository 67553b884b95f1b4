package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	yaml := `
kind: Data
collection: data
fields:
  number: number
  source: { type: string, choices: [a, b], default: a, required: true }
  values: [number]
  tags: []
  owner: User
  score: { type: float, min: 0, max: 10 }
  code: { type: string, match: "^[A-Z]+$", unique: true, private: true }
migrations:
  - rename: { x: y }
  - set: { source: a }
  - unset: [legacy]
  - default: { count: 0 }
`

	def, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if def.Name != "Data" {
		t.Errorf("Name = %q, want %q", def.Name, "Data")
	}
	if def.Collection != "data" {
		t.Errorf("Collection = %q, want %q", def.Collection, "data")
	}

	names := make([]string, len(def.Fields))
	for i, f := range def.Fields {
		names[i] = f.Name
	}
	if got := strings.Join(names, ","); got != "number,source,values,tags,owner,score,code" {
		t.Errorf("field order = %s", got)
	}

	source := def.Fields[1]
	if source.TypeName != "string" || !source.Required || source.Default != "a" || len(source.Choices) != 2 {
		t.Errorf("source = %+v", source)
	}

	values := def.Fields[2]
	if !values.Array || values.TypeName != "number" {
		t.Errorf("values = %+v", values)
	}

	tags := def.Fields[3]
	if !tags.Array || tags.TypeName != "" {
		t.Errorf("tags = %+v", tags)
	}

	score := def.Fields[5]
	if score.Min == nil || *score.Min != 0 || score.Max == nil || *score.Max != 10 {
		t.Errorf("score bounds = %v, %v", score.Min, score.Max)
	}

	code := def.Fields[6]
	if !code.Unique || !code.Private || code.Match != "^[A-Z]+$" {
		t.Errorf("code = %+v", code)
	}

	if len(def.Migrations) != 4 {
		t.Fatalf("Migrations = %d, want 4", len(def.Migrations))
	}
	if def.Migrations[0].Rename["x"] != "y" {
		t.Errorf("rename step = %+v", def.Migrations[0])
	}
	if len(def.Migrations[2].Unset) != 1 || def.Migrations[2].Unset[0] != "legacy" {
		t.Errorf("unset step = %+v", def.Migrations[2])
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing kind",
			yaml:    "fields:\n  a: string\n",
			wantErr: "kind name is required",
		},
		{
			name:    "no fields",
			yaml:    "kind: Empty\n",
			wantErr: "at least one field",
		},
		{
			name:    "underscore field",
			yaml:    "kind: A\nfields:\n  _secret: string\n",
			wantErr: "not a valid identifier",
		},
		{
			name:    "two array types",
			yaml:    "kind: A\nfields:\n  a: [string, number]\n",
			wantErr: "only one type",
		},
		{
			name:    "missing type",
			yaml:    "kind: A\nfields:\n  a: { required: true }\n",
			wantErr: "type is required",
		},
		{
			name:    "bad pattern",
			yaml:    "kind: A\nfields:\n  a: { type: string, match: \"[\" }\n",
			wantErr: "invalid match pattern",
		},
		{
			name:    "ambiguous migration",
			yaml:    "kind: A\nfields:\n  a: string\nmigrations:\n  - { rename: { a: b }, unset: [c] }\n",
			wantErr: "exactly one of",
		},
		{
			name:    "fields not a mapping",
			yaml:    "kind: A\nfields: [a, b]\n",
			wantErr: "fields must be a mapping",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseExtendsWithoutFields(t *testing.T) {
	def, err := Parse([]byte("kind: Admin\nextends: User\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if def.Extends != "User" || len(def.Fields) != 0 {
		t.Errorf("def = %+v", def)
	}
}

func TestParseDir(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	files := map[string]string{
		filepath.Join(dir, "user.yaml"):  "kind: User\nfields:\n  name: string\n",
		filepath.Join(sub, "post.yml"):   "kind: Post\nfields:\n  author: User\n",
		filepath.Join(dir, "README.txt"): "not a kind",
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	defs, err := ParseDir(dir)
	if err != nil {
		t.Fatalf("ParseDir failed: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("ParseDir returned %d definitions, want 2", len(defs))
	}

	seen := map[string]string{}
	for _, d := range defs {
		seen[d.Name] = d.Source
	}
	if seen["User"] == "" || seen["Post"] == "" {
		t.Errorf("definitions = %v", seen)
	}
}

func TestFieldDefDecl(t *testing.T) {
	kinds := func(name string) (Type, error) {
		switch name {
		case "User":
			return Ref("User"), nil
		case "Address":
			return Embed("Address"), nil
		}
		return Type{}, fmt.Errorf("unknown kind %q", name)
	}

	tests := []struct {
		name    string
		def     FieldDef
		want    Type
		wantErr bool
	}{
		{"primitive", FieldDef{Name: "n", TypeName: "number"}, Number, false},
		{"typed array", FieldDef{Name: "n", TypeName: "number", Array: true}, ArrayOf(Number), false},
		{"any array", FieldDef{Name: "n", Array: true}, Array, false},
		{"reference", FieldDef{Name: "o", TypeName: "User"}, Ref("User"), false},
		{"embedded array", FieldDef{Name: "a", TypeName: "Address", Array: true}, ArrayOf(Embed("Address")), false},
		{"unknown kind", FieldDef{Name: "x", TypeName: "Nope"}, Type{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decl, err := tt.def.Decl(kinds)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Decl() should fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("Decl() error = %v", err)
			}
			f, err := NormalizeType(decl.Type)
			if err != nil {
				t.Fatalf("NormalizeType() error = %v", err)
			}
			if !f.Type.Equal(tt.want) {
				t.Errorf("type = %v, want %v", f.Type, tt.want)
			}
		})
	}
}

func TestFieldDefDeclMatch(t *testing.T) {
	decl, err := FieldDef{Name: "code", TypeName: "string", Match: "^[A-Z]+$"}.Decl(nil)
	if err != nil {
		t.Fatalf("Decl() error = %v", err)
	}
	f := decl.Type.(Field)
	if f.Match == nil || !f.Match.MatchString("ABC") || f.Match.MatchString("abc") {
		t.Errorf("Match = %v", f.Match)
	}
}
