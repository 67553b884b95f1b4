/*
Package schema defines the field vocabulary of record kinds.

A kind declares its fields as an ordered list of declarations. Each
declaration is either a bare type or a full field descriptor; both are
resolved once by NormalizeType into a Field, so nothing downstream has to
branch on the shorthand.

	s, err := schema.Build(schema.Decls{
		{Name: "number", Type: schema.Number},
		{Name: "source", Type: schema.Field{
			Type:    schema.String,
			Choices: []any{"a", "b"},
			Default: "a",
		}},
		{Name: "tags", Type: []schema.Type{schema.String}},
		{Name: "owner", Type: schema.Ref("User")},
	})

# Types

  - String, Number, Boolean, Binary, Date, Object: primitives
  - Array: array of any primitive; ArrayOf(t) for a typed array
  - ID: the backend-native identity
  - Ref(kind): a reference to a document of another kind
  - Embed(kind): an identity-less record stored inline

References are by kind name so kinds may refer to each other cyclically.

# Kind Definitions

Kinds can also be declared in YAML:

	kind: Data
	collection: data
	fields:
	  number: number
	  source: { type: string, choices: [a, b], default: a }
	  values: [number]
	  owner: User
	migrations:
	  - rename: { x: y }

Field order in the file is the declaration order. Load definitions with
ParseFile or ParseDir; all definitions are validated on parse.
*/
package schema
