package jsonapi

// ResourceBuilder provides a fluent API for building Resource objects.
type ResourceBuilder struct {
	r Resource
}

// NewResource creates a builder for a resource of the given type and id.
func NewResource(resourceType, id string) *ResourceBuilder {
	return &ResourceBuilder{r: Resource{Type: resourceType, ID: id}}
}

// Attr sets a single attribute.
func (b *ResourceBuilder) Attr(key string, value any) *ResourceBuilder {
	if b.r.Attributes == nil {
		b.r.Attributes = make(map[string]any)
	}
	b.r.Attributes[key] = value
	return b
}

// Attrs sets several attributes. The "id" key is skipped since the
// identity is carried by the resource itself.
func (b *ResourceBuilder) Attrs(attrs map[string]any) *ResourceBuilder {
	for k, v := range attrs {
		if k == "id" {
			continue
		}
		b.Attr(k, v)
	}
	return b
}

// Relationship sets a named relationship.
func (b *ResourceBuilder) Relationship(name string, rel Relationship) *ResourceBuilder {
	if b.r.Relationships == nil {
		b.r.Relationships = make(map[string]Relationship)
	}
	b.r.Relationships[name] = rel
	return b
}

// ToOne sets a to-one relationship. An empty id produces null linkage.
func (b *ResourceBuilder) ToOne(name, relType, relID string) *ResourceBuilder {
	if relID == "" {
		return b.Relationship(name, Relationship{Data: nil})
	}
	return b.Relationship(name, Relationship{Data: &ResourceIdentifier{Type: relType, ID: relID}})
}

// ToMany sets a to-many relationship. Order and duplicates are kept.
func (b *ResourceBuilder) ToMany(name, relType string, ids []string) *ResourceBuilder {
	identifiers := make([]ResourceIdentifier, len(ids))
	for i, id := range ids {
		identifiers[i] = ResourceIdentifier{Type: relType, ID: id}
	}
	return b.Relationship(name, Relationship{Data: identifiers})
}

// Meta adds a metadata entry to the resource.
func (b *ResourceBuilder) Meta(key string, value any) *ResourceBuilder {
	if b.r.Meta == nil {
		b.r.Meta = make(Meta)
	}
	b.r.Meta[key] = value
	return b
}

// Link sets the self link of the resource.
func (b *ResourceBuilder) Link(self string) *ResourceBuilder {
	b.r.Links = &Links{Self: self}
	return b
}

// Build returns the constructed Resource.
func (b *ResourceBuilder) Build() Resource {
	return b.r
}
