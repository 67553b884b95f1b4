package jsonapi

// DocumentBuilder provides a fluent API for building JSON:API documents.
type DocumentBuilder struct {
	doc Document
}

// NewDocument creates a new DocumentBuilder.
func NewDocument() *DocumentBuilder {
	return &DocumentBuilder{}
}

// DataResource sets a single resource as the primary data.
func (b *DocumentBuilder) DataResource(r Resource) *DocumentBuilder {
	b.doc.Data = r
	return b
}

// DataCollection sets a list of resources as the primary data. A nil
// slice is written as an empty array, never as null.
func (b *DocumentBuilder) DataCollection(resources []Resource) *DocumentBuilder {
	if resources == nil {
		resources = []Resource{}
	}
	b.doc.Data = resources
	return b
}

// Errors sets the error objects of the document.
func (b *DocumentBuilder) Errors(errors ...Error) *DocumentBuilder {
	b.doc.Errors = append(b.doc.Errors, errors...)
	return b
}

// Meta adds a single metadata entry.
func (b *DocumentBuilder) Meta(key string, value any) *DocumentBuilder {
	if b.doc.Meta == nil {
		b.doc.Meta = make(Meta)
	}
	b.doc.Meta[key] = value
	return b
}

// MetaAll merges the given metadata into the document.
func (b *DocumentBuilder) MetaAll(meta Meta) *DocumentBuilder {
	for k, v := range meta {
		b.Meta(k, v)
	}
	return b
}

// Page adds the paging links and metadata of p.
func (b *DocumentBuilder) Page(p *Page) *DocumentBuilder {
	if p == nil {
		return b
	}
	b.doc.Links = p.Links()
	return b.MetaAll(p.Meta())
}

// Include appends resources to the compound document, skipping any
// type/id pair already present.
func (b *DocumentBuilder) Include(resources ...Resource) *DocumentBuilder {
	for _, r := range resources {
		if b.included(r.Type, r.ID) {
			continue
		}
		b.doc.Included = append(b.doc.Included, r)
	}
	return b
}

func (b *DocumentBuilder) included(resourceType, id string) bool {
	for _, r := range b.doc.Included {
		if r.Type == resourceType && r.ID == id {
			return true
		}
	}
	return false
}

// JSONAPI adds the version object.
func (b *DocumentBuilder) JSONAPI() *DocumentBuilder {
	b.doc.JSONAPI = &JSONAPI{Version: Version}
	return b
}

// Build returns the constructed Document.
func (b *DocumentBuilder) Build() Document {
	return b.doc
}

// NewErrorDocument creates a document holding only errors.
func NewErrorDocument(errors ...Error) Document {
	return NewDocument().Errors(errors...).Build()
}
