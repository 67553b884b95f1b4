package jsonapi

import (
	"encoding/json"
	"net/http"
)

// WriteDocument writes a JSON:API document to the response.
func WriteDocument(w http.ResponseWriter, status int, doc Document) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(doc)
}

// WriteResource writes a single resource response with its included
// resources.
func WriteResource(w http.ResponseWriter, status int, r Resource, included ...Resource) {
	doc := NewDocument().DataResource(r).Include(included...).Build()
	WriteDocument(w, status, doc)
}

// WriteCollection writes a collection response with optional paging.
func WriteCollection(w http.ResponseWriter, status int, resources []Resource, included []Resource, page *Page) {
	doc := NewDocument().DataCollection(resources).Include(included...).Page(page).Build()
	WriteDocument(w, status, doc)
}

// WriteMeta writes a response with only metadata (no data).
func WriteMeta(w http.ResponseWriter, status int, meta Meta) {
	WriteDocument(w, status, NewDocument().MetaAll(meta).Build())
}

// WriteError writes an error response with one or more errors.
// The HTTP status is derived from the first error's status field.
func WriteError(w http.ResponseWriter, errs ...Error) {
	if len(errs) == 0 {
		WriteDocument(w, http.StatusInternalServerError, NewErrorDocument(ErrInternal("")))
		return
	}

	status := errs[0].StatusCode()
	if status == 0 {
		status = http.StatusInternalServerError
	}

	WriteDocument(w, status, NewErrorDocument(errs...))
}

// WriteBadRequest writes a 400 Bad Request error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, ErrBadRequest(detail))
}

// WriteMethodNotAllowed writes a 405 error with an Allow header.
func WriteMethodNotAllowed(w http.ResponseWriter, method string, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	WriteError(w, ErrMethodNotAllowed(method))
}
