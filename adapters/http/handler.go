// Package http provides the read-only browse API over a docmap connection.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/artpar/docmap/core/odm"
	"github.com/artpar/docmap/core/storage"
	"github.com/artpar/docmap/core/validation"
	"github.com/artpar/docmap/pkg/jsonapi"
)

// VersionResponse represents the version endpoint response.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// BrowseHandler serves records of the kinds defined on a connection.
type BrowseHandler struct {
	conn    *odm.Connection
	logger  zerolog.Logger
	version string
}

// NewBrowseHandler creates a handler over conn.
func NewBrowseHandler(conn *odm.Connection, logger zerolog.Logger, version string) *BrowseHandler {
	return &BrowseHandler{
		conn:    conn,
		logger:  logger,
		version: version,
	}
}

// Health reports ok while the connection accepts work.
func (h *BrowseHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := h.ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"in_flight": h.conn.InFlight(),
	})
}

// ping runs a count on the first persisted kind so a closed connection
// or a broken backend shows up as unhealthy.
func (h *BrowseHandler) ping(ctx context.Context) error {
	for _, k := range h.conn.Kinds() {
		if k.IsEmbedded() {
			continue
		}
		_, err := k.Count(ctx, nil)
		return err
	}
	return nil
}

// Version returns the service version.
func (h *BrowseHandler) Version(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(VersionResponse{
		Version: h.version,
		Service: "docmap",
	})
}

// Kinds lists the defined kinds with their schema.
func (h *BrowseHandler) Kinds(w http.ResponseWriter, r *http.Request) {
	kinds := h.conn.Kinds()
	resources := make([]jsonapi.Resource, 0, len(kinds))
	for _, k := range kinds {
		resources = append(resources, kindResource(k))
	}
	jsonapi.WriteCollection(w, http.StatusOK, resources, nil, nil)
}

// Documents lists records of one kind.
//
// Query parameters: filter (JSON object), sort (comma separated, "-" for
// descending), skip, limit and populate ("false", or a comma separated
// list of reference fields).
func (h *BrowseHandler) Documents(w http.ResponseWriter, r *http.Request) {
	k, ok := h.kind(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()

	filter, err := parseFilter(query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	skip, limit, err := jsonapi.ParsePage(query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	opts := append(populateOptions(query), odm.Skip(skip), odm.Limit(limit))
	if sort := parseSort(query); len(sort) > 0 {
		opts = append(opts, odm.Sort(sort...))
	}

	ctx := r.Context()
	total, err := k.Count(ctx, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	docs, err := k.Find(ctx, filter, opts...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var inc included
	resources := make([]jsonapi.Resource, len(docs))
	for i, d := range docs {
		resources[i] = inc.resource(d)
	}

	page := &jsonapi.Page{
		Total:   total,
		Skip:    skip,
		Limit:   limit,
		BaseURL: r.URL.RequestURI(),
	}
	jsonapi.WriteCollection(w, http.StatusOK, resources, inc.list, page)
}

// Document returns one record by identity.
func (h *BrowseHandler) Document(w http.ResponseWriter, r *http.Request) {
	k, ok := h.kind(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	d, err := k.FindOne(r.Context(), storage.Filter{"_id": id}, populateOptions(r.URL.Query())...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if d == nil {
		jsonapi.WriteError(w, jsonapi.ErrNotFoundWithID(k.Name(), id))
		return
	}

	var inc included
	jsonapi.WriteResource(w, http.StatusOK, inc.resource(d), inc.list...)
}

// Count returns the number of matching records in the meta object.
func (h *BrowseHandler) Count(w http.ResponseWriter, r *http.Request) {
	k, ok := h.kind(w, r)
	if !ok {
		return
	}
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	n, err := k.Count(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonapi.WriteMeta(w, http.StatusOK, jsonapi.Meta{"kind": k.Name(), "count": n})
}

// Migrate brings the stored records of one kind to its current version.
func (h *BrowseHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	k, ok := h.kind(w, r)
	if !ok {
		return
	}

	n, err := k.Migrate(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info().
		Str("kind", k.Name()).
		Int("documents", n).
		Str("request_id", middleware.GetReqID(r.Context())).
		Msg("migrated via api")
	jsonapi.WriteMeta(w, http.StatusOK, jsonapi.Meta{
		"kind":     k.Name(),
		"migrated": n,
		"version":  k.Version(),
	})
}

func (h *BrowseHandler) kind(w http.ResponseWriter, r *http.Request) (*odm.Kind, bool) {
	name := chi.URLParam(r, "kind")
	k, err := h.conn.Kind(name)
	if err != nil {
		jsonapi.WriteError(w, jsonapi.ErrUnknownKind(name))
		return nil, false
	}
	if k.IsEmbedded() {
		jsonapi.WriteError(w, jsonapi.NewError(http.StatusNotFound, "embedded_kind", "Embedded Kind").
			Detailf("Kind '%s' is embedded and has no stored records", name).
			Build())
		return nil, false
	}
	return k, true
}

// writeError maps an operation error onto a JSON:API error response.
func (h *BrowseHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := errorFor(err)
	if apiErr.StatusCode() >= http.StatusInternalServerError {
		h.logger.Error().
			Err(err).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("browse request failed")
	}
	jsonapi.WriteError(w, apiErr)
}

func errorFor(err error) jsonapi.Error {
	var (
		paramErr   *jsonapi.ParamError
		validErr   *validation.ValidationError
		dupErr     *storage.DuplicateKeyError
		versionErr *odm.VersionMismatchError
		migrateErr *odm.MigrationError
	)
	switch {
	case errors.As(err, &paramErr):
		return paramErr.JSONAPIError()
	case errors.As(err, &validErr):
		return jsonapi.ErrValidation(validErr.Field, validErr.Error())
	case errors.As(err, &migrateErr):
		return jsonapi.ErrMigrationFailed(migrateErr.Error())
	case errors.As(err, &dupErr):
		return jsonapi.ErrDuplicateKey(dupErr.Field, dupErr.Value)
	case errors.As(err, &versionErr):
		return jsonapi.ErrVersionMismatch(versionErr.Stored, versionErr.Current)
	case errors.Is(err, odm.ErrClosed), errors.Is(err, storage.ErrClosed):
		return jsonapi.ErrServiceUnavailable("connection closed")
	case errors.Is(err, context.DeadlineExceeded):
		return jsonapi.ErrServiceUnavailable("request timed out")
	}
	return jsonapi.ErrInternal(err.Error())
}

func parseFilter(query url.Values) (storage.Filter, error) {
	raw := query.Get("filter")
	if raw == "" {
		return nil, nil
	}
	var filter storage.Filter
	if err := json.Unmarshal([]byte(raw), &filter); err != nil {
		return nil, &jsonapi.ParamError{Param: "filter", Value: raw}
	}
	return filter, nil
}

func parseSort(query url.Values) []string {
	return splitList(query.Get("sort"))
}

func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func populateOptions(query url.Values) []odm.QueryOption {
	raw, ok := query["populate"]
	if !ok {
		return nil
	}
	switch v := strings.TrimSpace(strings.Join(raw, ",")); v {
	case "false", "0", "none":
		return []odm.QueryOption{odm.NoPopulate()}
	case "", "true", "1", "all":
		return []odm.QueryOption{odm.Populate()}
	default:
		return []odm.QueryOption{odm.Populate(splitList(v)...)}
	}
}

func kindResource(k *odm.Kind) jsonapi.Resource {
	fields := make([]map[string]any, 0, k.Schema().Len())
	for _, f := range k.Schema().Fields() {
		entry := map[string]any{
			"name": f.Name,
			"type": f.Type.String(),
		}
		if f.Required {
			entry["required"] = true
		}
		if f.Unique {
			entry["unique"] = true
		}
		if f.Private {
			entry["private"] = true
		}
		fields = append(fields, entry)
	}

	b := jsonapi.NewResource("kinds", k.Name()).
		Attr("collection", k.Collection()).
		Attr("embedded", k.IsEmbedded()).
		Attr("version", k.Version()).
		Attr("fields", fields)
	if base := k.Base(); base != nil {
		b.ToOne("extends", "kinds", base.Name())
	}
	if !k.IsEmbedded() {
		b.Link(fmt.Sprintf("/kinds/%s/documents", url.PathEscape(k.Name())))
	}
	return b.Build()
}
