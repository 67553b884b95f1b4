package odm

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/artpar/docmap/core/events"
	"github.com/artpar/docmap/core/schema"
	"github.com/artpar/docmap/core/storage"
)

// Migration upgrades a stored document by one version. It receives the
// document without its version stamp and returns the upgraded document.
// The identity cannot be changed.
type Migration func(doc map[string]any) (map[string]any, error)

// Version is the current schema version of the kind: the number of
// migrations in its chain.
func (k *Kind) Version() int {
	return len(k.migrations)
}

// storedVersion reads the version stamp of a stored document. A missing
// stamp is version 0.
func storedVersion(doc storage.Document) int {
	f, ok := schema.ToFloat(doc[schema.VersionField])
	if !ok || math.IsNaN(f) {
		return 0
	}
	return int(f)
}

func storedID(doc storage.Document) string {
	id, _ := doc[schema.IDField].(string)
	return id
}

// checkVersion refuses documents not written by the current schema.
func (k *Kind) checkVersion(doc storage.Document) error {
	v := storedVersion(doc)
	if v == k.Version() {
		return nil
	}
	return &VersionMismatchError{
		Kind:    k.name,
		ID:      storedID(doc),
		Stored:  v,
		Current: k.Version(),
	}
}

// Migrate brings every stored document of the kind to the current version
// and returns the number of documents rewritten. Unique indexes are removed
// while documents are rewritten and rebuilt afterwards; a rebuild that hits
// duplicate values fails with a *MigrationError and leaves no unique index.
// Running Migrate on an up-to-date collection does nothing.
func (k *Kind) Migrate(ctx context.Context) (int, error) {
	if k.embedded {
		return 0, ErrEmbedded
	}
	var n int
	err := k.conn.run(ctx, k.name, "migrate", func(ctx context.Context) error {
		var err error
		n, err = k.migrate(ctx)
		return err
	})
	return n, err
}

func (k *Kind) migrate(ctx context.Context) (int, error) {
	backend := k.conn.backend
	current := k.Version()

	stale, err := backend.Find(ctx, k.collection, storage.Filter{
		schema.VersionField: map[string]any{"$ne": current},
	}, storage.FindOptions{})
	if err != nil {
		return 0, fmt.Errorf("migrate %s: %w", k.name, err)
	}

	pending := stale[:0]
	for _, doc := range stale {
		v := storedVersion(doc)
		if v == current {
			continue
		}
		if v > current {
			return 0, &VersionMismatchError{Kind: k.name, ID: storedID(doc), Stored: v, Current: current}
		}
		pending = append(pending, doc)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	logger := k.conn.logger.With().Str("kind", k.name).Int("version", current).Logger()
	logger.Info().Int("documents", len(pending)).Msg("migrating")

	if err := k.dropIndexes(ctx); err != nil {
		return 0, fmt.Errorf("migrate %s: %w", k.name, err)
	}

	for _, doc := range pending {
		id := storedID(doc)
		upgraded, err := k.upgrade(doc)
		if err != nil {
			return 0, &MigrationError{Kind: k.name, ID: id, Err: err}
		}
		upgraded[schema.VersionField] = current
		if _, err := backend.Save(ctx, k.collection, id, upgraded); err != nil {
			return 0, migrationError(k.name, id, err)
		}
	}

	if err := k.rebuildIndexes(ctx); err != nil {
		return 0, err
	}

	k.conn.metrics.DocumentsMigrated(k.name, len(pending))
	k.conn.publish(ctx, events.Event{
		Name: events.Name(k.name, events.Migrated),
		Kind: k.name,
		Op:   "migrate",
		Data: map[string]any{"documents": len(pending), "version": current},
	})
	logger.Info().Int("documents", len(pending)).Msg("migrated")

	return len(pending), nil
}

// upgrade applies the migrations between the document's version and the
// current one.
func (k *Kind) upgrade(doc storage.Document) (map[string]any, error) {
	id := doc[schema.IDField]

	data := make(map[string]any, len(doc))
	for key, v := range doc {
		if key == schema.VersionField {
			continue
		}
		data[key] = v
	}

	for v := storedVersion(doc); v < k.Version(); v++ {
		out, err := k.migrations[v](data)
		if err != nil {
			return nil, fmt.Errorf("migration %d: %w", v+1, err)
		}
		if out == nil {
			return nil, fmt.Errorf("migration %d returned no document", v+1)
		}
		data = out
	}

	delete(data, schema.VersionField)
	if id != nil {
		data[schema.IDField] = id
	}
	return data, nil
}

// rebuildIndexes creates the kind's unique indexes from the current schema.
// On failure the indexes built so far are removed again.
func (k *Kind) rebuildIndexes(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	built, err := k.createIndexes(ctx)
	if err == nil {
		k.indexesCreated = true
		return nil
	}

	for _, field := range built {
		if rerr := k.conn.backend.RemoveIndex(ctx, k.collection, field); rerr != nil {
			k.conn.logger.Error().
				Err(rerr).
				Str("kind", k.name).
				Str("field", field).
				Msg("failed to remove index after migration failure")
		}
	}
	return migrationError(k.name, "", err)
}

func migrationError(kind, id string, err error) error {
	var dup *storage.DuplicateKeyError
	if errors.As(err, &dup) {
		return &MigrationError{Kind: kind, ID: id, Field: dup.Field, Value: dup.Value, Err: err}
	}
	return &MigrationError{Kind: kind, ID: id, Err: err}
}
