// Package odm maps record kinds onto documents stored in a storage.Backend.
//
// A Connection owns a backend and the kinds defined against it. Kinds
// validate, canonicalize and persist Documents, resolve references one level
// deep, and bring stored documents up to date through ordered migrations.
//
//	conn, err := odm.Connect("nedb://./data")
//	user, err := conn.Define("User", schema.Decls{
//		{Name: "email", Type: schema.Field{Type: schema.String, Required: true, Unique: true}},
//		{Name: "friends", Type: []any{schema.Ref("User")}},
//	})
//	u, err := user.Create(ctx, map[string]any{"email": "ada@example.com"})
//	err = u.Save(ctx)
package odm

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/docmap/core/events"
	"github.com/artpar/docmap/core/registry"
	"github.com/artpar/docmap/core/schema"
	"github.com/artpar/docmap/core/storage"
	"github.com/artpar/docmap/core/validation"
)

// Recorder receives operation measurements.
type Recorder interface {
	OperationStarted(kind, op string)
	OperationFinished(kind, op string, elapsed time.Duration, err error)
	DocumentsMigrated(kind string, n int)
}

type nopRecorder struct{}

func (nopRecorder) OperationStarted(string, string)                        {}
func (nopRecorder) OperationFinished(string, string, time.Duration, error) {}
func (nopRecorder) DocumentsMigrated(string, int)                          {}

// Connection binds record kinds to a storage backend.
type Connection struct {
	backend   storage.Backend
	logger    zerolog.Logger
	metrics   Recorder
	bus       *events.Bus
	kinds     *registry.Registry[*Kind]
	validator *validation.Validator
	tasks     tracker

	mu       sync.Mutex
	released bool
}

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the connection logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Connection) {
		c.logger = logger
	}
}

// WithMetrics sets the operation recorder.
func WithMetrics(r Recorder) Option {
	return func(c *Connection) {
		if r != nil {
			c.metrics = r
		}
	}
}

// WithEvents publishes lifecycle events on bus.
func WithEvents(bus *events.Bus) Option {
	return func(c *Connection) {
		c.bus = bus
	}
}

// New creates a connection over an open backend.
func New(backend storage.Backend, opts ...Option) *Connection {
	c := &Connection{
		backend:   backend,
		logger:    zerolog.Nop(),
		metrics:   nopRecorder{},
		kinds:     registry.New[*Kind](),
		validator: validation.New(backend),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the backend selected by rawURL (see storage.Open).
func Connect(rawURL string, opts ...Option) (*Connection, error) {
	backend, err := storage.Open(rawURL)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	c := New(backend, opts...)
	c.logger.Info().Str("backend", storage.Scheme(rawURL)).Msg("connected")
	return c, nil
}

// Backend returns the underlying backend.
func (c *Connection) Backend() storage.Backend {
	return c.backend
}

// Logger returns the connection logger.
func (c *Connection) Logger() zerolog.Logger {
	return c.logger
}

// Define registers a persistable kind.
func (c *Connection) Define(name string, decls schema.Decls, opts ...KindOption) (*Kind, error) {
	return c.define(name, false, decls, opts)
}

// DefineEmbedded registers an embedded kind. Embedded records have no
// identity and are stored inline in their owner.
func (c *Connection) DefineEmbedded(name string, decls schema.Decls, opts ...KindOption) (*Kind, error) {
	return c.define(name, true, decls, opts)
}

var kindName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (c *Connection) define(name string, embedded bool, decls schema.Decls, opts []KindOption) (*Kind, error) {
	if !kindName.MatchString(name) {
		return nil, fmt.Errorf("define %q: invalid kind name", name)
	}

	k := &Kind{
		conn:       c,
		name:       name,
		collection: name,
		embedded:   embedded,
		virtuals:   make(map[string]Virtual),
	}
	for _, opt := range opts {
		opt(k)
	}

	var base *schema.Schema
	if k.base != nil {
		if k.base.conn != c {
			return nil, fmt.Errorf("define %s: base kind %s belongs to another connection", name, k.base.name)
		}
		if k.base.embedded != embedded {
			return nil, fmt.Errorf("define %s: cannot extend %s across embedded and persistable kinds", name, k.base.name)
		}
		base = k.base.fields
		if k.hooks == nil {
			k.hooks = k.base.hooks
		}
		for vname, v := range k.base.virtuals {
			if _, ok := k.virtuals[vname]; !ok {
				k.virtuals[vname] = v
			}
		}
	}

	fields, err := schema.Extend(base, decls)
	if err != nil {
		return nil, fmt.Errorf("define %s: %w", name, err)
	}
	k.fields = fields
	if embedded {
		k.schema = fields
	} else {
		k.schema = fields.WithIdentity(c.backend.NativeIDType())
	}

	for vname := range k.virtuals {
		if k.schema.Has(vname) {
			return nil, fmt.Errorf("define %s: virtual %q shadows a schema field", name, vname)
		}
	}

	if err := c.kinds.Register(k); err != nil {
		return nil, fmt.Errorf("define %s: %w", name, err)
	}

	c.logger.Debug().
		Str("kind", name).
		Str("collection", k.collection).
		Bool("embedded", embedded).
		Int("fields", fields.Len()).
		Int("version", k.Version()).
		Msg("kind defined")

	return k, nil
}

// Kind returns a defined kind by name.
func (c *Connection) Kind(name string) (*Kind, error) {
	k, ok := c.kinds.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, name)
	}
	return k, nil
}

// Kinds returns every defined kind sorted by name.
func (c *Connection) Kinds() []*Kind {
	return c.kinds.List()
}

// MigrateAll migrates every persistable kind and returns the number of
// documents rewritten per kind. It stops at the first failure.
func (c *Connection) MigrateAll(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, k := range c.Kinds() {
		if k.embedded {
			continue
		}
		n, err := k.Migrate(ctx)
		if err != nil {
			return counts, err
		}
		counts[k.name] = n
	}
	return counts, nil
}

// Close stops admitting operations, waits for in-flight operations to
// finish and closes the backend.
func (c *Connection) Close(ctx context.Context) error {
	c.tasks.close()
	if err := c.tasks.wait(ctx); err != nil {
		return fmt.Errorf("close: waiting for operations: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil
	}
	c.released = true

	if err := c.backend.Close(); err != nil {
		return fmt.Errorf("close backend: %w", err)
	}
	c.logger.Debug().Msg("connection closed")
	return nil
}

// DropDatabase waits for in-flight operations and drops every collection.
func (c *Connection) DropDatabase(ctx context.Context) error {
	if err := c.tasks.wait(ctx); err != nil {
		return fmt.Errorf("drop database: waiting for operations: %w", err)
	}
	return c.run(ctx, "*", "dropDatabase", func(ctx context.Context) error {
		if err := c.backend.DropDatabase(ctx); err != nil {
			return fmt.Errorf("drop database: %w", err)
		}
		for _, k := range c.Kinds() {
			k.resetIndexes()
		}
		c.logger.Info().Msg("database dropped")
		return nil
	})
}

// InFlight returns the number of operations currently running.
func (c *Connection) InFlight() int {
	return c.tasks.inFlight()
}

// run tracks fn as an in-flight operation and reports its failure.
func (c *Connection) run(ctx context.Context, kind, op string, fn func(ctx context.Context) error) error {
	done, err := c.tasks.start()
	if err != nil {
		return err
	}
	defer done()

	c.metrics.OperationStarted(kind, op)
	start := time.Now()
	err = fn(ctx)
	c.metrics.OperationFinished(kind, op, time.Since(start), err)

	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("kind", kind).
			Str("op", op).
			Msg("operation failed")
		c.publish(ctx, events.Event{
			Name: events.Name(kind, events.Failed),
			Kind: kind,
			Op:   op,
			Err:  err,
		})
	}
	return err
}

func (c *Connection) publish(ctx context.Context, event events.Event) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(ctx, event)
}
