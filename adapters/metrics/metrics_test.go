package metrics_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/artpar/docmap/adapters/metrics"
	"github.com/artpar/docmap/core/odm"
	"github.com/artpar/docmap/core/schema"
	"github.com/artpar/docmap/core/storage"
	"github.com/artpar/docmap/core/validation"
)

func TestNew(t *testing.T) {
	// Use a new registry to avoid conflicts with other tests
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	if m == nil {
		t.Fatal("NewWithRegistry returned nil")
	}
	if m.OperationsTotal == nil {
		t.Error("OperationsTotal is nil")
	}
	if m.OperationDuration == nil {
		t.Error("OperationDuration is nil")
	}
	if m.OperationsInFlight == nil {
		t.Error("OperationsInFlight is nil")
	}
	if m.MigratedDocuments == nil {
		t.Error("MigratedDocuments is nil")
	}
	if m.RequestsTotal == nil {
		t.Error("RequestsTotal is nil")
	}
	if m.ConfigReloads == nil {
		t.Error("ConfigReloads is nil")
	}
}

func TestOperationRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.OperationStarted("User", "save")
	m.OperationStarted("User", "find")
	if got := testutil.ToFloat64(m.OperationsInFlight.WithLabelValues("User")); got != 2 {
		t.Errorf("in flight = %v, want 2", got)
	}

	m.OperationFinished("User", "save", 3*time.Millisecond, nil)
	m.OperationFinished("User", "find", time.Millisecond, errors.New("boom"))

	if got := testutil.ToFloat64(m.OperationsInFlight.WithLabelValues("User")); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.OperationsTotal.WithLabelValues("User", "save", "ok")); got != 1 {
		t.Errorf("save ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.OperationsTotal.WithLabelValues("User", "find", "error")); got != 1 {
		t.Errorf("find error = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.OperationDuration); got != 2 {
		t.Errorf("duration series = %d, want 2", got)
	}

	m.DocumentsMigrated("User", 3)
	m.DocumentsMigrated("User", 2)
	if got := testutil.ToFloat64(m.MigratedDocuments.WithLabelValues("User")); got != 5 {
		t.Errorf("documents migrated = %v, want 5", got)
	}
}

func TestResult(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&validation.ValidationError{Kind: "User", Field: "email"}, "invalid"},
		{fmt.Errorf("save: %w", &storage.DuplicateKeyError{Field: "email"}), "duplicate"},
		{&odm.VersionMismatchError{Stored: 0, Current: 1}, "version_mismatch"},
		{&odm.VersionMismatchError{Stored: 2, Current: 1}, "version_mismatch"},
		{odm.ErrClosed, "closed"},
		{&odm.MigrationError{Kind: "User", Err: errors.New("x")}, "migration_failed"},
		{errors.New("disk on fire"), "error"},
	}

	for _, tt := range tests {
		if got := metrics.Result(tt.err); got != tt.want {
			t.Errorf("Result(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{304, "3xx"},
		{404, "4xx"},
		{503, "5xx"},
		{101, "1xx"},
	}

	for _, tt := range tests {
		if got := metrics.StatusClass(tt.status); got != tt.want {
			t.Errorf("StatusClass(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestConfigReloaded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.ConfigReloaded(nil)
	m.ConfigReloaded(errors.New("bad yaml"))
	m.ConfigReloaded(nil)

	if got := testutil.ToFloat64(m.ConfigReloads); got != 2 {
		t.Errorf("reloads = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ConfigReloadErrors); got != 1 {
		t.Errorf("reload errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ConfigLastReload); got == 0 {
		t.Error("last reload timestamp not set")
	}
}

func TestCollectorWithConnection(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	ctx := context.Background()

	backend, err := storage.NewMemory(storage.MemoryOptions{})
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}
	conn := odm.New(backend, odm.WithMetrics(m))
	defer conn.Close(ctx)

	user, err := conn.Define("User", schema.Decls{
		{Name: "email", Type: schema.Field{Type: schema.String, Required: true}},
	})
	if err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	u, err := user.Create(ctx, map[string]any{"email": "ada@example.com"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := u.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := user.New().Save(ctx); err == nil {
		t.Fatal("Save of an invalid record succeeded")
	}

	if got := testutil.ToFloat64(m.OperationsTotal.WithLabelValues("User", "save", "ok")); got != 1 {
		t.Errorf("save ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.OperationsTotal.WithLabelValues("User", "save", "invalid")); got != 1 {
		t.Errorf("save invalid = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.OperationsInFlight.WithLabelValues("User")); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	m.OperationFinished("User", "save", time.Millisecond, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `docmap_operations_total{kind="User",op="save",result="ok"} 1`) {
		t.Errorf("metrics output missing operation counter:\n%s", body)
	}
}
