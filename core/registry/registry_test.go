package registry

import (
	"errors"
	"strings"
	"testing"
)

type entry struct {
	name   string
	claims []string
}

func (e entry) Name() string     { return e.name }
func (e entry) Claims() []string { return e.claims }

func makeEntry(name string, claims ...string) entry {
	return entry{name: name, claims: claims}
}

func TestNew(t *testing.T) {
	r := New[entry]()
	if r == nil {
		t.Fatal("New() returned nil")
	}
	if r.entries == nil {
		t.Error("entries map not initialized")
	}
	if r.claims == nil {
		t.Error("claims map not initialized")
	}
}

func TestRegistry_Register(t *testing.T) {
	r := New[entry]()

	if err := r.Register(makeEntry("User", "users")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	e, ok := r.Get("User")
	if !ok {
		t.Fatal("Get() should find registered entry")
	}
	if e.Name() != "User" {
		t.Errorf("Get().Name() = %s, want User", e.Name())
	}
	if owner, ok := r.Owner("users"); !ok || owner != "User" {
		t.Errorf("Owner(users) = %q, %v, want User", owner, ok)
	}
}

func TestRegistry_Register_DuplicateName(t *testing.T) {
	r := New[entry]()
	if err := r.Register(makeEntry("User")); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	if err := r.Register(makeEntry("User")); err == nil {
		t.Error("second Register() should fail with duplicate name")
	}
}

func TestRegistry_Register_ClaimConflict(t *testing.T) {
	r := New[entry]()
	if err := r.Register(makeEntry("User", "people")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	err := r.Register(makeEntry("Person", "people"))
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("Register() error = %v, want *ConflictError", err)
	}
	if len(ce.Conflicts) != 1 || ce.Conflicts[0].Owner != "User" || ce.Conflicts[0].Entry != "Person" {
		t.Errorf("Conflicts = %+v", ce.Conflicts)
	}
	if !strings.Contains(err.Error(), `"people" already claimed by "User"`) {
		t.Errorf("error message = %q", err.Error())
	}
	if _, ok := r.Get("Person"); ok {
		t.Error("conflicting entry should not be registered")
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := New[entry]()
	if err := r.Register(makeEntry("User", "users")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := r.Unregister("User"); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if _, ok := r.Get("User"); ok {
		t.Error("entry should be gone after Unregister")
	}
	if _, ok := r.Owner("users"); ok {
		t.Error("claims should be released after Unregister")
	}
	if err := r.Register(makeEntry("Account", "users")); err != nil {
		t.Errorf("released claim should be available: %v", err)
	}
	if err := r.Unregister("missing"); err == nil {
		t.Error("Unregister() of unknown entry should fail")
	}
}

func TestRegistry_List(t *testing.T) {
	r := New[entry]()
	for _, name := range []string{"Zeta", "Alpha", "Mid"} {
		if err := r.Register(makeEntry(name)); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}

	list := r.List()
	if len(list) != 3 || list[0].Name() != "Alpha" || list[2].Name() != "Zeta" {
		t.Errorf("List() = %v, want sorted by name", list)
	}

	names := r.Names()
	if strings.Join(names, ",") != "Alpha,Mid,Zeta" {
		t.Errorf("Names() = %v", names)
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
}
