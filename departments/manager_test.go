package departments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// failingStore fails every ReplaceFields call.
type failingStore struct {
	*InMemoryStore
}

func (failingStore) ReplaceFields(context.Context, int64, []FieldConfig) error {
	return errors.New("disk full")
}

func TestManagerCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewInMemoryStore())

	d, err := m.Create(ctx, "Dispatch", tripFields())
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if d.ID == 0 {
		t.Fatal("Create() should assign an ID")
	}

	known, err := m.KnownFields(d.ID)
	if err != nil {
		t.Fatalf("KnownFields() failed: %v", err)
	}
	if !known.Has("Gia_ca") || known.Has("Ghi_chu") {
		t.Errorf("KnownFields() = %v", known.Names())
	}

	numeric, _ := m.NumericFields(d.ID)
	if len(numeric) != 2 {
		t.Errorf("NumericFields() = %v", numeric.Names())
	}

	if _, err := m.KnownFields(999); !errors.Is(err, ErrNotFound) {
		t.Errorf("KnownFields(999) error = %v, want ErrNotFound", err)
	}
	if _, err := m.Create(ctx, "Bad", []FieldConfig{{Name: "[x]", Type: Text}}); err == nil {
		t.Error("Create() should validate the schema")
	}
	if _, err := m.Create(ctx, "", nil); !errors.Is(err, ErrInvalid) {
		t.Errorf("Create() with a blank name error = %v, want ErrInvalid", err)
	}
	if _, err := m.Create(ctx, "Dispatch", nil); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate Create() error = %v, want ErrAlreadyExists", err)
	}
}

func TestManagerLoadAll(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	if err := store.Create(ctx, &Department{Name: "A", Fields: tripFields()}); err != nil {
		t.Fatal(err)
	}
	if err := store.Create(ctx, &Department{Name: "B"}); err != nil {
		t.Fatal(err)
	}

	m := NewManager(store)
	if err := m.LoadAll(ctx); err != nil {
		t.Fatalf("LoadAll() failed: %v", err)
	}

	list := m.List()
	if len(list) != 2 || list[0].Name != "A" || list[1].Name != "B" {
		t.Fatalf("List() = %v", list)
	}
	if len(list[1].Fields) != 0 {
		t.Errorf("department B should have no fields")
	}
}

func TestManagerListOrdersByID(t *testing.T) {
	m := NewManager(NewInMemoryStore())
	for _, id := range []int64{5, 1 << 33, 2, 1<<32 + 1} {
		m.depts[id] = &Department{ID: id, Name: fmt.Sprint(id)}
	}

	var got []int64
	for _, d := range m.List() {
		got = append(got, d.ID)
	}
	want := []int64{2, 5, 1<<32 + 1, 1 << 33}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("List() order = %v, want %v", got, want)
	}
}

func TestManagerUpdateSchema(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewInMemoryStore())
	d, _ := m.Create(ctx, "Dispatch", tripFields())

	next := []FieldConfig{{Name: "Khoang_cach", Type: Number, Active: true}}
	if err := m.UpdateSchema(ctx, d.ID, next); err != nil {
		t.Fatalf("UpdateSchema() failed: %v", err)
	}
	known, _ := m.KnownFields(d.ID)
	if !known.Has("Khoang_cach") || known.Has("Gia_ca") {
		t.Errorf("schema not swapped: %v", known.Names())
	}

	if err := m.UpdateSchema(ctx, d.ID, []FieldConfig{{Name: "", Type: Text}}); err == nil {
		t.Error("invalid schema should be rejected")
	}
	if err := m.UpdateSchema(ctx, 42, next); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateSchema(42) error = %v, want ErrNotFound", err)
	}
}

func TestManagerUpdateSchemaKeepsOldOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	m := NewManager(failingStore{NewInMemoryStore()})
	d, err := m.Create(ctx, "Dispatch", tripFields())
	if err != nil {
		t.Fatal(err)
	}

	if err := m.UpdateSchema(ctx, d.ID, []FieldConfig{{Name: "X", Type: Text, Active: true}}); err == nil {
		t.Fatal("expected store failure")
	}
	known, _ := m.KnownFields(d.ID)
	if !known.Has("Gia_ca") {
		t.Error("old schema should remain after a failed update")
	}
}

func TestManagerGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewInMemoryStore())
	d, _ := m.Create(ctx, "Dispatch", tripFields())

	got, _ := m.Get(d.ID)
	got.Fields[0].Name = "Changed"
	got.Fields[3].Options[0] = "Changed"

	again, _ := m.Get(d.ID)
	if again.Fields[0].Name != "Ma_chuyen" || again.Fields[3].Options[0] != "Mới" {
		t.Error("Get() must not expose internal state")
	}

	if err := m.forget(d.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(d.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after forget() error = %v", err)
	}
}

func TestManagerConcurrentReadsDuringUpdate(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewInMemoryStore())
	d, _ := m.Create(ctx, "Dispatch", tripFields())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := m.KnownFields(d.ID); err != nil {
				t.Error(err)
			}
		}()
		go func(i int) {
			defer wg.Done()
			fields := []FieldConfig{{Name: fmt.Sprintf("F%d", i), Type: Number, Active: true}}
			if err := m.UpdateSchema(ctx, d.ID, fields); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	known, _ := m.KnownFields(d.ID)
	if len(known) != 1 {
		t.Errorf("expected exactly one field after concurrent updates, got %v", known.Names())
	}
}
