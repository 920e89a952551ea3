package storage

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

type sample struct {
	Name  string
	Value int
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetJSON(t *testing.T) {
	s := openTestStore(t)
	key := []byte("k1")

	if found, _ := s.GetJSON(key, &sample{}); found {
		t.Fatal("expected no value before Put")
	}

	if err := s.PutJSON(key, sample{Name: "a", Value: 1}); err != nil {
		t.Fatalf("PutJSON: %v", err)
	}

	var got sample
	found, err := s.GetJSON(key, &got)
	if err != nil || !found {
		t.Fatalf("GetJSON: found=%v err=%v", found, err)
	}
	if got != (sample{Name: "a", Value: 1}) {
		t.Errorf("got %+v", got)
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	key := []byte("k2")
	s.PutJSON(key, sample{Name: "b"})

	if err := s.Delete(key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if found, _ := s.GetJSON(key, &sample{}); found {
		t.Error("expected key gone after Delete")
	}
}

func TestIteratePrefix(t *testing.T) {
	s := openTestStore(t)
	s.PutJSON([]byte("p:1"), sample{Value: 1})
	s.PutJSON([]byte("p:2"), sample{Value: 2})
	s.PutJSON([]byte("q:1"), sample{Value: 99})

	var sum int
	err := s.IteratePrefix([]byte("p:"), func(v []byte) error {
		var got sample
		if err := json.Unmarshal(v, &got); err != nil {
			return err
		}
		sum += got.Value
		return nil
	})
	if err != nil {
		t.Fatalf("IteratePrefix: %v", err)
	}
	if sum != 3 {
		t.Errorf("sum = %d, want 3 (q:1 must not be included)", sum)
	}
}
