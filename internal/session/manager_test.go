package session

import (
	"testing"

	"requestx/pkg/model"
)

func TestManager(t *testing.T) {
	m := NewManager(nil)
	a := New(model.SessionConfig{DevToolsURL: "http://127.0.0.1:9222"})
	b := New(model.SessionConfig{})
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("ids = %q %q", a.ID, b.ID)
	}
	m.Add(a)
	m.Add(b)

	if got, ok := m.Get(a.ID); !ok || got != a {
		t.Errorf("Get(a) = %v %v", got, ok)
	}
	if len(m.List()) != 2 {
		t.Errorf("List = %d", len(m.List()))
	}
	if _, ok := m.Delete(a.ID); !ok {
		t.Error("Delete(a) should succeed")
	}
	if _, ok := m.Delete(a.ID); ok {
		t.Error("second Delete should fail")
	}
	if _, ok := m.Get(a.ID); ok {
		t.Error("a should be gone")
	}
	b.Close()
}
