package logger

import (
	"bytes"
	"errors"
	"testing"

	json "github.com/goccy/go-json"
)

func TestFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "info")

	l.Debug("hidden", "k", 1)
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered, got %s", buf.String())
	}

	l.With("list", 3).Err(errors.New("boom"), "同步失败", "rule", 301, "dangling")
	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not json: %v", err)
	}
	if got["message"] != "同步失败" || got["error"] != "boom" {
		t.Errorf("unexpected entry %v", got)
	}
	if got["list"] != float64(3) || got["rule"] != float64(301) || got["!BADKEY"] != "dangling" {
		t.Errorf("unexpected fields %v", got)
	}
}

func TestNop(t *testing.T) {
	l := NewNop()
	l.Info("x", "a", 1)
	l.With("b", 2).Warn("y")
}
