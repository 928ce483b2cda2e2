package storage

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"requestx/internal/ctxkeys"
	"requestx/internal/dnr"
	"requestx/internal/list"
	"requestx/internal/logger"
	"requestx/pkg/rulespec"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTest(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), "rx_", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func TestKV(t *testing.T) {
	ctx := context.Background()
	kv := NewKV(openTest(t))

	if err := kv.Set(ctx, map[string][]byte{"list:1": []byte("a"), "list:2": []byte("b"), "lastId": []byte("2")}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kv.Set(ctx, map[string][]byte{"list:1": []byte("a2")}); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}

	got, err := kv.Get(ctx, "list:1", "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 1 || string(got["list:1"]) != "a2" {
		t.Errorf("Get = %v", got)
	}

	scanned, err := kv.Scan(ctx, "list:")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(scanned) != 2 {
		t.Errorf("Scan = %v", scanned)
	}

	if err := kv.Remove(ctx, "list:2"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	scanned, _ = kv.Scan(ctx, "list:")
	if _, ok := scanned["list:2"]; ok || len(scanned) != 1 {
		t.Errorf("after remove Scan = %v", scanned)
	}
}

func TestKVScanEscapesWildcards(t *testing.T) {
	ctx := context.Background()
	kv := NewKV(openTest(t))
	_ = kv.Set(ctx, map[string][]byte{"a_b": []byte("1"), "axb": []byte("2")})
	got, err := kv.Scan(ctx, "a_")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 1 || got["a_b"] == nil {
		t.Errorf("Scan = %v", got)
	}
}

func TestKVBacksListGroup(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)
	g := list.NewGroup(NewKV(db), nil, nil)
	if err := g.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	items := []rulespec.RuleData{{Type: rulespec.RequestBlock, URL: "*://a.com/*", Enabled: true}}
	created, err := g.Save(ctx, rulespec.ListPatch{Rules: &items})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := list.NewGroup(NewKV(db), nil, nil)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	data, err := reloaded.Get(created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(data.Rules) != 1 || data.Rules[0].URL != "*://a.com/*" {
		t.Errorf("rules = %+v", data.Rules)
	}
}

func blockRule(id int) dnr.Rule {
	return dnr.Rule{
		ID:        id,
		Action:    dnr.Action{Type: dnr.ActionBlock},
		Condition: dnr.Condition{URLFilter: "*://a.com/*"},
	}
}

func TestRuleTable(t *testing.T) {
	ctx := context.Background()
	table := NewRuleTable(openTest(t), nil)

	if err := table.Update(ctx, dnr.UpdateOptions{AddRules: []dnr.Rule{blockRule(101), blockRule(102)}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := table.Update(ctx, dnr.UpdateOptions{AddRules: []dnr.Rule{blockRule(101)}}); !errors.Is(err, dnr.ErrDuplicateID) {
		t.Fatalf("duplicate add err = %v", err)
	}

	replaced := blockRule(101)
	replaced.Condition.URLFilter = "*://b.com/*"
	if err := table.Update(ctx, dnr.UpdateOptions{AddRules: []dnr.Rule{replaced}, RemoveRuleIDs: []int{101}}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	rules, err := table.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(rules) != 2 || rules[0].ID != 101 || rules[0].Condition.URLFilter != "*://b.com/*" {
		t.Fatalf("rules = %+v", rules)
	}
}

func TestRuleTableRejectsInvalidAtomically(t *testing.T) {
	ctx := context.Background()
	table := NewRuleTable(openTest(t), nil)
	_ = table.Update(ctx, dnr.UpdateOptions{AddRules: []dnr.Rule{blockRule(201)}})

	bad := blockRule(202)
	bad.Condition = dnr.Condition{RegexFilter: "("}
	err := table.Update(ctx, dnr.UpdateOptions{AddRules: []dnr.Rule{bad}, RemoveRuleIDs: []int{201}})
	if !errors.Is(err, dnr.ErrInvalidRule) {
		t.Fatalf("err = %v, want invalid rule", err)
	}
	rules, _ := table.GetAll(ctx)
	if len(rules) != 1 || rules[0].ID != 201 {
		t.Fatalf("rejected update was partially applied: %+v", rules)
	}

	if err := table.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	rules, _ = table.GetAll(ctx)
	if len(rules) != 0 {
		t.Errorf("rules after clear = %+v", rules)
	}
}

func TestGormLoggerTrace(t *testing.T) {
	var buf bytes.Buffer
	gl := NewGormLogger(logger.NewWithWriter(&buf, "debug"))
	ctx := ctxkeys.WithTraceID(context.Background())
	sql := func() (string, int64) { return "SELECT 1", 1 }

	gl.Trace(ctx, time.Now(), sql, errors.New("boom"))
	out := buf.String()
	if !strings.Contains(out, "SELECT 1") || !strings.Contains(out, ctxkeys.TraceID(ctx)) || !strings.Contains(out, "boom") {
		t.Errorf("error trace = %s", out)
	}

	buf.Reset()
	gl.Trace(ctx, time.Now(), sql, gormlogger.ErrRecordNotFound)
	if buf.Len() != 0 {
		t.Errorf("record not found should not be logged at warn level: %s", buf.String())
	}

	buf.Reset()
	gl.LogMode(gormlogger.Silent).Trace(ctx, time.Now(), sql, errors.New("boom"))
	if buf.Len() != 0 {
		t.Errorf("silent mode logged: %s", buf.String())
	}
}
