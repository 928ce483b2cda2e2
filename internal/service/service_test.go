package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"requestx/internal/config"
	"requestx/internal/dnr"
	"requestx/internal/handler"
	"requestx/pkg/model"
	"requestx/pkg/rulespec"
	"requestx/pkg/traffic"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Sqlite.Dsn = filepath.Join(t.TempDir(), "svc.db")
	cfg.Sync.ReloadDelayMS = 10
	s, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveListTriggersDebouncedReload(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	items := []rulespec.RuleData{{Type: rulespec.RequestBlock, URL: "*://ads.com/*", Enabled: true}}
	created, err := s.SaveList(ctx, rulespec.ListPatch{Rules: &items})
	if err != nil {
		t.Fatalf("SaveList: %v", err)
	}

	table := s.table
	deadline := time.Now().Add(2 * time.Second)
	for {
		installed, err := table.GetAll(ctx)
		if err != nil {
			t.Fatalf("GetAll: %v", err)
		}
		if len(installed) == 1 {
			if installed[0].ID != created.ID*100+1 {
				t.Errorf("rule id = %d", installed[0].ID)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("rules not installed, got %+v", installed)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := s.RemoveList(ctx, created.ID); err != nil {
		t.Fatalf("RemoveList: %v", err)
	}
	if err := s.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if installed, _ := table.GetAll(ctx); len(installed) != 0 {
		t.Errorf("rules left after removal: %+v", installed)
	}
}

func TestCookieMatchUsesCookieLists(t *testing.T) {
	s := newTestService(t)
	items := []rulespec.RuleData{{URL: "*://*.a.com/*", Name: "sid", Enabled: true, HTTPOnly: rulespec.Ptr(true)}}
	if _, err := s.SaveList(context.Background(), rulespec.ListPatch{Type: rulespec.ListTypeCookie, Rules: &items}); err != nil {
		t.Fatalf("SaveList: %v", err)
	}
	ev := &traffic.CookieChange{Cause: traffic.CauseExplicit, Cookie: traffic.Cookie{Name: "sid", Domain: ".a.com", Path: "/"}}
	m := s.matchCookie(ev)
	if m == nil || m.Result.HTTPOnly == nil || !*m.Result.HTTPOnly {
		t.Fatalf("match = %+v", m)
	}
	if s.Stats().Matched != 1 {
		t.Errorf("stats = %+v", s.Stats())
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestService(t)
	id, err := s.StartSession(model.SessionConfig{})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, err := s.SubscribeEvents(id); err != nil {
		t.Errorf("SubscribeEvents: %v", err)
	}
	if err := s.StopSession(id); err != nil {
		t.Errorf("StopSession: %v", err)
	}
	if err := s.StopSession(id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second StopSession err = %v", err)
	}
	if _, err := s.SubscribeEvents("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("SubscribeEvents(missing) err = %v", err)
	}
}

func TestReplaceResponseExcludedTab(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	items := []rulespec.RuleData{{Type: rulespec.RequestReplace, URL: "*://x.com/*", ContentType: "text/plain", Target: "hi", Enabled: true}}
	if _, err := s.SaveList(ctx, rulespec.ListPatch{Rules: &items}); err != nil {
		t.Fatalf("SaveList: %v", err)
	}
	if err := s.SetReplaceResponse(ctx, 1, false); err != nil {
		t.Fatalf("SetReplaceResponse: %v", err)
	}

	h := handler.New(handler.Config{Engine: s.engine, Source: s.group})
	excluded := h.HandleRequest("t1", &traffic.RequestDetails{URL: "https://x.com/a", Method: "GET", TabID: 1})
	if excluded.RedirectURL != "" || excluded.Cancel {
		t.Errorf("replace applied on excluded tab: %+v", excluded)
	}
	other := h.HandleRequest("t2", &traffic.RequestDetails{URL: "https://x.com/a", Method: "GET", TabID: 2})
	if other.RedirectURL == "" {
		t.Errorf("replace not applied on other tab: %+v", other)
	}
}

func TestResetRulesReinstallsFromLists(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	items := []rulespec.RuleData{{Type: rulespec.RequestBlock, URL: "*://ads.com/*", Enabled: true}}
	created, err := s.SaveList(ctx, rulespec.ListPatch{Rules: &items})
	if err != nil {
		t.Fatalf("SaveList: %v", err)
	}
	stray := dnr.Rule{ID: 9901, Action: dnr.Action{Type: dnr.ActionBlock}, Condition: dnr.Condition{URLFilter: "*://old.com/*"}}
	if err := s.table.Update(ctx, dnr.UpdateOptions{AddRules: []dnr.Rule{stray}}); err != nil {
		t.Fatalf("seed stray rule: %v", err)
	}

	if err := s.ResetRules(ctx); err != nil {
		t.Fatalf("ResetRules: %v", err)
	}
	installed, err := s.table.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(installed) != 1 || installed[0].ID != created.ID*100+1 {
		t.Errorf("installed = %+v", installed)
	}
}
