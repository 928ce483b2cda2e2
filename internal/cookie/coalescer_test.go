package cookie

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"requestx/internal/rules"
	"requestx/pkg/rulespec"
	"requestx/pkg/traffic"
)

type fakeTimer struct {
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(_ time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{f: f}
	c.timers = append(c.timers, t)
	return t
}

// fire 触发所有未停止的定时器
func (c *fakeClock) fire() int {
	c.mu.Lock()
	var live []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped {
			t.stopped = true
			live = append(live, t)
		}
	}
	c.mu.Unlock()
	for _, t := range live {
		t.f()
	}
	return len(live)
}

type fakeWriter struct {
	mu     sync.Mutex
	writes []traffic.CookieWrite
	fail   map[string]bool
	during func()
}

func (w *fakeWriter) SetCookie(_ context.Context, cw traffic.CookieWrite) error {
	if w.during != nil {
		w.during()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail[cw.Name] {
		return errors.New("write rejected")
	}
	w.writes = append(w.writes, cw)
	return nil
}

func matchAll(res *rules.CookieResult) MatchFunc {
	return func(*traffic.CookieChange) *rules.CookieMatch {
		return &rules.CookieMatch{ListID: 1, Result: res}
	}
}

func change(name, value string) *traffic.CookieChange {
	return &traffic.CookieChange{
		Cause: traffic.CauseExplicit,
		Cookie: traffic.Cookie{
			Name:     name,
			Value:    value,
			Domain:   ".a.com",
			Path:     "/",
			SameSite: "lax",
			Session:  true,
			StoreID:  "0",
		},
	}
}

func TestDebounceAndLastWriteWins(t *testing.T) {
	clock := &fakeClock{}
	w := &fakeWriter{}
	c := New(Options{
		Match:  matchAll(&rules.CookieResult{HTTPOnly: rulespec.Ptr(true)}),
		Writer: w,
		Clock:  clock,
	})

	c.HandleChange(change("sid", "1"))
	c.HandleChange(change("other", "x"))
	c.HandleChange(change("sid", "2"))

	if got := c.State(); got != StatePendingFlush {
		t.Fatalf("state = %v, want pending", got)
	}
	if got := c.Pending(); got != 2 {
		t.Fatalf("pending = %d, want 2", got)
	}
	if n := clock.fire(); n != 1 {
		t.Fatalf("fired %d timers, want 1 after resets", n)
	}

	if len(w.writes) != 2 {
		t.Fatalf("writes = %d, want 2", len(w.writes))
	}
	if w.writes[0].Name != "sid" || w.writes[0].Value != "2" {
		t.Errorf("first write = %+v, want sid=2 in first-insert position", w.writes[0])
	}
	if !w.writes[0].HTTPOnly {
		t.Errorf("httpOnly override not applied")
	}
	if w.writes[0].Domain == nil || *w.writes[0].Domain != ".a.com" {
		t.Errorf("domain = %v", w.writes[0].Domain)
	}
	if w.writes[0].URL != "http://www.a.com/" {
		t.Errorf("url = %q", w.writes[0].URL)
	}
	if c.State() != StateIdle {
		t.Errorf("state after flush = %v", c.State())
	}
}

func TestEventsIgnoredWhileFlushing(t *testing.T) {
	clock := &fakeClock{}
	w := &fakeWriter{}
	c := New(Options{
		Match:  matchAll(&rules.CookieResult{Secure: rulespec.Ptr(true)}),
		Writer: w,
		Clock:  clock,
	})
	w.during = func() {
		if m := c.HandleChange(change("echo", "1")); m != nil {
			t.Errorf("change during flush should be ignored")
		}
	}

	c.HandleChange(change("sid", "1"))
	clock.fire()

	if c.Pending() != 0 {
		t.Errorf("pending = %d, want 0", c.Pending())
	}
	if n := clock.fire(); n != 0 {
		t.Errorf("unexpected reschedule, fired %d", n)
	}
}

func TestEnqueueDuringFlushIsRescheduled(t *testing.T) {
	clock := &fakeClock{}
	w := &fakeWriter{}
	c := New(Options{Writer: w, Clock: clock})
	once := false
	w.during = func() {
		if !once {
			once = true
			c.Enqueue(traffic.CookieWrite{Name: "late", URL: "http://a.com/"})
		}
	}

	c.Enqueue(traffic.CookieWrite{Name: "first", URL: "http://a.com/"})
	clock.fire()
	if c.State() != StatePendingFlush {
		t.Fatalf("state = %v, want pending", c.State())
	}
	clock.fire()
	if len(w.writes) != 2 || w.writes[1].Name != "late" {
		t.Fatalf("writes = %+v", w.writes)
	}
}

func TestWriteErrorDoesNotAbortBatch(t *testing.T) {
	clock := &fakeClock{}
	w := &fakeWriter{fail: map[string]bool{"bad": true}}
	c := New(Options{Writer: w, Clock: clock})

	c.Enqueue(traffic.CookieWrite{Name: "bad", URL: "http://a.com/"})
	c.Enqueue(traffic.CookieWrite{Name: "good", URL: "http://a.com/"})
	c.Flush(context.Background())

	if len(w.writes) != 1 || w.writes[0].Name != "good" {
		t.Fatalf("writes = %+v", w.writes)
	}
	if c.State() != StateIdle {
		t.Errorf("state = %v", c.State())
	}
}

func TestNoOpChangeIsNotWritten(t *testing.T) {
	clock := &fakeClock{}
	w := &fakeWriter{}
	c := New(Options{
		Match:  matchAll(&rules.CookieResult{SameSite: rulespec.Ptr(rulespec.SameSiteLax)}),
		Writer: w,
		Clock:  clock,
	})

	if m := c.HandleChange(change("sid", "1")); m == nil {
		t.Fatal("expected match")
	}
	if c.Pending() != 0 || c.State() != StateIdle {
		t.Errorf("no-op change was queued")
	}
}

func TestNonExplicitCauseIgnored(t *testing.T) {
	c := New(Options{Match: matchAll(&rules.CookieResult{}), Writer: &fakeWriter{}, Clock: &fakeClock{}})
	ev := change("sid", "1")
	ev.Cause = traffic.CauseOverwrite
	if m := c.HandleChange(ev); m != nil {
		t.Errorf("overwrite cause should be ignored")
	}
}

func TestBuildWrite(t *testing.T) {
	exp := 1700000000.0
	later := 1800000000.0

	tests := []struct {
		name    string
		ev      func() *traffic.CookieChange
		res     rules.CookieResult
		changed bool
		check   func(t *testing.T, w traffic.CookieWrite)
	}{
		{
			name:    "removed cookie is always rewritten",
			ev:      func() *traffic.CookieChange { ev := change("sid", "1"); ev.Removed = true; return ev },
			res:     rules.CookieResult{SetExpiration: true, ExpirationDate: &later},
			changed: true,
			check: func(t *testing.T, w traffic.CookieWrite) {
				if w.ExpirationDate == nil || *w.ExpirationDate != later {
					t.Errorf("expiration = %v", w.ExpirationDate)
				}
			},
		},
		{
			name: "host only cookie has no domain",
			ev: func() *traffic.CookieChange {
				ev := change("sid", "1")
				ev.Cookie.HostOnly = true
				ev.Cookie.Domain = "a.com"
				return ev
			},
			res:     rules.CookieResult{Secure: rulespec.Ptr(true)},
			changed: true,
			check: func(t *testing.T, w traffic.CookieWrite) {
				if w.Domain != nil {
					t.Errorf("domain = %q, want nil", *w.Domain)
				}
				if !w.Secure {
					t.Errorf("secure override missing")
				}
			},
		},
		{
			name: "same expiration is a no-op",
			ev: func() *traffic.CookieChange {
				ev := change("sid", "1")
				ev.Cookie.Session = false
				ev.Cookie.ExpirationDate = &exp
				return ev
			},
			res:     rules.CookieResult{SetExpiration: true, ExpirationDate: &exp},
			changed: false,
		},
		{
			name: "session override clears expiration",
			ev: func() *traffic.CookieChange {
				ev := change("sid", "1")
				ev.Cookie.Session = false
				ev.Cookie.ExpirationDate = &exp
				return ev
			},
			res:     rules.CookieResult{SetExpiration: true},
			changed: true,
			check: func(t *testing.T, w traffic.CookieWrite) {
				if w.ExpirationDate != nil {
					t.Errorf("expiration = %v, want session", *w.ExpirationDate)
				}
			},
		},
		{
			name:    "unset overrides keep cookie attributes",
			ev:      func() *traffic.CookieChange { return change("sid", "1") },
			res:     rules.CookieResult{},
			changed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.res
			w, changed := BuildWrite(tt.ev(), &res)
			if changed != tt.changed {
				t.Fatalf("changed = %v, want %v", changed, tt.changed)
			}
			if tt.check != nil {
				tt.check(t, w)
			}
		})
	}
}
