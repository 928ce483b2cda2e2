package session

import (
	"context"
	"testing"
	"time"

	"requestx/internal/cookie"
	"requestx/pkg/model"
	"requestx/pkg/traffic"
)

func TestCloseFlushesPendingCookies(t *testing.T) {
	var written []traffic.CookieWrite
	s := New(model.SessionConfig{})
	s.Cookies = cookie.New(cookie.Options{
		Writer: cookie.WriterFunc(func(_ context.Context, w traffic.CookieWrite) error {
			written = append(written, w)
			return nil
		}),
		Delay: time.Hour,
	})
	s.Cookies.Enqueue(traffic.CookieWrite{URL: "https://a.com/", Name: "sid", Value: "1"})

	s.Close()
	if len(written) != 1 || written[0].Name != "sid" {
		t.Fatalf("written = %+v", written)
	}
	if s.Cookies.Pending() != 0 || s.Cookies.State() != cookie.StateIdle {
		t.Errorf("pending = %d, state = %v", s.Cookies.Pending(), s.Cookies.State())
	}
}
