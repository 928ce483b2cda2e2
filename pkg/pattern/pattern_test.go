package pattern

import "testing"

func TestCompileNeverPanics(t *testing.T) {
	inputs := []string{
		"", "/", "//", "/[/", "/(?=x)/", "a/b/c", "*", "http://", "*://*",
		"^$.+?()[]{}|", "https://a.com/(x)[y]+", "://host/", "*://*/*", AllURLs,
	}
	for _, in := range inputs {
		m := Compile(in)
		if m == nil {
			t.Fatalf("Compile(%q) returned nil", in)
		}
		_ = m.Test("https://example.com/a")
		_ = m.Match("https://example.com/a")
		_ = CompileText(in).Test("name")
	}
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		url     string
		want    bool
	}{
		{"*://*.example.com/*", "https://a.b.example.com/x", true},
		{"*://*.example.com/*", "https://example.com/", true},
		{"*://*.example.com/*", "https://evil.com/x", false},
		{"*://*.example.com/*", "https://notexample.com/x", false},
		{"https://*/*", "http://a.com/", false},
		{"*://*/*", "ftp://files.example.org/pub", true},
		{"*://x.com/a.b", "https://x.com/aXb", false},
		{"*://x.com/a?b", "https://x.com/a?b", true},
		{"*://x.com/a?b", "https://x.com/ab", false},
		{"*://x.com/api/*/v1", "https://x.com/api/users/v1", true},
		{"*://bücher.de/*", "https://xn--bcher-kva.de/", true},
		{"no-scheme", "https://x.com/", false},
		{AllURLs, "anything at all", true},
		{AllURLs, "", true},
		{"/^https:\\/\\/x\\.com/", "https://x.com/q", true},
		{"/(unclosed/", "https://x.com/", false},
		{"/", "/", false},
	}
	for _, tt := range tests {
		if got := Compile(tt.pattern).Test(tt.url); got != tt.want {
			t.Errorf("Compile(%q).Test(%q) = %v, want %v", tt.pattern, tt.url, got, tt.want)
		}
	}
}

func TestCaptures(t *testing.T) {
	c := Compile("*://old.com/*").Match("http://old.com/path/a?b=1")
	if c == nil {
		t.Fatal("expected match")
	}
	cases := map[string]string{
		"1":      "http",
		"2":      "old.com",
		"3":      "path/a?b=1",
		"scheme": "http",
		"host":   "old.com",
		"path":   "path/a?b=1",
		"9":      "",
		"nope":   "",
	}
	for key, want := range cases {
		if got := c.Get(key); got != want {
			t.Errorf("Get(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestFill(t *testing.T) {
	c := Compile("/^https://(?P<host>[^/]+)/(\\w+)/").Match("https://a.com/foo/bar")
	if c == nil {
		t.Fatal("expected match")
	}
	tests := []struct {
		tpl  string
		want string
	}{
		{"https://b.com/$2", "https://b.com/foo"},
		{"https://b.com/${host}/x", "https://b.com/a.com/x"},
		{`price: \$2`, "price: $2"},
		{"$missing-end", "-end"},
		{"${9}", ""},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := Fill(tt.tpl, c); got != tt.want {
			t.Errorf("Fill(%q) = %q, want %q", tt.tpl, got, tt.want)
		}
	}
	if got := Fill("$1", nil); got != "" {
		t.Errorf("Fill with nil captures = %q", got)
	}
}

func TestCompileText(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"", "anything", true},
		{"sid", "sid", true},
		{"sid", "sid2", false},
		{"_ga*", "_ga_XYZ", true},
		{"/^tr.+/", "track", true},
		{"a.b", "aXb", false},
	}
	for _, tt := range tests {
		if got := CompileText(tt.pattern).Test(tt.name); got != tt.want {
			t.Errorf("CompileText(%q).Test(%q) = %v, want %v", tt.pattern, tt.name, got, tt.want)
		}
	}
}
