package rulespec

import (
	"reflect"
	"testing"

	json "github.com/goccy/go-json"
)

func TestReorder(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}
	tests := []struct {
		name      string
		selection []int
		target    int
		downward  bool
		want      []string
		ok        bool
	}{
		{"up single", []int{3}, 1, false, []string{"a", "d", "b", "c", "e"}, true},
		{"down single", []int{0}, 2, true, []string{"b", "c", "a", "d", "e"}, true},
		{"down block", []int{3, 0}, 4, true, []string{"b", "c", "e", "a", "d"}, true},
		{"up block keeps order", []int{4, 2}, 0, false, []string{"c", "e", "a", "b", "d"}, true},
		{"empty selection", nil, 1, false, nil, false},
		{"target out of range", []int{1}, 5, false, nil, false},
		{"negative target", []int{1}, -1, true, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Reorder(items, tt.selection, tt.target, tt.downward)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReorderSettledIsIdempotent(t *testing.T) {
	items := []string{"a", "b", "c", "d"}
	once, ok := Reorder(items, []int{0}, 2, true)
	if !ok {
		t.Fatal("expected reorder")
	}
	// "a" now sits at index 2; moving it to the same place again changes nothing
	twice, ok := Reorder(once, []int{2}, 2, true)
	if !ok || !reflect.DeepEqual(once, twice) {
		t.Errorf("second move changed order: %v -> %v", once, twice)
	}
}

func TestNormalizeLegacyRequestRule(t *testing.T) {
	raw := json.RawMessage(`{"method":"GET","url":"*://old.com/*","target":"https://new.com/$1","requestHeaders":{"X-A":"1"}}`)
	got := NormalizeRequestRule(raw)
	if len(got) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(got))
	}
	if got[0].Type != RequestRedirect || got[0].Target != `https://new.com/\$1` {
		t.Errorf("redirect rule = %+v", got[0])
	}
	if !reflect.DeepEqual(got[0].Methods, []string{"get"}) {
		t.Errorf("methods = %v", got[0].Methods)
	}
	if got[1].Type != RequestHeaders || len(got[1].RequestHeaders) != 1 || got[1].RequestHeaders[0].Name != "X-A" {
		t.Errorf("headers rule = %+v", got[1])
	}
}

func TestNormalizeLegacyTargets(t *testing.T) {
	tests := []struct {
		raw      string
		wantType []RequestType
	}{
		{`{"url":"*://a/*","target":"="}`, nil},
		{`{"url":"*://a/*","target":"-"}`, []RequestType{RequestBlock}},
		{`{"url":"*://a/*"}`, []RequestType{RequestBlock}},
		{`{"url":"*://a/*","target":"<text/plain\nhello"}`, []RequestType{RequestReplace}},
		{`{"url":"*://a/*","target":"=","headers":[["-cookie",""],["x-b","2"]]}`, []RequestType{RequestHeaders}},
	}
	for _, tt := range tests {
		got := NormalizeRequestRule(json.RawMessage(tt.raw))
		var types []RequestType
		for _, r := range got {
			types = append(types, r.Type)
		}
		if !reflect.DeepEqual(types, tt.wantType) {
			t.Errorf("%s: types = %v, want %v", tt.raw, types, tt.wantType)
		}
	}
	replace := NormalizeRequestRule(json.RawMessage(`{"url":"*://a/*","target":"<text/plain\nhello"}`))[0]
	if replace.ContentType != "text/plain" || replace.Target != "hello" {
		t.Errorf("replace = %+v", replace)
	}
	headers := NormalizeRequestRule(json.RawMessage(`{"url":"*://a/*","target":"=","headers":[["-cookie",""]]}`))[0]
	if headers.RequestHeaders[0].Name != "!cookie" {
		t.Errorf("legacy removal not converted: %+v", headers.RequestHeaders)
	}
}

func TestNormalizeTypedRequestRule(t *testing.T) {
	raw := json.RawMessage(`{"type":"transform","url":"*://a.com/*","methods":["POST",""],"enabled":false,"transform":{"host":"b.com","query":[{"name":"!utm","value":""}]}}`)
	got := NormalizeRequestRule(raw)
	if len(got) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(got))
	}
	r := got[0]
	if r.Enabled || r.Type != RequestTransform || r.Transform == nil || r.Transform.Host != "b.com" {
		t.Errorf("rule = %+v", r)
	}
	if !reflect.DeepEqual(r.Methods, []string{"post"}) {
		t.Errorf("methods = %v", r.Methods)
	}
}

func TestNormalizeCookieRule(t *testing.T) {
	r := NormalizeCookieRule(json.RawMessage(`{"url":"*://*/*","name":"sid","sameSite":"lax","httpOnly":true,"ttl":0}`))
	if !r.Enabled || r.Name != "sid" || *r.SameSite != SameSiteLax || !*r.HTTPOnly || r.Secure != nil || *r.TTL != 0 {
		t.Errorf("rule = %+v", r)
	}
	r = NormalizeCookieRule(json.RawMessage(`{"url":"*://*/*"}`))
	if r.TTL != nil || r.SameSite != nil {
		t.Errorf("absent fields should stay nil: %+v", r)
	}
}

func TestParseQueryEdit(t *testing.T) {
	q := ParseQueryEdit([]KeyValue{{Name: "?a=1"}, {Name: "b", Value: "2"}})
	if q.Raw == nil || *q.Raw != "?a=1" || len(q.Set) != 0 {
		t.Errorf("raw query = %+v", q)
	}
	q = ParseQueryEdit([]KeyValue{{Name: "!"}})
	if q.Raw == nil || *q.Raw != "" {
		t.Errorf("clear query = %+v", q)
	}
	q = ParseQueryEdit([]KeyValue{{Name: "a", Value: "1"}, {Name: "#b", Value: "2"}, {Name: "!c"}})
	if q.Raw != nil || len(q.Set) != 1 || !reflect.DeepEqual(q.Remove, []string{"c"}) {
		t.Errorf("edits = %+v", q)
	}
	if !ParseQueryEdit(nil).Empty() {
		t.Error("nil edit should be empty")
	}
}

func TestHeaderOps(t *testing.T) {
	ops := HeaderOps([]KeyValue{{Name: "X-A", Value: "1"}, {Name: "#X-B", Value: "2"}, {Name: "!Cookie"}, {Name: ""}})
	want := []HeaderOp{{Name: "X-A", Value: "1"}, {Name: "Cookie", Remove: true}}
	if !reflect.DeepEqual(ops, want) {
		t.Errorf("ops = %+v, want %+v", ops, want)
	}
}

func TestDecodeList(t *testing.T) {
	got, err := DecodeList([]byte(`{"id":4,"rules":[{"url":"*://a.com/*","target":"-"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != 4 || got.Type != ListTypeRequest || !got.Enabled || got.Name != DefaultName {
		t.Errorf("defaults not applied: %+v", got)
	}
	if len(got.Rules) != 1 || got.Rules[0].Type != RequestBlock {
		t.Errorf("rules = %+v", got.Rules)
	}

	cookie, err := DecodeList([]byte(`{"type":"cookie","enabled":false,"rules":[{"url":"*://*/*","ttl":0}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if cookie.Enabled || cookie.Rules[0].TTL == nil || *cookie.Rules[0].TTL != 0 {
		t.Errorf("cookie list = %+v", cookie)
	}

	for _, raw := range []string{`[]`, `{"name":"x"}`, `{"rules":{}}`, `nope`} {
		if _, err := DecodeList([]byte(raw)); err != ErrInvalidList {
			t.Errorf("DecodeList(%s) err = %v", raw, err)
		}
	}
}
