package urlmodel

import "testing"

func TestParseBasic(t *testing.T) {
	u, err := Parse("http://example.com/foo?bar=1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u.Scheme != "http" || u.Host != "example.com" || u.Port != 80 {
		t.Fatalf("unexpected url: %+v", u)
	}
	if u.Path != "/foo" || u.RawQuery != "bar=1" || !u.HasQuery {
		t.Fatalf("unexpected path/query: %+v", u)
	}
}

func TestParseEmptyPathNormalizesToSlash(t *testing.T) {
	u, err := Parse("https://example.com")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u.Path != "/" {
		t.Fatalf("Path = %q, want %q", u.Path, "/")
	}
}

func TestParseExplicitPort(t *testing.T) {
	u, err := Parse("http://example.com:8080/")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u.Port != 8080 || !u.HasPort {
		t.Fatalf("unexpected port: %+v", u)
	}
	if got := u.HostHeader(); got != "example.com:8080" {
		t.Errorf("HostHeader() = %q, want %q", got, "example.com:8080")
	}
}

func TestHostHeaderOmitsImpliedPort(t *testing.T) {
	u, _ := Parse("https://example.com:443/x")
	if got := u.HostHeader(); got != "example.com" {
		t.Errorf("HostHeader() = %q, want %q (implied port omitted)", got, "example.com")
	}
	u2, _ := Parse("http://example.com/x")
	if got := u2.HostHeader(); got != "example.com" {
		t.Errorf("HostHeader() = %q, want %q", got, "example.com")
	}
}

func TestParseIPv6Authority(t *testing.T) {
	u, err := Parse("http://[::1]:8080/path")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u.Host != "[::1]" || u.Port != 8080 {
		t.Fatalf("unexpected url: %+v", u)
	}
}

func TestParseFragmentNotInRequestTarget(t *testing.T) {
	u, err := Parse("http://example.com/foo#section")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u.Fragment != "section" {
		t.Fatalf("Fragment = %q", u.Fragment)
	}
	if target := u.RequestTarget(); target != "/foo" {
		t.Errorf("RequestTarget() = %q, must never contain the fragment", target)
	}
}

func TestParseUnsupportedScheme(t *testing.T) {
	if _, err := Parse("ftp://example.com/"); err == nil {
		t.Fatal("expected an error for a non-http(s) scheme")
	}
}

func TestResolveRedirectAbsolute(t *testing.T) {
	current, _ := Parse("http://a.example/x")
	next, err := ResolveRedirect(current, "https://b.example/y")
	if err != nil {
		t.Fatalf("ResolveRedirect: %v", err)
	}
	if next.Scheme != "https" || next.Host != "b.example" || next.Path != "/y" {
		t.Fatalf("unexpected redirect target: %+v", next)
	}
}

func TestResolveRedirectAbsolutePath(t *testing.T) {
	current, _ := Parse("http://a.example/x/y?old=1")
	next, err := ResolveRedirect(current, "/b")
	if err != nil {
		t.Fatalf("ResolveRedirect: %v", err)
	}
	if next.Host != "a.example" || next.Path != "/b" || next.HasQuery {
		t.Fatalf("unexpected redirect target: %+v", next)
	}
}

func TestResolveRedirectRelative(t *testing.T) {
	current, _ := Parse("http://a.example/dir/page")
	next, err := ResolveRedirect(current, "other")
	if err != nil {
		t.Fatalf("ResolveRedirect: %v", err)
	}
	if next.Path != "/dir/other" {
		t.Errorf("Path = %q, want %q", next.Path, "/dir/other")
	}
}

func TestResolveRedirectFragmentInheritance(t *testing.T) {
	current, _ := Parse("http://a.example/x#keep")
	next, err := ResolveRedirect(current, "/y")
	if err != nil {
		t.Fatalf("ResolveRedirect: %v", err)
	}
	if next.Fragment != "keep" {
		t.Errorf("Fragment = %q, want inherited %q", next.Fragment, "keep")
	}

	next2, err := ResolveRedirect(current, "/z#override")
	if err != nil {
		t.Fatalf("ResolveRedirect: %v", err)
	}
	if next2.Fragment != "override" {
		t.Errorf("Fragment = %q, want %q", next2.Fragment, "override")
	}
}

func TestRedirectStatuses(t *testing.T) {
	for _, code := range []int{301, 302, 303, 307, 308} {
		if !RedirectStatuses[code] {
			t.Errorf("status %d should trigger redirect resolution", code)
		}
	}
	if RedirectStatuses[200] || RedirectStatuses[404] {
		t.Error("200/404 should not trigger redirect resolution")
	}
}
