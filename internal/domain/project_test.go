package domain

import "testing"

func TestNormalizeSubdomain(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"MyApp!", "myapp"},
		{"my-app", "my-app"},
		{"  Spaced Out  ", "spacedout"},
		{"UPPER-case-123", "upper-case-123"},
		{"--edge--", "edge"},
		{"dots.and/slashes", "dotsandslashes"},
		{"!!!", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeSubdomain(tc.in); got != tc.want {
			t.Errorf("NormalizeSubdomain(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseBuildMode(t *testing.T) {
	if mode, err := ParseBuildMode(" Static "); err != nil || mode != ModeStatic {
		t.Fatalf("ParseBuildMode static: mode=%q err=%v", mode, err)
	}
	if mode, err := ParseBuildMode("SERVER"); err != nil || mode != ModeServer {
		t.Fatalf("ParseBuildMode server: mode=%q err=%v", mode, err)
	}
	if _, err := ParseBuildMode("lambda"); err == nil {
		t.Fatal("expected error for unknown build mode")
	}
	if _, err := ParseBuildMode(""); err == nil {
		t.Fatal("expected error for empty build mode")
	}
}

func TestProjectURL(t *testing.T) {
	p := Project{Subdomain: "myapp"}
	if got := p.URL("pier.local"); got != "https://myapp.pier.local" {
		t.Fatalf("URL = %q", got)
	}
}
