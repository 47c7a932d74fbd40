package profile

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	valid := []string{"default", "campus-main", "alt_2", "a"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "With Caps", "slash/name", "dot.name", strings.Repeat("x", 65)}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}

func TestPathsShareProfileDir(t *testing.T) {
	dir := Dir("campus")
	for _, p := range []string{DBPath("campus"), KVDir("campus"), LogPath("campus")} {
		if !strings.HasPrefix(p, dir) {
			t.Errorf("%q not under profile dir %q", p, dir)
		}
	}
}

func TestResolveFlagWins(t *testing.T) {
	if got := Resolve("side"); got != "side" {
		t.Errorf("Resolve(flag) = %q, want side", got)
	}
}
