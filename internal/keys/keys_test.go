package keys

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	for _, bad := range []string{"", "__session", "*", strings.Repeat("k", MaxKeyLen+1)} {
		if err := Validate(bad); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("Validate(%q): want ErrInvalidKey, got %v", bad, err)
		}
	}
	for _, good := range []string{"a", "user:1", "_single"} {
		if err := Validate(good); err != nil {
			t.Fatalf("Validate(%q): %v", good, err)
		}
	}
}

func TestUserExcludesInternalAndForeign(t *testing.T) {
	if k, ok := User("app", Storage("app", "user:1")); !ok || k != "user:1" {
		t.Fatalf("User: %q %v", k, ok)
	}
	for _, sk := range []string{
		Version("app", "x", 1),
		InternalKey("app", "settings"),
		Storage("other", "x"),
		"app:",
	} {
		if k, ok := User("app", sk); ok {
			t.Fatalf("User(%q) should be excluded, got %q", sk, k)
		}
	}
}

func TestVersionLayout(t *testing.T) {
	k := Version("app", "a:b", 42)
	if k != "app:__version:a:b:000000000042" {
		t.Fatalf("layout: %s", k)
	}
	if v, ok := ParseVersion(k); !ok || v != 42 {
		t.Fatalf("ParseVersion: %d %v", v, ok)
	}
	if _, ok := ParseVersion("app:__version:a:"); ok {
		t.Fatal("ParseVersion accepted empty number")
	}
}

func TestSortVersionsNewestFirstAndExact(t *testing.T) {
	cands := []string{
		Version("app", "a", 2),
		Version("app", "a", 10),
		Version("app", "a:b", 5), // different key sharing the prefix
		Version("app", "a", 1),
		"app:__version:a:garbage",
	}
	got := SortVersions("app", "a", cands)
	want := []int64{10, 2, 1}
	if len(got) != len(want) {
		t.Fatalf("got %+v", got)
	}
	for i, v := range want {
		if got[i].Version != v {
			t.Fatalf("pos %d: got %d want %d", i, got[i].Version, v)
		}
	}
}
