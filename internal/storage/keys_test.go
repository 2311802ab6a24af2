package storage

import (
	"strings"
	"testing"
)

func TestKeyFor(t *testing.T) {
	tenant := Tenant{Site: "site1", Box: "box1", Resource: "res1"}
	got := KeyFor(tenant, "photo.png")
	want := "site1/box1/res1/photo.png"
	if got != want {
		t.Errorf("KeyFor: got %q, want %q", got, want)
	}
}

func TestPrefixFor(t *testing.T) {
	tenant := Tenant{Site: "site1", Box: "box1", Resource: "res1"}
	got := PrefixFor(tenant)
	want := "site1/box1/res1/"
	if got != want {
		t.Errorf("PrefixFor: got %q, want %q", got, want)
	}
}

func TestKeyUnderOwnPrefix(t *testing.T) {
	tenant := Tenant{Site: "s", Box: "b", Resource: "r"}
	key := KeyFor(tenant, "f.bin")
	if !strings.HasPrefix(key, PrefixFor(tenant)) {
		t.Errorf("key %q not under prefix %q", key, PrefixFor(tenant))
	}
}

// A tenant whose resource ID is a textual prefix of a sibling's must not
// see the sibling's keys under its prefix.
func TestPrefixExcludesTextualSiblings(t *testing.T) {
	tenant := Tenant{Site: "site1", Box: "box1", Resource: "res1"}
	sibling := Tenant{Site: "site1", Box: "box1", Resource: "res10"}

	siblingKey := KeyFor(sibling, "file.png")
	if strings.HasPrefix(siblingKey, PrefixFor(tenant)) {
		t.Errorf("sibling key %q matched prefix %q", siblingKey, PrefixFor(tenant))
	}
}
