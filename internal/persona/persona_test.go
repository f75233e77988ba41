package persona

import "testing"

func TestCatalog(t *testing.T) {
	all := All()
	if len(all) != 5 {
		t.Fatalf("expected 5 characters, got %d", len(all))
	}
	seen := make(map[string]bool)
	for _, p := range all {
		if p.ID == "" || p.Name == "" || p.SystemPrompt == "" {
			t.Fatalf("incomplete character %#v", p)
		}
		if seen[p.ID] {
			t.Fatalf("duplicate character id %q", p.ID)
		}
		seen[p.ID] = true
	}
}

func TestGet(t *testing.T) {
	p, ok := Get("luna-dreamweaver")
	if !ok {
		t.Fatalf("expected luna-dreamweaver to exist")
	}
	if p.Name != "Luna Dreamweaver" {
		t.Fatalf("unexpected name %q", p.Name)
	}
	if _, ok := Get("nobody"); ok {
		t.Fatalf("unknown id must not resolve")
	}
}

func TestAllReturnsCopy(t *testing.T) {
	first := All()
	first[0].Name = "mutated"
	if second := All(); second[0].Name == "mutated" {
		t.Fatalf("catalog must not be mutable through All")
	}
}
