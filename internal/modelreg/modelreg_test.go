package modelreg

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const registryYAML = `models:
  - provider: jina
    model: jina-clip-v2
    version: "1"
    timestamp: "1718000000"
    dimensions: 1024
    isDefault: true
  - provider: openai
    model: text-embedding-3-small
    version: "1"
    timestamp: "1718000001"
    dimensions: 1536
`

func loadRegistry(t *testing.T) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "models.yaml")
	if err := os.WriteFile(path, []byte(registryYAML), 0o644); err != nil {
		t.Fatalf("write registry file: %v", err)
	}
	reg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return reg
}

func TestFullModelRoundTrip(t *testing.T) {
	m := Model{Provider: "jina", Model: "jina-clip-v2", Version: "1", Timestamp: "1718000000"}
	full := m.FullModel()
	if full != "1718000000@1@jina/jina-clip-v2" {
		t.Fatalf("FullModel = %q", full)
	}
	provider, model, err := ParseFullModel(full)
	if err != nil {
		t.Fatalf("ParseFullModel: %v", err)
	}
	if provider != "jina" || model != "jina-clip-v2" {
		t.Errorf("parsed = %s/%s", provider, model)
	}
}

func TestParseFullModel_Malformed(t *testing.T) {
	for _, in := range []string{"", "jina/clip", "1@jina/clip", "1@2@jinaclip", "1@2@/clip", "1@2@jina/"} {
		if _, _, err := ParseFullModel(in); err == nil {
			t.Errorf("ParseFullModel(%q) accepted malformed input", in)
		}
	}
}

func TestLoad_DefaultAndAll(t *testing.T) {
	reg := loadRegistry(t)

	def, ok := reg.Default()
	if !ok {
		t.Fatal("no default model")
	}
	if def.Provider != "jina" || def.Model != "jina-clip-v2" {
		t.Errorf("default = %s/%s", def.Provider, def.Model)
	}

	listing := reg.All()
	if len(listing.Models) != 2 {
		t.Fatalf("models = %d, want 2", len(listing.Models))
	}
	if listing.Default != "1718000000@1@jina/jina-clip-v2" {
		t.Errorf("listing default = %q", listing.Default)
	}
	if listing.Models[0].FullModel != "1718000000@1@jina/jina-clip-v2" {
		t.Errorf("listed full model = %q", listing.Models[0].FullModel)
	}
}

func TestSetDefault_SwitchesAndPersists(t *testing.T) {
	reg := loadRegistry(t)

	promoted, err := reg.SetDefault("openai", "text-embedding-3-small")
	if err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	if !promoted.IsDefault {
		t.Error("promoted model not marked default")
	}
	def, _ := reg.Default()
	if def.Provider != "openai" {
		t.Errorf("default = %s, want openai", def.Provider)
	}

	// The old default lost its flag.
	old, err := reg.Get("jina", "jina-clip-v2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if old.IsDefault {
		t.Error("previous default still flagged")
	}

	// The change survived the round-trip to disk.
	data, err := os.ReadFile(reg.path)
	if err != nil {
		t.Fatalf("read persisted registry: %v", err)
	}
	if !strings.Contains(string(data), "text-embedding-3-small") {
		t.Error("persisted file lost the promoted model")
	}
	reloaded, err := Load(reg.path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	def, ok := reloaded.Default()
	if !ok || def.Provider != "openai" {
		t.Errorf("reloaded default = %+v, %v", def, ok)
	}
}

func TestSetDefault_UnknownModel(t *testing.T) {
	reg := loadRegistry(t)
	if _, err := reg.SetDefault("nope", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeprecate(t *testing.T) {
	reg := loadRegistry(t)

	m, err := reg.Deprecate("openai", "text-embedding-3-small")
	if err != nil {
		t.Fatalf("Deprecate: %v", err)
	}
	if !m.IsDeprecated || m.DeprecationDate == "" {
		t.Errorf("deprecated model = %+v", m)
	}
}

func TestDeprecate_DefaultRejected(t *testing.T) {
	reg := loadRegistry(t)
	if _, err := reg.Deprecate("jina", "jina-clip-v2"); err == nil {
		t.Fatal("expected error deprecating the default model")
	}
}

func TestSetDefault_DeprecatedRejected(t *testing.T) {
	reg := loadRegistry(t)
	if _, err := reg.Deprecate("openai", "text-embedding-3-small"); err != nil {
		t.Fatalf("Deprecate: %v", err)
	}
	if _, err := reg.SetDefault("openai", "text-embedding-3-small"); err == nil {
		t.Fatal("expected error promoting a deprecated model")
	}
}
