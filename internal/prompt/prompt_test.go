package prompt

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writePrompt(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write prompt file: %v", err)
	}
}

func loadDir(t *testing.T, files map[string]string) *Registry {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		writePrompt(t, dir, name, content)
	}
	reg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return reg
}

const promptForm = `id: greeting
version: v1
description: Greets someone.
form: prompt
meta:
  complexity: simple
variables:
  - name
template: "Hello {{.name}}, welcome!"
`

const messagesForm = `id: dialogue
version: v2
form: messages
variables:
  - topic
template: |
  - role: system
    content: "You discuss {{.topic}}."
  - role: user
    content: "Tell me about {{.topic}}."
`

func TestLoad_AndList(t *testing.T) {
	reg := loadDir(t, map[string]string{
		"greeting.yaml": promptForm,
		"dialogue.yaml": messagesForm,
		"ignored.txt":   "not yaml",
	})
	keys := reg.List()
	want := []string{"dialogue@v2", "greeting@v1"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key %d = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestLoad_SkipsBrokenFiles(t *testing.T) {
	reg := loadDir(t, map[string]string{
		"good.yaml":   promptForm,
		"broken.yaml": "template: \"{{.unclosed\"",
	})
	if got := len(reg.List()); got != 1 {
		t.Errorf("loaded prompts = %d, want broken file skipped", got)
	}
}

func TestRender_PromptForm(t *testing.T) {
	reg := loadDir(t, map[string]string{"greeting.yaml": promptForm})

	out, err := reg.Render("greeting", "v1", map[string]any{"name": "Ada"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out.Form != "prompt" || out.Prompt != "Hello Ada, welcome!" {
		t.Errorf("rendered = %+v", out)
	}
	if out.Meta["complexity"] != "simple" {
		t.Errorf("meta = %v, want complexity carried through", out.Meta)
	}
}

func TestRender_MessagesForm(t *testing.T) {
	reg := loadDir(t, map[string]string{"dialogue.yaml": messagesForm})

	out, err := reg.Render("dialogue", "", map[string]any{"topic": "tides"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(out.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(out.Messages))
	}
	if out.Messages[0].Role != "system" || out.Messages[0].Content != "You discuss tides." {
		t.Errorf("message 0 = %+v", out.Messages[0])
	}
	if out.Messages[1].Role != "user" {
		t.Errorf("message 1 role = %q, want user", out.Messages[1].Role)
	}
}

func TestRender_MissingRequiredVariable(t *testing.T) {
	reg := loadDir(t, map[string]string{"greeting.yaml": promptForm})

	_, err := reg.Render("greeting", "v1", nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if len(verr.Missing) != 1 || verr.Missing[0] != "name" {
		t.Errorf("missing = %v, want [name]", verr.Missing)
	}
}

func TestRender_UnknownPrompt(t *testing.T) {
	reg := loadDir(t, map[string]string{"greeting.yaml": promptForm})
	if _, err := reg.Render("nope", "", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGet_HighestVersionWins(t *testing.T) {
	v1 := "id: multi\nversion: v1\ntemplate: \"one\"\n"
	v2 := "id: multi\nversion: v2\ntemplate: \"two\"\n"
	reg := loadDir(t, map[string]string{"multi-v1.yaml": v1, "multi-v2.yaml": v2})

	entry, err := reg.Get("multi", "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.Version != "v2" {
		t.Errorf("version = %q, want v2", entry.Version)
	}
	pinned, err := reg.Get("multi", "v1")
	if err != nil {
		t.Fatalf("Get pinned: %v", err)
	}
	if pinned.Version != "v1" {
		t.Errorf("pinned version = %q, want v1", pinned.Version)
	}
}

func TestInferredVariables(t *testing.T) {
	// No variables declared: the template's own references become required.
	content := "id: inferred\ntemplate: \"{{.alpha}} and {{.beta}}\"\n"
	reg := loadDir(t, map[string]string{"inferred.yaml": content})

	entry, err := reg.Get("inferred", "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(entry.Required) != 2 || entry.Required[0] != "alpha" || entry.Required[1] != "beta" {
		t.Errorf("required = %v, want [alpha beta]", entry.Required)
	}
}

func TestComplexity(t *testing.T) {
	reg := loadDir(t, map[string]string{
		"greeting.yaml": promptForm,
		"plain.yaml":    "id: plain\ntemplate: \"no meta here\"\n",
	})

	if c, ok := reg.Complexity("greeting", "v1"); !ok || c != "simple" {
		t.Errorf("Complexity(greeting) = %q, %v", c, ok)
	}
	if _, ok := reg.Complexity("plain", ""); ok {
		t.Error("Complexity(plain) reported a class without meta")
	}
	if _, ok := reg.Complexity("missing", ""); ok {
		t.Error("Complexity(missing) reported a class for unknown prompt")
	}
}

func TestInspect(t *testing.T) {
	reg := loadDir(t, map[string]string{"greeting.yaml": promptForm})

	insp, err := reg.Inspect("greeting", "")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if insp.Type != "greeting" || insp.Form != "prompt" || !insp.HasTemplate {
		t.Errorf("inspection = %+v", insp)
	}
	if len(insp.Required) != 1 || insp.Required[0] != "name" {
		t.Errorf("required = %v, want [name]", insp.Required)
	}
}
