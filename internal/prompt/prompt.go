// Package prompt implements the prompt template registry. Prompts are loaded
// once at process start from a directory of YAML files and are read-only
// afterwards, so lookups need no locking.
//
// A prompt file supplies metadata plus either a single templated string
// (form "prompt") or a template that renders to a YAML list of chat messages
// (form "messages"). Templates use strict semantics: rendering fails when a
// referenced variable is unbound.
package prompt

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"text/template/parse"

	"gopkg.in/yaml.v3"

	"github.com/fylr-ai/fylr/pkg/provider"
)

// ErrNotFound is returned when no entry matches the requested id/version.
var ErrNotFound = errors.New("prompt not found")

// ErrRender is returned when template execution or post-render message
// parsing fails.
var ErrRender = errors.New("prompt render failed")

// ValidationError reports required variables that were not supplied.
type ValidationError struct {
	Key     string
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("prompt %s: missing required variables: %v", e.Key, e.Missing)
}

// Entry is one loaded prompt template.
type Entry struct {
	ID          string
	Version     string
	Description string

	// Form is "prompt" (single string) or "messages" (YAML message list).
	Form string

	// Required lists the variables that must be present in a render call,
	// either declared in the YAML or inferred from the template text.
	Required []string

	// Meta is the free-form metadata map from the YAML file. The
	// Auto-Router reads the "complexity" key.
	Meta map[string]any

	tmpl *template.Template
}

// Key returns the registry key "id@version".
func (e *Entry) Key() string {
	return e.ID + "@" + e.Version
}

// Rendered is the result of rendering an entry.
type Rendered struct {
	Type     string             `json:"type"`
	Version  string             `json:"version"`
	Form     string             `json:"form"`
	Prompt   string             `json:"prompt,omitempty"`
	Messages []provider.Message `json:"messages,omitempty"`
	Meta     map[string]any     `json:"meta,omitempty"`
}

// Registry holds all loaded prompt entries keyed by "id@version".
type Registry struct {
	store map[string]*Entry
}

// promptFile is the YAML shape of a prompt definition.
type promptFile struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Version     string         `yaml:"version"`
	Description string         `yaml:"description"`
	Form        string         `yaml:"form"`
	Template    string         `yaml:"template"`
	Variables   []variableDecl `yaml:"variables"`
	Meta        map[string]any `yaml:"meta"`
}

// variableDecl accepts both the object form ({name, required}) and the
// legacy bare-string form, which implies required.
type variableDecl struct {
	Name     string
	Required bool
}

func (v *variableDecl) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		v.Name = node.Value
		v.Required = true
		return nil
	}
	var obj struct {
		Name     string `yaml:"name"`
		Required bool   `yaml:"required"`
	}
	if err := node.Decode(&obj); err != nil {
		return err
	}
	v.Name = obj.Name
	v.Required = obj.Required
	return nil
}

// Load reads all *.yml and *.yaml files in dir and compiles their templates.
// Files that fail to parse are logged and skipped; duplicate keys are logged
// and the last file wins.
func Load(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("prompt: read directory %s: %w", dir, err)
	}

	reg := &Registry{store: make(map[string]*Entry)}
	for _, de := range entries {
		name := de.Name()
		ext := filepath.Ext(name)
		if de.IsDir() || (ext != ".yml" && ext != ".yaml") {
			continue
		}
		path := filepath.Join(dir, name)
		entry, err := loadFile(path)
		if err != nil {
			slog.Error("failed to load prompt file", "file", path, "err", err)
			continue
		}
		if _, ok := reg.store[entry.Key()]; ok {
			slog.Warn("duplicate prompt key, overwriting", "key", entry.Key(), "file", path)
		}
		reg.store[entry.Key()] = entry
		slog.Debug("loaded prompt", "key", entry.Key(), "form", entry.Form)
	}

	slog.Info("prompt registry loaded", "dir", dir, "prompts", len(reg.store))
	return reg, nil
}

// loadFile parses one YAML prompt definition and compiles its template.
func loadFile(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pf promptFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	id := pf.ID
	if id == "" {
		id = pf.Name
	}
	if id == "" {
		base := filepath.Base(path)
		id = strings.TrimSuffix(base, filepath.Ext(base))
	}
	version := pf.Version
	if version == "" {
		version = "v1"
	}
	form := pf.Form
	if form == "" {
		form = "prompt"
	}
	if form != "prompt" && form != "messages" {
		return nil, fmt.Errorf("unknown form %q", form)
	}
	if pf.Template == "" {
		return nil, fmt.Errorf("prompt %s@%s has no template", id, version)
	}

	tmpl, err := template.New(id).Option("missingkey=error").Parse(pf.Template)
	if err != nil {
		return nil, fmt.Errorf("compile template: %w", err)
	}

	entry := &Entry{
		ID:          id,
		Version:     version,
		Description: pf.Description,
		Form:        form,
		Meta:        pf.Meta,
		tmpl:        tmpl,
	}
	entry.Required = requiredVars(pf.Variables, tmpl)
	return entry, nil
}

// requiredVars returns the declared required variables, or when none are
// declared, the variables referenced by the template itself.
func requiredVars(decls []variableDecl, tmpl *template.Template) []string {
	var declared []string
	for _, d := range decls {
		if d.Required && d.Name != "" {
			declared = append(declared, d.Name)
		}
	}
	if len(declared) > 0 {
		return declared
	}
	return inferVars(tmpl)
}

// inferVars walks the parsed template tree and collects the top-level field
// names it references, sorted.
func inferVars(tmpl *template.Template) []string {
	seen := map[string]bool{}
	for _, t := range tmpl.Templates() {
		if t.Tree != nil && t.Tree.Root != nil {
			walkFields(t.Tree.Root, seen)
		}
	}
	vars := make([]string, 0, len(seen))
	for v := range seen {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}

func walkFields(node parse.Node, seen map[string]bool) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, child := range n.Nodes {
			walkFields(child, seen)
		}
	case *parse.ActionNode:
		walkPipe(n.Pipe, seen)
	case *parse.IfNode:
		walkPipe(n.Pipe, seen)
		walkFields(n.List, seen)
		if n.ElseList != nil {
			walkFields(n.ElseList, seen)
		}
	case *parse.RangeNode:
		walkPipe(n.Pipe, seen)
		walkFields(n.List, seen)
		if n.ElseList != nil {
			walkFields(n.ElseList, seen)
		}
	case *parse.WithNode:
		walkPipe(n.Pipe, seen)
		walkFields(n.List, seen)
		if n.ElseList != nil {
			walkFields(n.ElseList, seen)
		}
	case *parse.TemplateNode:
		walkPipe(n.Pipe, seen)
	}
}

func walkPipe(pipe *parse.PipeNode, seen map[string]bool) {
	if pipe == nil {
		return
	}
	for _, cmd := range pipe.Cmds {
		for _, arg := range cmd.Args {
			if f, ok := arg.(*parse.FieldNode); ok && len(f.Ident) > 0 {
				seen[f.Ident[0]] = true
			}
		}
	}
}

// List returns all registry keys, sorted.
func (r *Registry) List() []string {
	keys := make([]string, 0, len(r.store))
	for k := range r.store {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the entry for id and version. With version empty the
// highest-versioned entry wins (lexicographic descending).
func (r *Registry) Get(id, version string) (*Entry, error) {
	if version != "" {
		entry, ok := r.store[id+"@"+version]
		if !ok {
			return nil, fmt.Errorf("%w: %s@%s", ErrNotFound, id, version)
		}
		return entry, nil
	}

	var best *Entry
	for key, entry := range r.store {
		if !strings.HasPrefix(key, id+"@") {
			continue
		}
		if best == nil || entry.Version > best.Version {
			best = entry
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return best, nil
}

// Complexity returns the "complexity" metadata of the given prompt version.
// It satisfies the Auto-Router's metadata lookup.
func (r *Registry) Complexity(id, version string) (string, bool) {
	entry, err := r.Get(id, version)
	if err != nil {
		return "", false
	}
	c, ok := entry.Meta["complexity"].(string)
	if !ok || c == "" {
		return "", false
	}
	return c, true
}

// Render renders the prompt with vars. Missing required variables fail with
// a *ValidationError before any template execution.
func (r *Registry) Render(id, version string, vars map[string]any) (*Rendered, error) {
	entry, err := r.Get(id, version)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, req := range entry.Required {
		if _, ok := vars[req]; !ok {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Key: entry.Key(), Missing: missing}
	}
	if vars == nil {
		vars = map[string]any{}
	}

	var sb strings.Builder
	if err := entry.tmpl.Execute(&sb, vars); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRender, entry.Key(), err)
	}
	rendered := sb.String()

	out := &Rendered{
		Type:    entry.ID,
		Version: entry.Version,
		Form:    entry.Form,
		Meta:    entry.Meta,
	}
	if entry.Form == "prompt" {
		out.Prompt = rendered
		return out, nil
	}

	messages, err := parseMessages(rendered)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRender, entry.Key(), err)
	}
	out.Messages = messages
	return out, nil
}

// parseMessages parses a rendered "messages" template into role/content
// pairs. The rendered text must be a YAML (or JSON) list whose elements each
// carry content; role defaults to "user".
func parseMessages(rendered string) ([]provider.Message, error) {
	var raw []map[string]any
	if err := yaml.Unmarshal([]byte(rendered), &raw); err != nil {
		return nil, fmt.Errorf("rendered template is not a valid message list: %v", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("rendered template produced no messages")
	}

	messages := make([]provider.Message, 0, len(raw))
	for i, m := range raw {
		content, ok := m["content"].(string)
		if !ok {
			return nil, fmt.Errorf("message element #%d has no content", i)
		}
		role, _ := m["role"].(string)
		if role == "" {
			role = "user"
		}
		messages = append(messages, provider.Message{Role: role, Content: content})
	}
	return messages, nil
}

// Inspection describes an entry without rendering it.
type Inspection struct {
	Type        string         `json:"type"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Form        string         `json:"form"`
	Required    []string       `json:"required_variables"`
	Meta        map[string]any `json:"meta,omitempty"`
	HasTemplate bool           `json:"has_template"`
}

// Inspect returns metadata about the entry for admin endpoints.
func (r *Registry) Inspect(id, version string) (*Inspection, error) {
	entry, err := r.Get(id, version)
	if err != nil {
		return nil, err
	}
	return &Inspection{
		Type:        entry.ID,
		Version:     entry.Version,
		Description: entry.Description,
		Form:        entry.Form,
		Required:    entry.Required,
		Meta:        entry.Meta,
		HasTemplate: entry.tmpl != nil,
	}, nil
}
