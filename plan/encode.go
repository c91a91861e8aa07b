package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/syssam/porter/graph"
)

// Format is a plan file format.
type Format string

// Supported plan formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatText Format = "text"
)

// FormatOf returns the format implied by the file extension.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".txt":
		return FormatText
	default:
		return FormatJSON
	}
}

// WriteJSON writes the plan as indented JSON.
func WriteJSON(w io.Writer, p *Plan) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}

// WriteYAML writes the plan as YAML.
func WriteYAML(w io.Writer, p *Plan) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return err
	}
	return enc.Close()
}

// WriteText writes a human-readable rendering of the plan. If g is not nil,
// every entity is listed with the entities it depends on.
func WriteText(w io.Writer, p *Plan, g *graph.Graph) error {
	pr := message.NewPrinter(language.English)
	var b bytes.Buffer
	pr.Fprintf(&b, "Migration plan: %d entities in %d stages\n", len(p.Entities()), len(p.Stages))
	for i, s := range p.Stages {
		title := fmt.Sprintf("Stage %d", i+1)
		fmt.Fprintf(&b, "\n%s\n%s\n", title, strings.Repeat("=", len(title)))
		for _, name := range s {
			deps := dependencies(g, name)
			if len(deps) == 0 {
				fmt.Fprintf(&b, "  - %s\n", name)
				continue
			}
			fmt.Fprintf(&b, "  - %s (depends on: %s)\n", name, strings.Join(deps, ", "))
		}
	}
	d := p.Diagnostics
	if len(d.CyclesDetected) > 0 {
		pr.Fprintf(&b, "\nCycles detected (%d):\n", len(d.CyclesDetected))
		for _, c := range d.CyclesDetected {
			fmt.Fprintf(&b, "  - %s\n", strings.Join(c, ", "))
		}
	}
	if len(d.EdgesBroken) > 0 {
		pr.Fprintf(&b, "\nEdges broken (%d):\n", len(d.EdgesBroken))
		for _, e := range d.EdgesBroken {
			fmt.Fprintf(&b, "  - %s\n", e)
		}
	}
	if len(d.Warnings) > 0 {
		fmt.Fprintf(&b, "\nWarnings:\n")
		for _, msg := range d.Warnings {
			fmt.Fprintf(&b, "  - %s\n", msg)
		}
	}
	_, err := w.Write(b.Bytes())
	return err
}

// dependencies returns the sorted, distinct entities that name depends on,
// self-references excluded.
func dependencies(g *graph.Graph, name string) []string {
	if g == nil {
		return nil
	}
	seen := make(map[string]bool)
	var deps []string
	for _, r := range g.ReferencesOf(name) {
		if !r.Self && !seen[r.Target] {
			seen[r.Target] = true
			deps = append(deps, r.Target)
		}
	}
	slices.Sort(deps)
	return deps
}

// Encode writes the plan in the given format.
func Encode(w io.Writer, p *Plan, f Format, g *graph.Graph) error {
	switch f {
	case FormatJSON:
		return WriteJSON(w, p)
	case FormatYAML:
		return WriteYAML(w, p)
	case FormatText:
		return WriteText(w, p, g)
	default:
		return fmt.Errorf("plan: unknown format %q", f)
	}
}

// WriteFile writes the plan to path, in the format implied by its extension.
func WriteFile(path string, p *Plan, g *graph.Graph) error {
	var b bytes.Buffer
	if err := Encode(&b, p, FormatOf(path), g); err != nil {
		return err
	}
	if err := os.WriteFile(path, b.Bytes(), 0o644); err != nil {
		return fmt.Errorf("plan: write %s: %w", path, err)
	}
	return nil
}

// Decode reads a JSON or YAML plan.
func Decode(r io.Reader, f Format) (*Plan, error) {
	p := &Plan{}
	switch f {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(p); err != nil {
			return nil, fmt.Errorf("plan: decode json: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(p); err != nil {
			return nil, fmt.Errorf("plan: decode yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("plan: cannot decode %q plans", f)
	}
	return p, nil
}

// ReadFile reads a plan written by WriteFile.
func ReadFile(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	defer f.Close()
	return Decode(f, FormatOf(path))
}
