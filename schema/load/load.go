// Package load reads and writes entity metadata files.
//
// A metadata file is a YAML or JSON document listing the entities to
// migrate:
//
//	entities:
//	  - name: auth.User
//	    primary_key: [id]
//	    columns:
//	      - {name: id, type: int64}
//	      - {name: email, type: string}
//	  - name: blog.Post
//	    primary_key: [id]
//	    columns:
//	      - {name: id, type: int64}
//	      - {name: author_id, type: int64}
//	      - {name: parent_id, type: int64, nullable: true}
//	    foreign_keys:
//	      - {column: author_id, target: auth.User}
//	      - {column: parent_id, target: blog.Post}
//
// Entities without a table name get one derived from their name:
// "auth.User" becomes "auth_user" and "BlogPost" becomes "blog_post".
package load

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-openapi/inflect"
	"gopkg.in/yaml.v3"

	"github.com/syssam/porter/graph"
	"github.com/syssam/porter/schema/field"
)

// Document is the layout of a metadata file.
type Document struct {
	Entities []*graph.Entity `json:"entities" yaml:"entities"`
}

// File reads the metadata file at path. Files ending in ".json" are decoded
// as JSON, all others as YAML.
func File(path string) ([]*graph.Entity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	defer f.Close()
	entities, err := Read(f, strings.EqualFold(filepath.Ext(path), ".json"))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return entities, nil
}

// Read decodes a metadata document from r and fills in derived fields.
func Read(r io.Reader, isJSON bool) ([]*graph.Entity, error) {
	var doc Document
	if isJSON {
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, err
		}
	} else {
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil && err != io.EOF {
			return nil, err
		}
	}
	for i, e := range doc.Entities {
		if e == nil {
			return nil, fmt.Errorf("entity #%d is empty", i)
		}
		Normalize(e)
	}
	return doc.Entities, nil
}

// Graph reads the metadata file at path and builds its graph.
func Graph(path string) (*graph.Graph, error) {
	entities, err := File(path)
	if err != nil {
		return nil, err
	}
	return graph.New(entities...)
}

// Normalize fills in the table name and the column types left out of a
// metadata file.
func Normalize(e *graph.Entity) {
	if e.Table == "" {
		e.Table = TableName(e.Name)
	}
	for _, c := range e.Columns {
		if c != nil && c.Type == field.TypeInvalid {
			c.Type = field.TypeOther
		}
	}
}

// TableName derives a table name from an entity name.
func TableName(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = inflect.Underscore(p)
	}
	return strings.Join(parts, "_")
}

// Write encodes the entities as a YAML metadata document.
func Write(w io.Writer, entities []*graph.Entity) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Document{Entities: entities}); err != nil {
		return err
	}
	return enc.Close()
}

// WriteFile writes the entities to path, as JSON when path ends in ".json"
// and as YAML otherwise.
func WriteFile(path string, entities []*graph.Entity) error {
	var buf bytes.Buffer
	if strings.EqualFold(filepath.Ext(path), ".json") {
		b, err := json.MarshalIndent(Document{Entities: entities}, "", "  ")
		if err != nil {
			return err
		}
		buf.Write(b)
		buf.WriteByte('\n')
	} else if err := Write(&buf, entities); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
