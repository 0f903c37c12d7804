package memory

import "fmt"

// FieldDoc is the on-disk shape of one memory field declaration.
type FieldDoc struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Tag       string `yaml:"tag"`
	Retention string `yaml:"retention"`
	Encrypted bool   `yaml:"encrypted"`
	Required  bool   `yaml:"required"`
}

// SchemaDoc is the on-disk shape of one memory schema.
type SchemaDoc struct {
	Name             string     `yaml:"name"`
	Scope            string     `yaml:"scope"`
	Fields           []FieldDoc `yaml:"fields"`
	MaxEntries       int        `yaml:"max_entries"`
	DefaultRetention string     `yaml:"default_retention"`
}

// Document is the top-level YAML document: either a single `memory` or a
// list under `memories`.
type Document struct {
	Memory   *SchemaDoc  `yaml:"memory"`
	Memories []SchemaDoc `yaml:"memories"`
}

var validScopes = map[string]struct{}{"session": {}, "user": {}, "global": {}}

// NormalizeDocuments flattens parsed YAML documents into validated
// schemas. Duplicate schema names and unknown scopes are fatal
// configuration errors.
func NormalizeDocuments(docs []Document) ([]Schema, error) {
	var raw []SchemaDoc
	for _, doc := range docs {
		if doc.Memory != nil {
			raw = append(raw, *doc.Memory)
		}
		raw = append(raw, doc.Memories...)
	}
	return NormalizeSchemas(raw)
}

// NormalizeSchemas converts raw schema documents into runtime schemas.
func NormalizeSchemas(raw []SchemaDoc) ([]Schema, error) {
	schemas := make([]Schema, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))

	for _, doc := range raw {
		if doc.Name == "" {
			return nil, fmt.Errorf("memory: name is required")
		}
		if _, dup := seen[doc.Name]; dup {
			return nil, fmt.Errorf("memory: duplicate schema name: %s", doc.Name)
		}
		seen[doc.Name] = struct{}{}

		if _, ok := validScopes[doc.Scope]; !ok {
			return nil, fmt.Errorf("memory: schema %q has invalid scope %q", doc.Name, doc.Scope)
		}
		if len(doc.Fields) == 0 {
			return nil, fmt.Errorf("memory: schema %q declares no fields", doc.Name)
		}

		fieldNames := make(map[string]struct{}, len(doc.Fields))
		fields := make([]Field, 0, len(doc.Fields))
		for _, f := range doc.Fields {
			if f.Name == "" {
				return nil, fmt.Errorf("memory: schema %q has a field with no name", doc.Name)
			}
			if _, dup := fieldNames[f.Name]; dup {
				return nil, fmt.Errorf("memory: schema %q has duplicate field name %q", doc.Name, f.Name)
			}
			fieldNames[f.Name] = struct{}{}

			fields = append(fields, Field{
				Name:      f.Name,
				Type:      f.Type,
				Tag:       f.Tag,
				Retention: f.Retention,
				Encrypted: f.Encrypted,
				Required:  f.Required,
			})
		}

		defaultRetention := doc.DefaultRetention
		if defaultRetention == "" {
			defaultRetention = "24h"
		}
		schemas = append(schemas, Schema{
			Name:             doc.Name,
			Scope:            doc.Scope,
			Fields:           fields,
			MaxEntries:       doc.MaxEntries,
			DefaultRetention: defaultRetention,
		})
	}
	return schemas, nil
}
