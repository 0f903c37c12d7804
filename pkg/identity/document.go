package identity

import "fmt"

// IdentityDoc is the on-disk shape of one agent identity.
type IdentityDoc struct {
	AgentID       string   `yaml:"agent_id"`
	Description   string   `yaml:"description"`
	Tools         []string `yaml:"tools"`
	ClearanceTags []string `yaml:"clearance_tags"`
}

// Document is the top-level YAML document: either a single `agent` or a
// list under `agents`.
type Document struct {
	Agent  *IdentityDoc  `yaml:"agent"`
	Agents []IdentityDoc `yaml:"agents"`
}

// NormalizeDocuments flattens parsed YAML documents into a validated
// identity list. A duplicate agent_id across any document is fatal.
func NormalizeDocuments(docs []Document) ([]Identity, error) {
	var raw []IdentityDoc
	for _, doc := range docs {
		if doc.Agent != nil {
			raw = append(raw, *doc.Agent)
		}
		raw = append(raw, doc.Agents...)
	}
	return NormalizeIdentities(raw)
}

// NormalizeIdentities converts raw identity documents into runtime
// identities, rejecting duplicate agent IDs.
func NormalizeIdentities(raw []IdentityDoc) ([]Identity, error) {
	identities := make([]Identity, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))

	for _, doc := range raw {
		name := doc.AgentID
		if name == "" {
			return nil, fmt.Errorf("identity: agent_id is required")
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("identity: duplicate agent identity: %s", name)
		}
		seen[name] = struct{}{}

		identities = append(identities, Identity{
			AgentID:       name,
			Description:   doc.Description,
			Tools:         doc.Tools,
			ClearanceTags: doc.ClearanceTags,
		})
	}
	return identities, nil
}
