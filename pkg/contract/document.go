package contract

import "fmt"

// AcceptsDoc, EmitsDoc, and StoresDoc mirror the three named sub-documents
// a contract declares under YAML: what it accepts, what it emits back,
// and what it persists to memory.
type AcceptsDoc struct {
	Tags   []string `yaml:"tags"`
	Fields []string `yaml:"fields"`
}

type EmitsDoc struct {
	Tags   []string `yaml:"tags"`
	Fields []string `yaml:"fields"`
}

type StoresDoc struct {
	Fields    []string `yaml:"fields"`
	Retention string   `yaml:"retention"`
}

type SideEffectsDoc struct {
	Reversible       bool   `yaml:"reversible"`
	RequiresApproval bool   `yaml:"requires_approval"`
	Description      string `yaml:"description"`
}

// ContractDoc is the on-disk shape of one tool contract.
type ContractDoc struct {
	ToolName    string         `yaml:"tool_name"`
	Description string         `yaml:"description"`
	Accepts     AcceptsDoc     `yaml:"accepts"`
	Emits       EmitsDoc       `yaml:"emits"`
	Stores      StoresDoc      `yaml:"stores"`
	SideEffects SideEffectsDoc `yaml:"side_effects"`
}

// Document is the top-level YAML document: either a single `contract` or
// a list under `contracts`.
type Document struct {
	Contract  *ContractDoc  `yaml:"contract"`
	Contracts []ContractDoc `yaml:"contracts"`
}

// NormalizeDocuments flattens parsed YAML documents into a validated
// contract list. A duplicate tool_name across any document is a fatal
// configuration error.
func NormalizeDocuments(docs []Document) ([]Contract, error) {
	var raw []ContractDoc
	for _, doc := range docs {
		if doc.Contract != nil {
			raw = append(raw, *doc.Contract)
		}
		raw = append(raw, doc.Contracts...)
	}
	return NormalizeContracts(raw)
}

// NormalizeContracts converts raw contract documents into runtime
// contracts, rejecting duplicate tool names.
func NormalizeContracts(raw []ContractDoc) ([]Contract, error) {
	contracts := make([]Contract, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))

	for _, doc := range raw {
		name := doc.ToolName
		if name == "" {
			return nil, fmt.Errorf("contract: tool_name is required")
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("contract: duplicate tool contract name: %s", name)
		}
		seen[name] = struct{}{}

		contracts = append(contracts, Contract{
			ToolName:        name,
			Description:     doc.Description,
			AcceptsTags:     doc.Accepts.Tags,
			AcceptsFields:   doc.Accepts.Fields,
			EmitsTags:       doc.Emits.Tags,
			EmitsFields:     doc.Emits.Fields,
			StoresFields:    doc.Stores.Fields,
			StoresRetention: doc.Stores.Retention,
			SideEffects: SideEffects{
				Reversible:       doc.SideEffects.Reversible,
				RequiresApproval: doc.SideEffects.RequiresApproval,
				Description:      doc.SideEffects.Description,
			},
		})
	}
	return contracts, nil
}
