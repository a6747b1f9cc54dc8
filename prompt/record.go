package prompt

import kconsole "github.com/Paranoid-AF/kconsole"

// Record is the persisted form of a committed entry, shaped like a notebook
// code cell.
type Record struct {
	CellType       string            `json:"cell_type" toml:"cell_type"`
	Source         string            `json:"source" toml:"source"`
	ExecutionCount *int              `json:"execution_count" toml:"execution_count,omitempty"`
	Outputs        []kconsole.Output `json:"outputs" toml:"outputs"`
	Metadata       RecordMetadata    `json:"metadata" toml:"metadata"`
}

// RecordMetadata carries per-entry flags.
type RecordMetadata struct {
	Trusted  bool   `json:"trusted" toml:"trusted"`
	Mimetype string `json:"mimetype,omitempty" toml:"mimetype,omitempty"`
}

// Transcript wraps records for document-level encoders such as TOML, which
// cannot encode a bare array.
type Transcript struct {
	Cells []Record `json:"cells" toml:"cells"`
}
