package contracts

import "context"

// DocumentLoader turns a file into a Document.
type DocumentLoader interface {
	Load(ctx context.Context, path string) (Document, error)
}

// PlaybookSource is the read-only playbook storage.
type PlaybookSource interface {
	// Classify maps a free-form contract type onto a playbook key.
	Classify(contractType string) (string, bool)
	// Keys lists the supported playbook keys.
	Keys() []string
	Get(ctx context.Context, key string) (*Playbook, error)
}

// ReportRenderer formats a completed analysis.
type ReportRenderer interface {
	Render(state *AnalysisState, syn Synthesis) (string, error)
}
