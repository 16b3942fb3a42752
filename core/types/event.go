package types

// Event represents a structured ledger fact emitted by the engine. Attributes
// carry enough fields for an external indexer to reconstruct the affected rows
// without querying the engine back.
type Event struct {
	Type       string
	Attributes map[string]string
}
