package models

// Embedding is the C1 durable record: a clipboard item's text reduced to a
// fixed-length, L2-normalized vector. dim is stored alongside Vector so a
// reader can detect a model-dimension change without decoding the blob
// (spec.md §3, §4.1).
type Embedding struct {
	ItemID int64
	Vector []float32
	Dim    int
}

// SearchResult pairs a clipboard item with its cosine similarity score
// against a query embedding. Returned by the orchestrator's search command.
type SearchResult struct {
	Item  ClipboardItem `json:"item"`
	Score float32       `json:"score"`
}
