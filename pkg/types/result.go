package types

// SearchResult is one ranked hit returned by the search service.
// Similarity is cosine similarity between unit-normalized vectors.
type SearchResult struct {
	ChunkID    int64           `json:"chunk_id"`
	Corpus     Corpus          `json:"corpus"`
	Similarity float64         `json:"similarity"`
	Verified   bool            `json:"verified"`
	Content    string          `json:"content"`
	Metadata   *ResultMetadata `json:"metadata,omitempty"`
}

// ResultMetadata carries human-readable source descriptors resolved at query
// time by a single batched lookup. Law fields are set for law-corpus hits,
// case fields for case-corpus hits.
type ResultMetadata struct {
	LawName       string `json:"law_name,omitempty"`
	Jurisdiction  string `json:"jurisdiction,omitempty"`
	ArticleNumber string `json:"article_number,omitempty"`
	ArticleTitle  string `json:"article_title,omitempty"`
	CaseNumber    string `json:"case_number,omitempty"`
	Court         string `json:"court,omitempty"`
	SectionLabel  string `json:"section_label,omitempty"`
}

// CorpusGroup labels an independently ranked result set from one corpus.
// Hybrid search returns one group per requested corpus; similarity scales
// are not comparable across groups, so they are never merged.
type CorpusGroup struct {
	Corpus  Corpus         `json:"corpus"`
	Results []SearchResult `json:"results"`
}
