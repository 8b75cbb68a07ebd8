package types

import "time"

// Corpus partitions the searchable chunk set into logical groups.
// Hybrid queries run once per corpus and never merge rankings across them.
type Corpus string

const (
	// CorpusLaw holds statute article chunks.
	CorpusLaw Corpus = "law"
	// CorpusCase holds court-decision section chunks.
	CorpusCase Corpus = "case"
)

// AllCorpora lists every valid corpus in hybrid-search group order.
var AllCorpora = []Corpus{CorpusLaw, CorpusCase}

// Valid reports whether c names a known corpus.
func (c Corpus) Valid() bool {
	return c == CorpusLaw || c == CorpusCase
}

// Chunk is the smallest indexed unit of legal text. Content arrives from the
// ingestion side already prefixed with a short descriptive header (article
// number and title, or case-section label); retrieval precision depends on
// that convention, so the engine never strips it.
type Chunk struct {
	ID          int64
	Corpus      Corpus
	ArticleID   *int64 // set when Corpus == CorpusLaw
	SectionID   *int64 // set when Corpus == CorpusCase
	Content     string
	ContentHash [32]byte
	TokenCount  int
	Verified    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
