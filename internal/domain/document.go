package domain

// DocumentMeta carries display fields alongside a rerank document.
type DocumentMeta struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

// Document is a rerank candidate: an id with the text to score against a query.
type Document struct {
	ID   string
	Text string
	Meta DocumentMeta
}

// ScoredDocument is a rerank output. Score is normalized to [0,1]; the
// producing stage returns scored documents sorted descending by score.
type ScoredDocument struct {
	ID    string
	Text  string
	Meta  DocumentMeta
	Score float64
}

// DocumentFromProduct builds a rerank document from a catalog product.
func DocumentFromProduct(p Product) Document {
	return Document{
		ID:   p.ID,
		Text: p.CompositeText(),
		Meta: DocumentMeta{Name: p.Name, Category: p.Category},
	}
}
