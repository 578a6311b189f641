package model

// Document is one entry of the local knowledge base.
type Document struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Source   string   `json:"source,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	FAQ      bool     `json:"faq,omitempty"`
}

// Passage is a search hit returned by a context source.
type Passage struct {
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	URL     string  `json:"url,omitempty"`
	Source  string  `json:"source,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// ContextResult is the normalized output of the context coordinator.
type ContextResult struct {
	Text      string `json:"context"`
	Reasoning string `json:"reasoning"`
	Strategy  string `json:"searchStrategy"`
}
