package domain

// SearchResult is the outcome of one web search call.
// Contexts and Links are ranked, best first.
type SearchResult struct {
	Intent   string
	Contexts []string
	Links    []string
}

// TopContexts returns at most n contexts
func (r *SearchResult) TopContexts(n int) []string {
	return head(r.Contexts, n)
}

// TopLinks returns at most n links
func (r *SearchResult) TopLinks(n int) []string {
	return head(r.Links, n)
}

func head(items []string, n int) []string {
	if n < 0 || len(items) <= n {
		return items
	}
	return items[:n]
}
