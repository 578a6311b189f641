package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
)

// LiveSearch queries an HTTP search endpoint: GET <url>?q=<text>&limit=<n>
// answering {"results":[{"title","snippet","url","source"}]}.
type LiveSearch struct {
	endpoint string
	client   *http.Client
}

type liveResponse struct {
	Results []model.Passage `json:"results"`
}

func NewLiveSearch(endpoint string, timeout time.Duration) *LiveSearch {
	return &LiveSearch{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (l *LiveSearch) Search(ctx context.Context, text string, limit int, prioritizeExact bool) ([]model.Passage, error) {
	u, err := url.Parse(l.endpoint)
	if err != nil {
		return nil, fmt.Errorf("live search url: %w", err)
	}
	q := u.Query()
	q.Set("q", text)
	q.Set("limit", strconv.Itoa(limit))
	if prioritizeExact {
		q.Set("exact", "true")
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("live search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("live search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("live search: status %d: %s", resp.StatusCode, body)
	}

	var out liveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode live search: %w", err)
	}
	for i := range out.Results {
		if out.Results[i].Source == "" {
			out.Results[i].Source = "live"
		}
	}
	if limit > 0 && len(out.Results) > limit {
		out.Results = out.Results[:limit]
	}
	return out.Results, nil
}
