// Package tmdb implements the TitleIndex port against a TMDB-style JSON API.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mictap/internal/domain"
)

const defaultBaseURL = "https://api.themoviedb.org/3"

// Config controls the catalog API connection.
type Config struct {
	APIKey       string
	BaseURL      string
	Language     string
	IncludeAdult bool
	Timeout      time.Duration
}

// Client searches the movie/TV catalog via the multi-search endpoint.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Search(ctx context.Context, query string, page int) (domain.SuggestionPage, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return domain.SuggestionPage{}, errors.New("TMDB_API_KEY is not configured")
	}
	if page <= 0 {
		page = 1
	}

	endpoint, err := c.searchURL(query, page)
	if err != nil {
		return domain.SuggestionPage{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.SuggestionPage{}, fmt.Errorf("failed to build catalog request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.SuggestionPage{}, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.SuggestionPage{}, fmt.Errorf("catalog returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.SuggestionPage{}, fmt.Errorf("failed to decode catalog response: %w", err)
	}

	return payload.toPage(query), nil
}

func (c *Client) searchURL(query string, page int) (string, error) {
	parsed, err := url.Parse(strings.TrimRight(c.cfg.BaseURL, "/") + "/search/multi")
	if err != nil {
		return "", fmt.Errorf("invalid catalog base URL: %w", err)
	}

	values := parsed.Query()
	values.Set("api_key", c.cfg.APIKey)
	values.Set("query", query)
	values.Set("page", strconv.Itoa(page))
	values.Set("include_adult", fmt.Sprintf("%t", c.cfg.IncludeAdult))
	if c.cfg.Language != "" {
		values.Set("language", c.cfg.Language)
	}
	parsed.RawQuery = values.Encode()
	return parsed.String(), nil
}

type searchResponse struct {
	Page         int            `json:"page"`
	TotalPages   int            `json:"total_pages"`
	TotalResults int            `json:"total_results"`
	Results      []searchResult `json:"results"`
}

type searchResult struct {
	ID           int64   `json:"id"`
	MediaType    string  `json:"media_type"`
	Title        string  `json:"title"`
	Name         string  `json:"name"`
	ReleaseDate  string  `json:"release_date"`
	FirstAirDate string  `json:"first_air_date"`
	Popularity   float64 `json:"popularity"`
}

func (r searchResponse) toPage(query string) domain.SuggestionPage {
	page := domain.SuggestionPage{
		Query:        query,
		Page:         r.Page,
		TotalPages:   r.TotalPages,
		TotalResults: r.TotalResults,
		Titles:       make([]domain.Title, 0, len(r.Results)),
	}

	for _, result := range r.Results {
		// Multi-search mixes in people; only movie and tv entries are titles.
		if result.MediaType != "movie" && result.MediaType != "tv" {
			continue
		}
		name := result.Title
		date := result.ReleaseDate
		if result.MediaType == "tv" {
			name = result.Name
			date = result.FirstAirDate
		}
		if strings.TrimSpace(name) == "" {
			continue
		}
		page.Titles = append(page.Titles, domain.Title{
			ID:         result.ID,
			Name:       name,
			MediaType:  result.MediaType,
			Year:       yearOf(date),
			Popularity: result.Popularity,
		})
	}

	return page
}

func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return year
}
