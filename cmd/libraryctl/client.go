package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aihpi/workshop-video-search/internal/index"
	"github.com/aihpi/workshop-video-search/internal/library"
)

type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string, timeout time.Duration) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// apiError is the body echo writes for an HTTPError.
type apiError struct {
	Message string `json:"message"`
}

type libraryStatus struct {
	QueueLength   int                    `json:"queueLength"`
	ProcessingIDs []string               `json:"processingIds"`
	Counts        map[library.Status]int `json:"counts"`
}

type searchResult struct {
	index.Hit
	Timestamp float64 `json:"timestamp"`
	Path      string  `json:"path"`
	Title     string  `json:"title"`
}

type searchResponse struct {
	Query   string         `json:"query"`
	Mode    string         `json:"mode"`
	Results []searchResult `json:"results"`
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e apiError
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Message == "" {
			return fmt.Errorf("%s %s: %s", method, path, resp.Status)
		}
		return fmt.Errorf("%s (%d)", e.Message, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *apiClient) List(ctx context.Context) ([]library.Video, error) {
	var out []library.Video
	err := c.do(ctx, http.MethodGet, "/library", nil, &out)
	return out, err
}

func (c *apiClient) Status(ctx context.Context) (libraryStatus, error) {
	var out libraryStatus
	err := c.do(ctx, http.MethodGet, "/library/status", nil, &out)
	return out, err
}

func (c *apiClient) AddURL(ctx context.Context, sourceURL, title, model string) (library.Video, error) {
	var out library.Video
	body := map[string]string{"url": sourceURL, "title": title, "model": model}
	err := c.do(ctx, http.MethodPost, "/library/url", body, &out)
	return out, err
}

func (c *apiClient) Retry(ctx context.Context, id string) (library.Video, error) {
	var out library.Video
	err := c.do(ctx, http.MethodPost, "/library/"+url.PathEscape(id)+"/retry", nil, &out)
	return out, err
}

func (c *apiClient) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/library/"+url.PathEscape(id), nil, nil)
}

func (c *apiClient) Search(ctx context.Context, query, mode string, limit int) (searchResponse, error) {
	q := url.Values{"q": {query}}
	if mode != "" {
		q.Set("mode", mode)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out searchResponse
	err := c.do(ctx, http.MethodGet, "/search?"+q.Encode(), nil, &out)
	return out, err
}
