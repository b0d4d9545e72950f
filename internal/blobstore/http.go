package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HTTPConfig contains HTTP blob store configuration
type HTTPConfig struct {
	BaseURL string        // upload endpoint; blob name is appended as a path segment
	APIKey  string        // optional bearer token
	Timeout time.Duration // per-request timeout
}

// HTTPStore uploads chunks to an external HTTP blob service via PUT and
// resolves them back with GET.
type HTTPStore struct {
	config     HTTPConfig
	httpClient *http.Client

	// Statistics
	uploads       uint64
	downloads     uint64
	deletes       uint64
	bytesUploaded uint64

	mu sync.RWMutex
}

// HTTPStoreStats represents HTTP store statistics
type HTTPStoreStats struct {
	Uploads       uint64 `json:"uploads"`
	Downloads     uint64 `json:"downloads"`
	Deletes       uint64 `json:"deletes"`
	BytesUploaded uint64 `json:"bytes_uploaded"`
}

// NewHTTPStore creates an HTTP-backed blob store
func NewHTTPStore(config HTTPConfig) (*HTTPStore, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &HTTPStore{
		config:     config,
		httpClient: httpClient,
	}, nil
}

// Put uploads data under name and returns the blob's URL.
func (s *HTTPStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	if name == "" {
		return "", fmt.Errorf("blob name cannot be empty")
	}

	url := s.config.BaseURL + "/" + name

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}

	req.Header.Set("Content-Type", "application/octet-stream")
	s.setAuth(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body))
	}

	s.mu.Lock()
	s.uploads++
	s.bytesUploaded += uint64(len(data))
	s.mu.Unlock()

	return url, nil
}

// Get downloads the blob at url.
func (s *HTTPStore) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	s.setAuth(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob body: %w", err)
	}

	s.mu.Lock()
	s.downloads++
	s.mu.Unlock()

	return data, nil
}

// Delete removes the blob at url. A 404 is not an error.
func (s *HTTPStore) Delete(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create delete request: %w", err)
	}

	s.setAuth(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound &&
		(resp.StatusCode < 200 || resp.StatusCode >= 300) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body))
	}

	s.mu.Lock()
	s.deletes++
	s.mu.Unlock()

	return nil
}

func (s *HTTPStore) setAuth(req *http.Request) {
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}
}

// GetStats returns current store statistics
func (s *HTTPStore) GetStats() HTTPStoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return HTTPStoreStats{
		Uploads:       s.uploads,
		Downloads:     s.downloads,
		Deletes:       s.deletes,
		BytesUploaded: s.bytesUploaded,
	}
}
