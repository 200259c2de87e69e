package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"loom/internal/config"
	"loom/internal/services"
)

const (
	defaultBaseURL         = "https://www.kaggle.com/api/v1"
	defaultMaxResults      = 20
	defaultRequestTimeout  = 30 * time.Second
	defaultDownloadTimeout = 30 * time.Minute
)

// Config describes the catalog client configuration.
type Config struct {
	BaseURL         string
	Username        string
	APIKey          string
	MaxResults      int
	RequestTimeout  time.Duration
	DownloadTimeout time.Duration
	HTTPClient      *http.Client
}

// FromConfig maps the catalog section of the application config onto a
// client Config.
func FromConfig(appCfg *config.Config) Config {
	return Config{
		BaseURL:         appCfg.Catalog.BaseURL,
		Username:        appCfg.Catalog.Username,
		APIKey:          appCfg.Catalog.APIKey,
		MaxResults:      appCfg.Catalog.MaxResults,
		RequestTimeout:  time.Duration(appCfg.Catalog.RequestTimeout) * time.Second,
		DownloadTimeout: time.Duration(appCfg.Catalog.DownloadTimeout) * time.Second,
	}
}

// Client wraps the catalog REST API. Searches and downloads authenticate
// with HTTP basic auth the way the Kaggle API expects.
type Client struct {
	username   string
	apiKey     string
	maxResults int
	baseURL    *url.URL
	http       *http.Client
	download   *http.Client
}

// Listing is one dataset candidate returned by a search.
type Listing struct {
	Ref       string
	Title     string
	SizeBytes int64
	Downloads int
}

// SizeGB converts the listing size for threshold checks and logging.
func (l Listing) SizeGB() float64 {
	return float64(l.SizeBytes) / (1 << 30)
}

type listingPayload struct {
	Ref           string `json:"ref"`
	Title         string `json:"title"`
	TotalBytes    int64  `json:"totalBytes"`
	DownloadCount int    `json:"downloadCount"`
}

// New creates a Client from the supplied configuration.
func New(cfg Config) (*Client, error) {
	username := strings.TrimSpace(cfg.Username)
	apiKey := strings.TrimSpace(cfg.APIKey)
	if username == "" || apiKey == "" {
		return nil, errors.New("catalog: username and api key are required")
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse base url: %w", err)
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	httpClient := cfg.HTTPClient
	downloadClient := cfg.HTTPClient
	if httpClient == nil {
		requestTimeout := cfg.RequestTimeout
		if requestTimeout <= 0 {
			requestTimeout = defaultRequestTimeout
		}
		downloadTimeout := cfg.DownloadTimeout
		if downloadTimeout <= 0 {
			downloadTimeout = defaultDownloadTimeout
		}
		httpClient = &http.Client{Timeout: requestTimeout}
		downloadClient = &http.Client{Timeout: downloadTimeout}
	}
	return &Client{
		username:   username,
		apiKey:     apiKey,
		maxResults: maxResults,
		baseURL:    baseURL,
		http:       httpClient,
		download:   downloadClient,
	}, nil
}

// Search queries the catalog sorted by popularity and returns at most
// MaxResults listings. Entries without a ref are dropped.
func (c *Client) Search(ctx context.Context, query string) ([]Listing, error) {
	endpoint := c.baseURL.JoinPath("datasets", "list")
	params := url.Values{}
	if strings.TrimSpace(query) != "" {
		params.Set("search", query)
	}
	params.Set("sortBy", "hottest")
	endpoint.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "catalog", "search", "build request", err)
	}
	httpReq.SetBasicAuth(c.username, c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "catalog", "search", fmt.Sprintf("query %q", query), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, statusError("search", fmt.Sprintf("query %q", query), resp)
	}

	var payload []listingPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, services.Wrap(services.ErrTransient, "catalog", "search", "decode response", err)
	}

	listings := make([]Listing, 0, len(payload))
	for _, entry := range payload {
		if strings.TrimSpace(entry.Ref) == "" {
			continue
		}
		listings = append(listings, Listing{
			Ref:       entry.Ref,
			Title:     entry.Title,
			SizeBytes: entry.TotalBytes,
			Downloads: entry.DownloadCount,
		})
	}
	if len(listings) > c.maxResults {
		listings = listings[:c.maxResults]
	}
	return listings, nil
}

// DownloadArchive streams the archive for ref into destDir and returns the
// local file path. The file is named after the ref with the slash
// flattened: "owner/cats" becomes owner_cats.zip.
func (c *Client) DownloadArchive(ctx context.Context, ref, destDir string) (string, error) {
	owner, name, found := strings.Cut(ref, "/")
	if !found || owner == "" || name == "" {
		return "", services.Wrap(services.ErrValidation, "catalog", "download", fmt.Sprintf("ref %q must look like owner/dataset", ref), nil)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTransient, "catalog", "download", fmt.Sprintf("create %s", destDir), err)
	}

	endpoint := c.baseURL.JoinPath("datasets", "download", owner, name)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "catalog", "download", "build request", err)
	}
	httpReq.SetBasicAuth(c.username, c.apiKey)

	resp, err := c.download.Do(httpReq)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "catalog", "download", fmt.Sprintf("dataset %s", ref), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", statusError("download", fmt.Sprintf("dataset %s", ref), resp)
	}

	localPath := filepath.Join(destDir, strings.ReplaceAll(ref, "/", "_")+".zip")
	out, err := os.Create(localPath)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "catalog", "download", fmt.Sprintf("create %s", localPath), err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		// Leave no truncated archive behind for a retry to trip over.
		os.Remove(localPath)
		return "", services.Wrap(services.ErrTransient, "catalog", "download", fmt.Sprintf("stream %s", ref), err)
	}
	if err := out.Close(); err != nil {
		return "", services.Wrap(services.ErrTransient, "catalog", "download", fmt.Sprintf("close %s", localPath), err)
	}
	return localPath, nil
}

// CheckAccess performs a cheap authenticated search to prove the endpoint
// and credentials work. Daemon preflight calls this.
func (c *Client) CheckAccess(ctx context.Context) error {
	_, err := c.Search(ctx, "")
	return err
}

// statusError maps HTTP failures onto the shared taxonomy: 404 is not
// found, 401 and 403 are configuration (bad credentials), everything else
// is transient.
func statusError(operation, target string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := fmt.Sprintf("%s (%s): %s", target, resp.Status, strings.TrimSpace(string(body)))
	switch resp.StatusCode {
	case http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "catalog", operation, detail, nil)
	case http.StatusUnauthorized, http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, "catalog", operation, detail, nil)
	}
	return services.Wrap(services.ErrTransient, "catalog", operation, detail, nil)
}
