package applemusic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const DefaultItunesURL = "https://itunes.apple.com"

var reStorefront = regexp.MustCompile(`^[a-z]{2}$`)

// ItunesItem is the subset of an iTunes lookup result used for tagging
type ItunesItem struct {
	TrackName   string
	ArtistName  string
	ReleaseDate time.Time
	ArtworkURL  string
}

// ItunesAPI is the read-only iTunes lookup client. It needs no credentials.
type ItunesAPI struct {
	client     *http.Client
	baseURL    string
	storefront string
	language   string
	lang       string
}

// ItunesOption customizes an ItunesAPI
type ItunesOption func(*ItunesAPI)

// WithItunesURL points the client at another lookup host
func WithItunesURL(baseURL string) ItunesOption {
	return func(i *ItunesAPI) { i.baseURL = strings.TrimSuffix(baseURL, "/") }
}

// WithItunesHTTPClient replaces the default HTTP client
func WithItunesHTTPClient(client *http.Client) ItunesOption {
	return func(i *ItunesAPI) { i.client = client }
}

// NewItunesAPI creates a lookup client for a storefront and language
func NewItunesAPI(storefront, language string, opts ...ItunesOption) *ItunesAPI {
	i := &ItunesAPI{
		baseURL:    DefaultItunesURL,
		storefront: strings.ToLower(storefront),
		language:   language,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.client == nil {
		i.client = &http.Client{Timeout: 30 * time.Second}
	}
	return i
}

// Setup validates the storefront and derives the lookup language parameter
func (i *ItunesAPI) Setup() error {
	if !reStorefront.MatchString(i.storefront) {
		return fmt.Errorf("invalid storefront %q", i.storefront)
	}
	// en-GB -> en_gb
	i.lang = strings.ToLower(strings.ReplaceAll(i.language, "-", "_"))
	return nil
}

// Lookup returns the iTunes record for a catalog ID
func (i *ItunesAPI) Lookup(ctx context.Context, id string) (*ItunesItem, error) {
	q := url.Values{}
	q.Set("id", id)
	q.Set("country", i.storefront)
	if i.lang != "" {
		q.Set("lang", i.lang)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.baseURL+"/lookup?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if gjson.GetBytes(body, "resultCount").Int() == 0 {
		return nil, fmt.Errorf("itunes lookup %s: %w", id, ErrNotFound)
	}
	result := gjson.GetBytes(body, "results.0")

	item := &ItunesItem{
		TrackName:  result.Get("trackName").String(),
		ArtistName: result.Get("artistName").String(),
		ArtworkURL: result.Get("artworkUrl100").String(),
	}
	if released := result.Get("releaseDate").String(); released != "" {
		if t, err := time.Parse(time.RFC3339, released); err == nil {
			item.ReleaseDate = t
		}
	}
	return item, nil
}
