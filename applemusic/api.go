package applemusic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"go-alac-dl/cookies"
	"go-alac-dl/logging"
)

const (
	DefaultAPIURL = "https://amp-api.music.apple.com"
	DefaultWebURL = "https://music.apple.com"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

var (
	// ErrUnauthorized is returned when the API rejects the session credentials.
	ErrUnauthorized = errors.New("media-user-token may be wrong or expired")

	// ErrNotFound is returned when a catalog resource does not exist in the storefront.
	ErrNotFound = errors.New("resource not found in catalog")

	reIndexJS = regexp.MustCompile(`/assets/index(?:-legacy)?[-~][^/"']+\.js`)
	reToken   = regexp.MustCompile(`eyJh[^"]+`)
)

// API is an authenticated Apple Music catalog session
type API struct {
	client         *http.Client
	apiURL         string
	webURL         string
	mediaUserToken string
	token          string
	logger         *zap.Logger

	// Populated by Setup from the account unless set beforehand
	Storefront string
	Language   string
}

// Option customizes an API
type Option func(*API)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(a *API) { a.client = client }
}

// WithBaseURLs points the session at other catalog and web player hosts
func WithBaseURLs(apiURL, webURL string) Option {
	return func(a *API) {
		a.apiURL = strings.TrimSuffix(apiURL, "/")
		a.webURL = strings.TrimSuffix(webURL, "/")
	}
}

// WithLanguage forces the catalog language instead of the account default
func WithLanguage(language string) Option {
	return func(a *API) { a.Language = language }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// NewAPIFromNetscapeCookies builds a session from a Netscape-format cookie file.
// The file must contain a media-user-token cookie for music.apple.com.
func NewAPIFromNetscapeCookies(path string, opts ...Option) (*API, error) {
	jarCookies, err := cookies.LoadNetscape(path)
	if err != nil {
		return nil, err
	}
	return NewAPI(jarCookies, opts...)
}

// NewAPI builds a session from already parsed cookies
func NewAPI(sessionCookies []*http.Cookie, opts ...Option) (*API, error) {
	mediaUserToken := cookies.Find(sessionCookies, "media-user-token", "apple.com")
	if mediaUserToken == "" {
		return nil, errors.New("cookies file has no media-user-token for music.apple.com; export it while signed in")
	}

	a := &API{
		apiURL:         DefaultAPIURL,
		webURL:         DefaultWebURL,
		mediaUserToken: mediaUserToken,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.OrNop(a.logger)

	if a.client == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		for _, c := range sessionCookies {
			host := strings.TrimPrefix(c.Domain, ".")
			if host == "" {
				continue
			}
			jar.SetCookies(&url.URL{Scheme: "https", Host: host, Path: "/"}, []*http.Cookie{c})
		}
		a.client = &http.Client{Jar: jar, Timeout: 60 * time.Second}
	}

	return a, nil
}

// HTTPClient returns the client carrying the session cookies
func (a *API) HTTPClient() *http.Client {
	return a.client
}

// Token returns the developer token obtained by Setup
func (a *API) Token() string {
	return a.token
}

// Setup fetches a developer token from the web player and reads the
// account storefront and language.
func (a *API) Setup(ctx context.Context) error {
	token, err := a.fetchToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to get authentication token: %w", err)
	}
	a.token = token

	body, err := a.get(ctx, "/v1/me/storefront", nil)
	if err != nil {
		return fmt.Errorf("failed to read account storefront: %w", err)
	}

	storefront := gjson.GetBytes(body, "data.0.id").String()
	if storefront == "" {
		return errors.New("account storefront missing from response")
	}
	if a.Storefront == "" {
		a.Storefront = storefront
	}
	if a.Language == "" {
		a.Language = gjson.GetBytes(body, "data.0.attributes.defaultLanguageTag").String()
	}

	a.logger.Debug("apple music session ready",
		zap.String("storefront", a.Storefront),
		zap.String("language", a.Language))
	return nil
}

// fetchToken scrapes the bearer token embedded in the web player's bundle
func (a *API) fetchToken(ctx context.Context) (string, error) {
	page, err := a.fetchWeb(ctx, a.webURL)
	if err != nil {
		return "", err
	}

	indexJsURI := reIndexJS.FindString(string(page))
	if indexJsURI == "" {
		return "", errors.New("index JS file not found")
	}

	js, err := a.fetchWeb(ctx, a.webURL+indexJsURI)
	if err != nil {
		return "", err
	}

	token := reToken.FindString(string(js))
	if token == "" {
		return "", errors.New("token not found in JS file")
	}
	return token, nil
}

func (a *API) fetchWeb(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", rawURL, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// get performs an authenticated catalog request. path may carry its own query,
// as the next links of paginated relationships do.
func (a *API) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u, err := url.Parse(a.apiURL + path)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	for k, v := range query {
		q[k] = v
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Media-User-Token", a.mediaUserToken)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Origin", DefaultWebURL)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("GET %s: %s", u.Path, resp.Status)
	}
}

func (a *API) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := a.get(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (a *API) catalogPath(kind, id string) string {
	return fmt.Sprintf("/v1/catalog/%s/%s/%s", a.Storefront, kind, url.PathEscape(id))
}

func (a *API) languageQuery() url.Values {
	q := url.Values{}
	q.Set("l", a.Language)
	return q
}

// Song returns a song with its albums, artists and extended asset URLs
func (a *API) Song(ctx context.Context, id string) (*Song, error) {
	query := a.languageQuery()
	query.Set("include", "albums,artists")
	query.Set("extend", "extendedAssetUrls")

	var resp songResponse
	if err := a.getJSON(ctx, a.catalogPath(URLTypeSong, id), query, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Data {
		if resp.Data[i].ID == id {
			return &resp.Data[i], nil
		}
	}
	return nil, fmt.Errorf("song %s: %w", id, ErrNotFound)
}

// Album returns an album with its complete track list
func (a *API) Album(ctx context.Context, id string) (*Album, error) {
	var resp albumResponse
	if err := a.getJSON(ctx, a.catalogPath(URLTypeAlbum, id), a.languageQuery(), &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("album %s: %w", id, ErrNotFound)
	}

	album := &resp.Data[0]
	if err := a.completeTracks(ctx, &album.Relationships.Tracks); err != nil {
		return nil, fmt.Errorf("album %s tracks: %w", id, err)
	}
	return album, nil
}

// Playlist returns a playlist with its complete track list
func (a *API) Playlist(ctx context.Context, id string) (*Playlist, error) {
	var resp playlistResponse
	if err := a.getJSON(ctx, a.catalogPath(URLTypePlaylist, id), a.languageQuery(), &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("playlist %s: %w", id, ErrNotFound)
	}

	playlist := &resp.Data[0]
	if err := a.completeTracks(ctx, &playlist.Relationships.Tracks); err != nil {
		return nil, fmt.Errorf("playlist %s tracks: %w", id, err)
	}
	return playlist, nil
}

// completeTracks follows next links until the relationship holds every track
func (a *API) completeTracks(ctx context.Context, page *TrackPage) error {
	for next := page.Next; next != ""; {
		var more TrackPage
		if err := a.getJSON(ctx, next, a.languageQuery(), &more); err != nil {
			return err
		}
		page.Data = append(page.Data, more.Data...)
		next = more.Next
	}
	page.Next = ""
	return nil
}
