package applemusic

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// artworkSize is requested from the template URLs when the catalog omits dimensions
const artworkSize = 1200

// Catalog combines the authenticated catalog session with the iTunes lookup
// client and exposes what the downloaders need from both.
type Catalog struct {
	api    *API
	itunes *ItunesAPI
}

// NewCatalog creates a Catalog over a set-up API and ItunesAPI
func NewCatalog(api *API, itunes *ItunesAPI) *Catalog {
	return &Catalog{api: api, itunes: itunes}
}

// HTTPClient returns the client used for media and artwork downloads
func (c *Catalog) HTTPClient() *http.Client {
	return c.api.HTTPClient()
}

// Song returns full song metadata
func (c *Catalog) Song(ctx context.Context, id string) (*Song, error) {
	return c.api.Song(ctx, id)
}

// Album returns an album and all of its tracks
func (c *Catalog) Album(ctx context.Context, id string) (*Album, error) {
	return c.api.Album(ctx, id)
}

// Playlist returns a playlist and all of its tracks
func (c *Catalog) Playlist(ctx context.Context, id string) (*Playlist, error) {
	return c.api.Playlist(ctx, id)
}

// ReleaseYear returns the song's release year from the catalog, falling back
// to an iTunes lookup. Zero means unknown.
func (c *Catalog) ReleaseYear(ctx context.Context, song *Song) int {
	if t, err := time.Parse(time.DateOnly, song.Attributes.ReleaseDate); err == nil {
		return t.Year()
	}
	if c.itunes == nil {
		return 0
	}

	item, err := c.itunes.Lookup(ctx, song.ID)
	if err != nil {
		c.api.logger.Debug("itunes lookup failed", zap.String("id", song.ID), zap.Error(err))
		return 0
	}
	if item.ReleaseDate.IsZero() {
		return 0
	}
	return item.ReleaseDate.Year()
}

// ArtworkURL returns a concrete cover URL for the song, using the iTunes
// artwork when the catalog has none.
func (c *Catalog) ArtworkURL(ctx context.Context, song *Song) string {
	if art := song.Attributes.Artwork; art.URL != "" {
		return FormatArtworkURL(art)
	}
	if c.itunes == nil {
		return ""
	}

	item, err := c.itunes.Lookup(ctx, song.ID)
	if err != nil || item.ArtworkURL == "" {
		return ""
	}
	size := fmt.Sprintf("%dx%dbb", artworkSize, artworkSize)
	return strings.Replace(item.ArtworkURL, "100x100bb", size, 1)
}

// FormatArtworkURL fills the {w}x{h} template of a catalog artwork URL
func FormatArtworkURL(art Artwork) string {
	w, h := art.Width, art.Height
	if w <= 0 || h <= 0 {
		w, h = artworkSize, artworkSize
	}
	return strings.Replace(art.URL, "{w}x{h}", fmt.Sprintf("%dx%d", w, h), -1)
}
