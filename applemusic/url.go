package applemusic

import (
	"net/url"
	"regexp"
)

// URL types, already pluralized the way the catalog API spells them.
const (
	URLTypeSong     = "songs"
	URLTypeAlbum    = "albums"
	URLTypePlaylist = "playlists"
)

// URLInfo is the parsed form of an Apple Music content URL
type URLInfo struct {
	Storefront string `json:"storefront"`
	URLType    string `json:"url_type"`
	ID         string `json:"id"`
}

// The slug segment is optional: /us/song/1624945512 and /us/song/name/1624945512 are both valid.
var reContentURL = regexp.MustCompile(`^https://(?:beta\.music|music|classical\.music)\.apple\.com/(?P<storefront>[a-z]{2})/(?P<type>album|song|playlist)(?:/[^/?#]+)?/(?P<id>[0-9a-zA-Z\-.]+)/?(?:$|[?#])`)

// ParseURL extracts storefront, type and ID from an Apple Music URL.
// It returns nil for URLs it does not recognize.
func ParseURL(inputURL string) *URLInfo {
	matches := reContentURL.FindStringSubmatch(inputURL)
	if matches == nil {
		return nil
	}

	result := make(map[string]string)
	for i, name := range reContentURL.SubexpNames() {
		if i > 0 && name != "" {
			result[name] = matches[i]
		}
	}

	urlType := result["type"]
	id := result["id"]

	// An album URL with ?i= points at one song within the album
	if urlType == "album" {
		if u, err := url.Parse(inputURL); err == nil {
			if songID := u.Query().Get("i"); songID != "" {
				id = songID
				urlType = "song"
			}
		}
	}

	return &URLInfo{
		Storefront: result["storefront"],
		URLType:    urlType + "s",
		ID:         id,
	}
}
