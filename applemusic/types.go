package applemusic

// Song is a catalog song resource
type Song struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Attributes    SongAttributes    `json:"attributes"`
	Relationships SongRelationships `json:"relationships"`
}

// SongAttributes contains detailed song information
type SongAttributes struct {
	AlbumName           string            `json:"albumName"`
	HasTimeSyncedLyrics bool              `json:"hasTimeSyncedLyrics"`
	GenreNames          []string          `json:"genreNames"`
	TrackNumber         int               `json:"trackNumber"`
	DurationInMillis    int               `json:"durationInMillis"`
	ReleaseDate         string            `json:"releaseDate"`
	Name                string            `json:"name"`
	ISRC                string            `json:"isrc"`
	ArtistName          string            `json:"artistName"`
	DiscNumber          int               `json:"discNumber"`
	HasLyrics           bool              `json:"hasLyrics"`
	Artwork             Artwork           `json:"artwork"`
	ComposerName        string            `json:"composerName"`
	PlayParams          PlayParams        `json:"playParams"`
	URL                 string            `json:"url"`
	AudioTraits         []string          `json:"audioTraits"`
	ExtendedAssetUrls   map[string]string `json:"extendedAssetUrls"`
}

// EnhancedHLS returns the web player's lossless master playlist URL, if any.
func (a SongAttributes) EnhancedHLS() string {
	return a.ExtendedAssetUrls["enhancedHls"]
}

// Artwork contains artwork information
type Artwork struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	URL    string `json:"url"`
}

// PlayParams contains playback parameters
type PlayParams struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// SongRelationships links a song to its albums and artists
type SongRelationships struct {
	Albums  AlbumRelationship  `json:"albums"`
	Artists ArtistRelationship `json:"artists"`
}

// AlbumRelationship lists albums that contain a song
type AlbumRelationship struct {
	Href string     `json:"href"`
	Data []AlbumRef `json:"data"`
}

// AlbumRef is an album as embedded in a song response
type AlbumRef struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Attributes *AlbumAttributes `json:"attributes,omitempty"`
}

// ArtistRelationship lists the artists of a song
type ArtistRelationship struct {
	Href string          `json:"href"`
	Data []ResourceIdent `json:"data"`
}

// ResourceIdent identifies a catalog resource without attributes
type ResourceIdent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// AlbumAttributes contains album-specific attributes
type AlbumAttributes struct {
	Copyright     string     `json:"copyright"`
	GenreNames    []string   `json:"genreNames"`
	ReleaseDate   string     `json:"releaseDate"`
	UPC           string     `json:"upc"`
	Artwork       Artwork    `json:"artwork"`
	PlayParams    PlayParams `json:"playParams"`
	URL           string     `json:"url"`
	RecordLabel   string     `json:"recordLabel"`
	TrackCount    int        `json:"trackCount"`
	IsCompilation bool       `json:"isCompilation"`
	IsSingle      bool       `json:"isSingle"`
	Name          string     `json:"name"`
	ArtistName    string     `json:"artistName"`
}

// Album is a catalog album resource including its track list
type Album struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Attributes    AlbumAttributes   `json:"attributes"`
	Relationships ListRelationships `json:"relationships"`
}

// PlaylistAttributes contains playlist-specific attributes
type PlaylistAttributes struct {
	Name        string  `json:"name"`
	CuratorName string  `json:"curatorName"`
	Artwork     Artwork `json:"artwork"`
	URL         string  `json:"url"`
}

// Playlist is a catalog playlist resource including its track list
type Playlist struct {
	ID            string             `json:"id"`
	Type          string             `json:"type"`
	Attributes    PlaylistAttributes `json:"attributes"`
	Relationships ListRelationships  `json:"relationships"`
}

// ListRelationships holds the tracks of an album or playlist
type ListRelationships struct {
	Tracks TrackPage `json:"tracks"`
}

// TrackPage is one page of a track relationship
type TrackPage struct {
	Href string     `json:"href"`
	Next string     `json:"next"`
	Data []TrackRef `json:"data"`
}

// TrackRef is a track entry of an album or playlist. Type is "songs" or "music-videos".
type TrackRef struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes struct {
		Name        string `json:"name"`
		ArtistName  string `json:"artistName"`
		TrackNumber int    `json:"trackNumber"`
		DiscNumber  int    `json:"discNumber"`
	} `json:"attributes"`
}

type songResponse struct {
	Data []Song `json:"data"`
}

type albumResponse struct {
	Data []Album `json:"data"`
}

type playlistResponse struct {
	Data []Playlist `json:"data"`
}
