package applemusic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testToken          = "eyJhbGciOiJFUzI1NiJ9.payload.sig"
	testMediaUserToken = "AgAAAEx1c2VyLXRva2Vu"
)

func sessionCookies() []*http.Cookie {
	return []*http.Cookie{
		{Domain: ".music.apple.com", Path: "/", Name: "media-user-token", Value: testMediaUserToken},
	}
}

// newFakeAppleMusic serves the web player bundle and a small catalog.
func newFakeAppleMusic(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<html><script type="module" src="/assets/index-legacy-8a7c3b.js"></script></html>`)
	})
	mux.HandleFunc("/assets/index-legacy-8a7c3b.js", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `const config={token:"%s",other:"x"};`, testToken)
	})

	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+testToken || r.Header.Get("Media-User-Token") != testMediaUserToken {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			h(w, r)
		}
	}

	mux.HandleFunc("/v1/me/storefront", authed(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"id":"gb","type":"storefronts","attributes":{"defaultLanguageTag":"en-GB","name":"United Kingdom"}}]}`)
	}))
	mux.HandleFunc("/v1/catalog/gb/songs/1624945512", authed(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("extend") != "extendedAssetUrls" || q.Get("l") != "en-GB" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"data":[{"id":"1624945512","type":"songs","attributes":{
			"name":"Never Gonna Give You Up","artistName":"Rick Astley","albumName":"Whenever You Need Somebody",
			"releaseDate":"1987-07-27","trackNumber":1,"discNumber":1,
			"artwork":{"width":3000,"height":3000,"url":"https://is1.mzstatic.com/image/{w}x{h}bb.jpg"},
			"extendedAssetUrls":{"enhancedHls":"https://aod.itunes.apple.com/master.m3u8"}},
			"relationships":{"albums":{"data":[{"id":"1624945511","type":"albums","attributes":{"trackCount":10}}]},
			"artists":{"data":[{"id":"669771","type":"artists"}]}}}]}`)
	}))
	mux.HandleFunc("/v1/catalog/gb/albums/1624945511", authed(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"id":"1624945511","type":"albums","attributes":{"name":"Whenever You Need Somebody","trackCount":3},
			"relationships":{"tracks":{"next":"/v1/catalog/gb/albums/1624945511/tracks?offset=2","data":[
				{"id":"1","type":"songs","attributes":{"name":"One"}},
				{"id":"2","type":"music-videos","attributes":{"name":"Two (Video)"}}]}}}]}`)
	}))
	mux.HandleFunc("/v1/catalog/gb/albums/1624945511/tracks", authed(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") != "2" {
			http.Error(w, "bad offset", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"data":[{"id":"3","type":"songs","attributes":{"name":"Three"}}]}`)
	}))
	mux.HandleFunc("/v1/catalog/gb/playlists/pl.empty", authed(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	}))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestAPI(t *testing.T, srv *httptest.Server, opts ...Option) *API {
	t.Helper()
	opts = append([]Option{WithBaseURLs(srv.URL, srv.URL), WithHTTPClient(srv.Client())}, opts...)
	api, err := NewAPI(sessionCookies(), opts...)
	require.NoError(t, err)
	return api
}

func TestNewAPIRequiresMediaUserToken(t *testing.T) {
	_, err := NewAPI([]*http.Cookie{{Domain: ".apple.com", Name: "myacinfo", Value: "x"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "media-user-token")
}

func TestNewAPIFromNetscapeCookies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.txt")
	line := ".music.apple.com\tTRUE\t/\tTRUE\t1893456000\tmedia-user-token\t" + testMediaUserToken + "\n"
	require.NoError(t, os.WriteFile(path, []byte(line), 0o600))

	api, err := NewAPIFromNetscapeCookies(path)
	require.NoError(t, err)
	require.NotNil(t, api.HTTPClient().Jar)

	_, err = NewAPIFromNetscapeCookies(filepath.Join(t.TempDir(), "absent.txt"))
	require.Error(t, err)
}

func TestSetupReadsTokenAndStorefront(t *testing.T) {
	srv := newFakeAppleMusic(t)
	api := newTestAPI(t, srv)

	require.NoError(t, api.Setup(context.Background()))
	require.Equal(t, testToken, api.Token())
	require.Equal(t, "gb", api.Storefront)
	require.Equal(t, "en-GB", api.Language)
}

func TestSetupKeepsConfiguredLanguage(t *testing.T) {
	srv := newFakeAppleMusic(t)
	api := newTestAPI(t, srv, WithLanguage("cy"))

	require.NoError(t, api.Setup(context.Background()))
	require.Equal(t, "cy", api.Language)
}

func TestSetupRejectedCredentials(t *testing.T) {
	srv := newFakeAppleMusic(t)
	api, err := NewAPI([]*http.Cookie{{Domain: ".music.apple.com", Name: "media-user-token", Value: "stale"}},
		WithBaseURLs(srv.URL, srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	err = api.Setup(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnauthorized))
}

func TestSong(t *testing.T) {
	srv := newFakeAppleMusic(t)
	api := newTestAPI(t, srv)
	require.NoError(t, api.Setup(context.Background()))

	song, err := api.Song(context.Background(), "1624945512")
	require.NoError(t, err)
	require.Equal(t, "Never Gonna Give You Up", song.Attributes.Name)
	require.Equal(t, "https://aod.itunes.apple.com/master.m3u8", song.Attributes.EnhancedHLS())
	require.Equal(t, "1624945511", song.Relationships.Albums.Data[0].ID)
	require.Equal(t, 10, song.Relationships.Albums.Data[0].Attributes.TrackCount)

	_, err = api.Song(context.Background(), "404")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestAlbumFollowsPagination(t *testing.T) {
	srv := newFakeAppleMusic(t)
	api := newTestAPI(t, srv)
	require.NoError(t, api.Setup(context.Background()))

	album, err := api.Album(context.Background(), "1624945511")
	require.NoError(t, err)

	tracks := album.Relationships.Tracks
	require.Empty(t, tracks.Next)
	require.Len(t, tracks.Data, 3)
	require.Equal(t, []string{"1", "2", "3"}, []string{tracks.Data[0].ID, tracks.Data[1].ID, tracks.Data[2].ID})
	require.Equal(t, "music-videos", tracks.Data[1].Type)
}

func TestPlaylistEmptyResponse(t *testing.T) {
	srv := newFakeAppleMusic(t)
	api := newTestAPI(t, srv)
	require.NoError(t, api.Setup(context.Background()))

	_, err := api.Playlist(context.Background(), "pl.empty")
	require.True(t, errors.Is(err, ErrNotFound))
}
