// Package applemusic talks to the Apple Music catalog on behalf of a signed-in
// account.
//
// It provides:
//   - API: a session built from a Netscape cookie export, authenticated with
//     the web player's developer token and the account's media-user-token
//   - ItunesAPI: the unauthenticated iTunes lookup service
//   - Catalog: the combination of both that the downloaders consume
//   - ParseURL: classification of music.apple.com song, album and playlist links
package applemusic
