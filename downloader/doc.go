// Package downloader downloads Apple Music songs as ALAC M4A files.
//
// The package is organised around:
//   - Downloader: expands URLs into download queues and runs each item
//   - SongDownloader: fetches, decrypts and writes a single song with progress callbacks
//   - WrapperClient: the TCP protocols of the local wrapper service that resolves
//     enhanced HLS playlists and decrypts samples
//   - ProgressTracker and ProgressReporter: progress delivery to a terminal
//   - Error handling with structured DownloadError types
package downloader
