// Package app wires the cookie resolver, the Apple Music session and the
// downloaders into a single run over one URL.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"go-alac-dl/applemusic"
	"go-alac-dl/cookies"
	"go-alac-dl/downloader"
	"go-alac-dl/logging"
)

// DefaultURL is downloaded when no --url is given.
const DefaultURL = "https://music.apple.com/us/album/never-gonna-give-you-up-2022-remaster/1624945511?i=1624945512"

// Options are the command line inputs of a run
type Options struct {
	CookiesPath string
	CookiesSet  bool // --cookies was passed, possibly as ""
	URL         string
}

// ParseArgs parses the command line. pflag.ErrHelp is returned after
// usage has been printed for --help.
func ParseArgs(args []string, stderr io.Writer) (Options, error) {
	var opts Options

	fs := pflag.NewFlagSet("go-alac-dl", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&opts.CookiesPath, "cookies", "c", "",
		"Path to a Netscape-format cookies.txt file. Overrides the "+cookies.EnvVar+
			" environment variable and the default search locations.")
	fs.StringVarP(&opts.URL, "url", "u", DefaultURL,
		"Apple Music URL for the song, album or playlist to download.")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Download Apple Music content as ALAC\n\nUsage:\n  go-alac-dl [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}
	if fs.NArg() > 0 {
		return Options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	opts.CookiesSet = fs.Changed("cookies")
	return opts, nil
}

// Collaborator is the Apple Music backend a Runner drives.
type Collaborator interface {
	// Setup opens an authenticated session from the cookie file
	Setup(ctx context.Context, cookiesPath string) error

	// URLInfo classifies rawURL; nil means it is not supported
	URLInfo(rawURL string) *applemusic.URLInfo

	// DownloadQueue expands info into the songs to download
	DownloadQueue(ctx context.Context, info *applemusic.URLInfo) ([]downloader.QueueItem, error)

	// Download downloads one queue item
	Download(ctx context.Context, item downloader.QueueItem) error
}

// Runner performs one download run.
type Runner struct {
	Collaborator Collaborator
	Logger       *zap.Logger

	// ResolveOptions supplies the cookie search inputs for an explicit path.
	// Nil uses cookies.OptionsFromEnvironment.
	ResolveOptions func(explicit string) cookies.ResolveOptions
}

// Run resolves the cookie file, sets up the session and downloads every
// item of the URL's queue in order, stopping at the first failure. An
// unsupported URL or an empty queue is not an error.
func (r *Runner) Run(ctx context.Context, opts Options) error {
	logger := logging.OrNop(r.Logger)
	if r.Collaborator == nil {
		return errors.New("no collaborator configured")
	}

	resolveOptions := r.ResolveOptions
	if resolveOptions == nil {
		resolveOptions = cookies.OptionsFromEnvironment
	}
	ro := resolveOptions(opts.CookiesPath)
	ro.ExplicitSet = ro.ExplicitSet || opts.CookiesSet
	cookiesPath, err := cookies.Resolve(ro)
	if err != nil {
		return err
	}
	logger.Debug("using cookies file", zap.String("path", cookiesPath))

	if err := r.Collaborator.Setup(ctx, cookiesPath); err != nil {
		return fmt.Errorf("setup session: %w", err)
	}

	info := r.Collaborator.URLInfo(opts.URL)
	if info == nil {
		logger.Warn("unsupported Apple Music URL, nothing to download", zap.String("url", opts.URL))
		return nil
	}

	queue, err := r.Collaborator.DownloadQueue(ctx, info)
	if err != nil {
		return fmt.Errorf("get download queue for %s %s: %w", info.URLType, info.ID, err)
	}
	if len(queue) == 0 {
		logger.Warn("download queue is empty", zap.String("url", opts.URL))
		return nil
	}
	logger.Info("starting downloads",
		zap.String("type", info.URLType),
		zap.String("id", info.ID),
		zap.Int("items", len(queue)))

	for _, item := range queue {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Collaborator.Download(ctx, item); err != nil {
			return fmt.Errorf("download %s (%d/%d): %w", item.Label(), item.Index, item.Total, err)
		}
	}
	return nil
}
