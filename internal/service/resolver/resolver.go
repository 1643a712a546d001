package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/oshokin/firefox-package/internal/domain/firefox"
	"github.com/oshokin/firefox-package/internal/logger"
	"github.com/oshokin/firefox-package/internal/repository/cache"
)

// DocumentFetcher downloads a small document.
type DocumentFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FilenameCache stores resolved filenames by key.
type FilenameCache interface {
	Get(key string, splay time.Duration) (string, bool)
	Put(ctx context.Context, key, filename string) error
}

// Resolver turns a request into the real artifact filename published upstream.
type Resolver struct {
	// client fetches index pages.
	client DocumentFetcher
	// cache keeps earlier resolutions.
	cache FilenameCache
	// parser extracts entries from index pages.
	parser ListingParser
	// group collapses concurrent resolutions of the same index.
	group singleflight.Group
}

// Option configures the resolver.
type Option func(*Resolver)

// WithParser replaces the listing parser.
func WithParser(parser ListingParser) Option {
	return func(r *Resolver) {
		if parser != nil {
			r.parser = parser
		}
	}
}

// New creates a resolver backed by client and cache.
func New(client DocumentFetcher, filenames FilenameCache, opts ...Option) *Resolver {
	r := &Resolver{
		client: client,
		cache:  filenames,
		parser: HTMLListingParser{},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve returns the artifact filename for req on platform.
// A cached resolution younger than the request splay is returned without network access.
func (r *Resolver) Resolve(ctx context.Context, req *firefox.Request, platform firefox.Platform) (string, error) {
	indexURL := req.IndexURL(platform)
	key := cache.Key(indexURL)
	splay := req.Splay()

	if filename, found := r.cache.Get(key, splay); found {
		logger.DebugKV(ctx, "Using cached resolution", "index", indexURL, "filename", filename)

		return filename, nil
	}

	value, err, _ := r.group.Do(key, func() (any, error) {
		// Another flight may have just stored it.
		if filename, found := r.cache.Get(key, splay); found {
			return filename, nil
		}

		return r.resolveRemote(ctx, indexURL, key)
	})
	if err != nil {
		return "", err
	}

	filename, _ := value.(string)

	return filename, nil
}

// resolveRemote scrapes the index page and stores the result.
// Nothing is written to the cache when any step fails.
func (r *Resolver) resolveRemote(ctx context.Context, indexURL, key string) (string, error) {
	logger.InfoKV(ctx, "Resolving artifact from release index", "index", indexURL)

	document, err := r.client.Fetch(ctx, indexURL)
	if err != nil {
		if errors.Is(err, firefox.ErrResolution) {
			return "", err
		}

		return "", fmt.Errorf("%w: %w", firefox.ErrResolution, err)
	}

	entries, err := r.parser.Entries(document)
	if err != nil {
		logger.WarnKV(ctx, "Unable to parse release index", "index", indexURL, "error", err)
	}

	filename, found := SelectArtifact(entries)
	if err != nil || !found {
		return "", &firefox.UpstreamParseError{
			URL:  indexURL,
			Body: string(document),
		}
	}

	if err = r.cache.Put(ctx, key, filename); err != nil {
		logger.WarnKV(ctx, "Unable to cache resolution", "index", indexURL, "error", err)
	}

	logger.InfoKV(ctx, "Resolved artifact", "index", indexURL, "filename", filename)

	return filename, nil
}
