package assets

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gryf/slackbak/internal/slack"
	"github.com/gryf/slackbak/internal/store"
)

// Fetcher is the download collaborator the resolver delegates
// transfers to.
type Fetcher interface {
	Authorized() bool
	Download(ctx context.Context, url, kind string) (string, error)
}

// Resolver maps a message's embedded file descriptor onto a store
// File, materializing internally hosted content to local storage.
type Resolver struct {
	fetch Fetcher
	log   *slog.Logger
}

func NewResolver(fetch Fetcher, log *slog.Logger) *Resolver {
	return &Resolver{fetch: fetch, log: log}
}

// Resolve produces the File row for a descriptor. External files keep
// their remote URL untouched. Internal files are downloaded; when the
// session has no credentials, or the transfer fails for good, the
// file degrades to a URL-only reference with a warning — message
// metadata must survive even when binary assets cannot be fetched.
func (r *Resolver) Resolve(ctx context.Context, fd *slack.File, isExternal bool) (*store.File, error) {
	f := &store.File{Title: fd.Title, Name: fd.Name}

	if isExternal {
		r.log.Debug("found external file", "url", fd.URLPrivate)
		f.URL = fd.URLPrivate
		return f, nil
	}

	r.log.Debug("found internal file", "url", fd.URLPrivateDownload)
	path, err := r.fetch.Download(ctx, fd.URLPrivateDownload, KindFile)
	if err != nil {
		if errors.Is(err, ErrNotAuthorized) {
			r.log.Warn("no valid credentials, file cannot be downloaded",
				"url", fd.URLPrivateDownload)
		} else {
			r.log.Warn("file download failed, keeping url only",
				"url", fd.URLPrivateDownload, "error", err)
		}
		f.URL = fd.URLPrivateDownload
		return f, nil
	}
	f.Filepath = path
	return f, nil
}

// ResolveAvatar downloads a user's avatar and returns the local path.
// Avatars are served publicly, so an unauthorized session still
// works.
func (r *Resolver) ResolveAvatar(ctx context.Context, url string) (string, error) {
	return r.fetch.Download(ctx, url, KindAvatar)
}
