// Package remote declares the collaborator interfaces the sync engine
// consumes but never implements: the cloud drive HTTP client and the
// OAuth token provider. Concrete
// implementations live outside this module; everything here exists so
// internal/downloader and internal/scanner can accept
// an interface rather than a concrete transport.
package remote

import (
	"context"
	"errors"
	"io"

	"golang.org/x/oauth2"
)

// Classification errors a Store implementation returns so the downloader
// can apply its retry rules without depending on HTTP internals: wrap
// the underlying transport error with one of these via
// fmt.Errorf("...: %w", ...) so errors.Is still matches.
var (
	// ErrRateLimited means the cloud responded 429, or 403 on an
	// already-authenticated URL — single-attempt failure, never retried
	// this session.
	ErrRateLimited = errors.New("remote: rate limited")

	// ErrAuthRequired means a 401/403 was returned and an authenticated
	// retry should be attempted if a token is available.
	ErrAuthRequired = errors.New("remote: authentication required")

	// ErrHTMLInterstitial signals a virus-scan interstitial page instead
	// of file content; retry with useAcknowledgeAbuse if a token is
	// available, otherwise non-retryable.
	ErrHTMLInterstitial = errors.New("remote: html virus-scan interstitial")

	// ErrTransient covers timeouts and 5xx responses — retried with
	// backoff up to the caller's retry cap.
	ErrTransient = errors.New("remote: transient failure")
)

// TokenSource supplies the bearer token used to authenticate download and
// listing requests. golang.org/x/oauth2.TokenSource already expresses
// exactly this contract — an OAuth implementation wires into it directly.
type TokenSource = oauth2.TokenSource

// DriveItem is one entry as listed by the remote store — a thinner
// projection than manifest.File, since the remote store reports what the
// cloud currently has rather than the desired synced state.
type DriveItem struct {
	ID          string
	Name        string
	Path        string
	Size        int64
	MD5         string
	Modified    string
	IsFolder    bool
	DownloadURL string
}

// Store is the cloud drive collaborator: folder listings, a download byte
// stream per item, and an acknowledge-abuse URL for the HTML
// virus-scan-interstitial case the downloader handles.
type Store interface {
	// ListFolder returns the direct children of folderID.
	ListFolder(ctx context.Context, folderID string) ([]DriveItem, error)

	// Download streams itemID's content to w, returning bytes written.
	// useAcknowledgeAbuse requests the authenticated acknowledge-abuse
	// variant of the download URL, used after an HTML interstitial
	// response.
	Download(ctx context.Context, itemID string, w io.Writer, useAcknowledgeAbuse bool) (int64, error)
}
