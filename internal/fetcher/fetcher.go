// Package fetcher downloads remote datasets over HTTP, FTP, or from the local
// filesystem, and unpacks ZIP archives.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Multi dispatches to a Fetcher by URL scheme. A URL without a scheme is
// treated as a local path.
type Multi struct {
	HTTP Fetcher
	FTP  Fetcher
	File Fetcher
}

// NewMulti builds a scheme dispatcher from the given options.
func NewMulti(httpOpts HTTPOptions, ftpOpts FTPOptions) *Multi {
	return &Multi{
		HTTP: NewHTTPFetcher(httpOpts),
		FTP:  NewFTPFetcher(ftpOpts),
		File: &FileFetcher{},
	}
}

func (m *Multi) pick(rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %q", rawURL)
	}

	var f Fetcher
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		f = m.HTTP
	case "ftp":
		f = m.FTP
	case "file", "":
		f = m.File
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}
	if f == nil {
		return nil, eris.Errorf("fetcher: no fetcher configured for scheme %q", u.Scheme)
	}
	return f, nil
}

// Download fetches the URL with the fetcher registered for its scheme.
func (m *Multi) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	f, err := m.pick(rawURL)
	if err != nil {
		return nil, err
	}
	return f.Download(ctx, rawURL)
}

// DownloadToFile fetches the URL to path with the fetcher registered for its scheme.
func (m *Multi) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	f, err := m.pick(rawURL)
	if err != nil {
		return 0, err
	}
	return f.DownloadToFile(ctx, rawURL, path)
}

// copyToFile writes body to path and closes body.
func copyToFile(body io.ReadCloser, path string) (int64, error) {
	defer body.Close() //nolint:errcheck

	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, body)
	if err != nil {
		return n, eris.Wrap(err, "write file")
	}

	return n, nil
}
