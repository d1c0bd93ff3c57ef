package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"

	"github.com/rotisserie/eris"
)

// FileFetcher reads datasets from the local filesystem. It accepts file://
// URLs and bare paths.
type FileFetcher struct{}

// localPath resolves a file:// URL or bare path to a filesystem path.
func localPath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrap(err, "parse file url")
	}
	switch u.Scheme {
	case "":
		return rawURL, nil
	case "file":
		if u.Host != "" && u.Host != "localhost" {
			return "", eris.Errorf("file url with remote host %q", u.Host)
		}
		if u.Path == "" {
			return "", eris.New("empty path in file url")
		}
		return u.Path, nil
	default:
		return "", eris.Errorf("expected file scheme, got %q", u.Scheme)
	}
}

// Download opens the local file.
func (f *FileFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "file: context cancelled")
	}
	path, err := localPath(rawURL)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "file: open %s", path)
	}
	return file, nil
}

// DownloadToFile copies the local file to path.
func (f *FileFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	return copyToFile(body, path)
}
