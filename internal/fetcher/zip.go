package fetcher

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// MaxExtractBytes caps the total uncompressed size of one archive. The full
// French commune boundary set is a few hundred megabytes.
const MaxExtractBytes int64 = 2 << 30

var zipMagic = []byte("PK\x03\x04")

// IsZIP reports whether head begins with the ZIP local file header signature.
func IsZIP(head []byte) bool {
	return bytes.HasPrefix(head, zipMagic)
}

// ExtractZIP unpacks every regular file of the archive under destDir,
// keeping the archive's directory layout so shapefile siblings stay
// together. macOS resource forks are not extracted. Returns the written
// paths in archive order.
func ExtractZIP(zipPath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	budget := MaxExtractBytes
	var written []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() || isResourceFork(f.Name) {
			continue
		}
		dest, err := entryPath(destDir, f.Name)
		if err != nil {
			return written, err
		}
		n, err := writeEntry(f, dest, budget)
		if err != nil {
			return written, err
		}
		budget -= n
		written = append(written, dest)
	}
	return written, nil
}

// FindByExt returns the paths whose extension matches ext, ignoring case,
// sorted.
func FindByExt(paths []string, ext string) []string {
	var out []string
	for _, p := range paths {
		if strings.EqualFold(filepath.Ext(p), ext) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func isResourceFork(name string) bool {
	return strings.HasPrefix(name, "__MACOSX/") || strings.HasPrefix(filepath.Base(name), "._")
}

// entryPath resolves an archive member under destDir, rejecting names that
// would escape it.
func entryPath(destDir, name string) (string, error) {
	rel := filepath.FromSlash(name)
	if !filepath.IsLocal(rel) {
		return "", eris.Errorf("zip: illegal path %q (zip slip attempt)", name)
	}
	return filepath.Join(destDir, rel), nil
}

// writeEntry copies one member to dest, failing once more than budget
// bytes would be written.
func writeEntry(f *zip.File, dest string, budget int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, eris.Wrap(err, "zip: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return 0, eris.Wrapf(err, "zip: open entry %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return 0, eris.Wrap(err, "zip: create file")
	}
	defer out.Close() //nolint:errcheck

	n, err := io.Copy(out, io.LimitReader(rc, budget+1))
	if err != nil {
		return n, eris.Wrapf(err, "zip: write %s", f.Name)
	}
	if n > budget {
		return n, eris.Errorf("zip: archive exceeds %d bytes uncompressed", MaxExtractBytes)
	}
	return n, nil
}
