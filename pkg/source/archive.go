package source

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/pkgmng/pkgmng/pkg/download"
	"github.com/pkgmng/pkgmng/pkg/logging"
)

// ArchiveError reports a failed archive acquisition (unsupported format,
// corrupt archive, or extraction failure).
type ArchiveError struct {
	Name string
	URL  string
	Err  error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive for %s from %s: %v", e.Name, e.URL, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// Archive acquires packages distributed as downloadable archives.
type Archive struct {
	dl      *download.Client
	log     logging.Logger
	tempDir string
}

// NewArchive returns an Archive that stages downloads under tempDir.
func NewArchive(dl *download.Client, log logging.Logger, tempDir string) *Archive {
	return &Archive{dl: dl, log: log, tempDir: tempDir}
}

// Fetch downloads the archive at url and extracts it into destDir. A single
// top-level directory enclosing every entry is stripped, so destDir holds the
// package contents directly. The temporary downloaded artifact is removed on
// every exit path, success or failure.
func (a *Archive) Fetch(ctx context.Context, name, url, destDir string) error {
	tmp := filepath.Join(a.tempDir, name+"_download")
	defer func() {
		os.Remove(tmp)
		a.log.Info("Cleaned up temporary download file")
	}()

	if err := a.dl.Fetch(ctx, url, tmp); err != nil {
		return err
	}

	a.log.Info(fmt.Sprintf("Extracting archive for %s...", name))

	var err error
	kind := archivePath(url)
	if strings.HasSuffix(kind, ".zip") {
		a.log.Info("Detected ZIP archive")
		err = a.extractZip(tmp, destDir)
	} else {
		a.log.Info("Detected TAR archive")
		err = a.extractTar(tmp, kind, destDir)
	}
	if err != nil {
		return &ArchiveError{Name: name, URL: url, Err: err}
	}

	a.log.Info(fmt.Sprintf("Extraction completed for %s", name))
	return nil
}

func (a *Archive) extractZip(path, destDir string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer zr.Close()

	names := make([]string, len(zr.File))
	for i, f := range zr.File {
		names[i] = f.Name
	}
	a.log.Info(fmt.Sprintf("Archive contains %d entries", len(names)))
	prefix := commonDirPrefix(names)
	if prefix != "" {
		a.log.Info("Stripping common prefix: " + prefix)
	}

	for _, f := range zr.File {
		rel := strings.TrimPrefix(f.Name, prefix)
		if rel == "" {
			continue
		}
		target, err := securePath(destDir, rel)
		if err != nil {
			return err
		}

		if strings.HasSuffix(f.Name, "/") {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		src, err := f.Open()
		if err != nil {
			return err
		}
		err = writeFile(target, src, f.Mode())
		src.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *Archive) extractTar(path, url, destDir string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, closer, err := decompress(f, url)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer()
	}

	// Two passes over the entries would require re-reading the stream, so the
	// common prefix is computed from a header scan first.
	names, err := tarEntryNames(reader)
	if err != nil {
		return err
	}
	a.log.Info(fmt.Sprintf("Archive contains %d entries", len(names)))
	prefix := commonDirPrefix(names)
	if prefix != "" {
		a.log.Info("Stripping common prefix: " + prefix)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	reader, closer, err = decompress(f, url)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer()
	}

	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		rel := strings.TrimPrefix(hdr.Name, prefix)
		if rel == "" {
			continue
		}
		target, err := securePath(destDir, rel)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeFile(target, tr, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeLink:
			// Hard link targets are archive paths, so they get the same
			// prefix strip and escape check as the entry itself.
			src, err := securePath(destDir, strings.TrimPrefix(hdr.Linkname, prefix))
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Link(src, target); err != nil {
				return err
			}
		case tar.TypeXGlobalHeader:
			// Metadata only, written by git archive among others.
		default:
			a.log.Warn(fmt.Sprintf("Skipping unsupported archive entry: %s", hdr.Name))
		}
	}
}

// tarEntryNames scans all headers from a tar stream without extracting.
func tarEntryNames(r io.Reader) ([]string, error) {
	tr := tar.NewReader(r)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}
		names = append(names, hdr.Name)
	}
}

// archivePath returns url with any query string or fragment removed, so that
// extension detection sees the path, not appended parameters such as access
// tokens.
func archivePath(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		return url[:i]
	}
	return url
}

// decompress wraps r with the decompressor matching the URL's extension.
// Plain .tar passes through; unknown extensions are rejected.
func decompress(r io.Reader, url string) (io.Reader, func(), error) {
	switch {
	case strings.HasSuffix(url, ".tar.gz"), strings.HasSuffix(url, ".tgz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gz, func() { gz.Close() }, nil
	case strings.HasSuffix(url, ".tar.bz2"), strings.HasSuffix(url, ".tbz2"):
		return bzip2.NewReader(r), nil, nil
	case strings.HasSuffix(url, ".tar.zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr.IOReadCloser(), zr.Close, nil
	case strings.HasSuffix(url, ".tar"):
		return r, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported archive type: %s", url)
	}
}

// commonDirPrefix returns the deepest "dir/" path every entry name begins
// with, or "" when the entries share no enclosing directory. Entry names that
// are exactly the prefix directory itself count as inside it.
func commonDirPrefix(names []string) string {
	if len(names) == 0 {
		return ""
	}

	prefix := dirComponents(names[0])
	for _, name := range names[1:] {
		parts := dirComponents(name)
		if len(parts) < len(prefix) {
			prefix = prefix[:len(parts)]
		}
		for i := range prefix {
			if prefix[i] != parts[i] {
				prefix = prefix[:i]
				break
			}
		}
		if len(prefix) == 0 {
			return ""
		}
	}
	if len(prefix) == 0 {
		return ""
	}
	// Relative components are never a strippable directory; leave such
	// entries to the per-entry escape check.
	for _, part := range prefix {
		if part == "." || part == ".." {
			return ""
		}
	}
	return strings.Join(prefix, "/") + "/"
}

// dirComponents returns the path components of name that every file inside it
// shares: all components for a directory entry, all but the last for a file.
func dirComponents(name string) []string {
	if strings.HasSuffix(name, "/") {
		return strings.Split(strings.TrimSuffix(name, "/"), "/")
	}
	parts := strings.Split(name, "/")
	return parts[:len(parts)-1]
}

// securePath joins rel under destDir, rejecting entries that would escape it.
func securePath(destDir, rel string) (string, error) {
	rel = filepath.FromSlash(rel)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("archive entry escapes destination: %s", rel)
	}
	return filepath.Join(destDir, rel), nil
}

func writeFile(target string, src io.Reader, mode os.FileMode) error {
	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
