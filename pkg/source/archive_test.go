package source

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/pkgmng/pkgmng/pkg/download"
	"github.com/pkgmng/pkgmng/pkg/logging"
)

func newTestArchive(t *testing.T) (*Archive, string) {
	t.Helper()
	tempDir := t.TempDir()
	log := logging.New(&bytes.Buffer{})
	dl := download.New(log, 5*time.Second, 1, 64*1024)
	return NewArchive(dl, log, tempDir), tempDir
}

// serveBytes serves body for every request.
func serveBytes(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for name, content := range entries {
		if content == "" && name[len(name)-1] == '/' {
			if _, err := zw.Create(name); err != nil {
				t.Fatal(err)
			}
			continue
		}
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func buildTarGz(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)
	tw := tar.NewWriter(gz)
	for name, content := range entries {
		if content == "" && name[len(name)-1] == '/' {
			if err := tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeDir, Mode: 0o755}); err != nil {
				t.Fatal(err)
			}
			continue
		}
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// tempArtifacts lists leftover download files under the staging dir.
func tempArtifacts(t *testing.T, tempDir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(tempDir, "*_download"))
	if err != nil {
		t.Fatal(err)
	}
	return matches
}

func TestFetchZipStripsCommonPrefix(t *testing.T) {
	body := buildZip(t, map[string]string{
		"foo-1.0/":              "",
		"foo-1.0/README.md":     "readme",
		"foo-1.0/src/main.cpp":  "int main() {}",
		"foo-1.0/src/util.hpp":  "#pragma once",
		"foo-1.0/include/a.hpp": "a",
	})
	srv := serveBytes(t, body)

	a, tempDir := newTestArchive(t)
	dest := filepath.Join(t.TempDir(), "foo")
	if err := a.Fetch(context.Background(), "foo", srv.URL+"/foo-1.0.zip", dest); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dest, "foo-1.0")); !os.IsNotExist(err) {
		t.Error("top-level archive directory was not stripped")
	}
	got, err := os.ReadFile(filepath.Join(dest, "src", "main.cpp"))
	if err != nil {
		t.Fatalf("stripped file missing: %v", err)
	}
	if string(got) != "int main() {}" {
		t.Errorf("extracted content = %q", got)
	}

	if left := tempArtifacts(t, tempDir); len(left) != 0 {
		t.Errorf("temporary artifact left behind: %v", left)
	}
}

func TestFetchZipNoCommonPrefix(t *testing.T) {
	body := buildZip(t, map[string]string{
		"README.md":    "readme",
		"src/main.cpp": "int main() {}",
	})
	srv := serveBytes(t, body)

	a, _ := newTestArchive(t)
	dest := filepath.Join(t.TempDir(), "foo")
	if err := a.Fetch(context.Background(), "foo", srv.URL+"/foo.zip", dest); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dest, "README.md")); err != nil {
		t.Errorf("verbatim entry missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "src", "main.cpp")); err != nil {
		t.Errorf("verbatim nested entry missing: %v", err)
	}
}

func TestFetchTarGzStripsCommonPrefix(t *testing.T) {
	body := buildTarGz(t, map[string]string{
		"lib-2.1/":               "",
		"lib-2.1/CMakeLists.txt": "project(lib)",
		"lib-2.1/src/lib.c":      "void f(void) {}",
	})
	srv := serveBytes(t, body)

	a, tempDir := newTestArchive(t)
	dest := filepath.Join(t.TempDir(), "lib")
	if err := a.Fetch(context.Background(), "lib", srv.URL+"/lib-2.1.tar.gz", dest); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dest, "lib-2.1")); !os.IsNotExist(err) {
		t.Error("top-level archive directory was not stripped")
	}
	if _, err := os.Stat(filepath.Join(dest, "src", "lib.c")); err != nil {
		t.Errorf("stripped file missing: %v", err)
	}

	if left := tempArtifacts(t, tempDir); len(left) != 0 {
		t.Errorf("temporary artifact left behind: %v", left)
	}
}

func TestFetchTarGzHardLinks(t *testing.T) {
	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)
	tw := tar.NewWriter(gz)
	content := "void f(void) {}"
	headers := []*tar.Header{
		{Name: "lib-2.1/", Typeflag: tar.TypeDir, Mode: 0o755},
		{Name: "lib-2.1/lib.c", Mode: 0o644, Size: int64(len(content))},
		{Name: "lib-2.1/lib_copy.c", Typeflag: tar.TypeLink, Linkname: "lib-2.1/lib.c"},
	}
	for _, hdr := range headers {
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if hdr.Name == "lib-2.1/lib.c" {
			if _, err := tw.Write([]byte(content)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	srv := serveBytes(t, buf.Bytes())

	a, _ := newTestArchive(t)
	dest := filepath.Join(t.TempDir(), "lib")
	if err := a.Fetch(context.Background(), "lib", srv.URL+"/lib-2.1.tar.gz", dest); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dest, "lib_copy.c"))
	if err != nil {
		t.Fatalf("hard link not materialized: %v", err)
	}
	if string(got) != content {
		t.Errorf("hard link content = %q, want %q", got, content)
	}
}

func TestFetchIgnoresURLQueryString(t *testing.T) {
	body := buildTarGz(t, map[string]string{
		"lib-2.1/":      "",
		"lib-2.1/lib.c": "void f(void) {}",
	})
	srv := serveBytes(t, body)

	a, _ := newTestArchive(t)
	dest := filepath.Join(t.TempDir(), "lib")
	url := srv.URL + "/lib-2.1.tar.gz?token=secret"
	if err := a.Fetch(context.Background(), "lib", url, dest); err != nil {
		t.Fatalf("Fetch with query string: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "lib.c")); err != nil {
		t.Errorf("extracted file missing: %v", err)
	}
}

func TestFetchCleansUpOnExtractionFailure(t *testing.T) {
	srv := serveBytes(t, []byte("this is not a zip file"))

	a, tempDir := newTestArchive(t)
	dest := filepath.Join(t.TempDir(), "foo")
	err := a.Fetch(context.Background(), "foo", srv.URL+"/foo.zip", dest)
	if err == nil {
		t.Fatal("Fetch succeeded on a corrupt archive")
	}

	var archErr *ArchiveError
	if !errors.As(err, &archErr) {
		t.Fatalf("error type %T, want *ArchiveError", err)
	}
	if left := tempArtifacts(t, tempDir); len(left) != 0 {
		t.Errorf("temporary artifact left behind after failure: %v", left)
	}
}

func TestFetchUnsupportedArchiveType(t *testing.T) {
	srv := serveBytes(t, []byte("payload"))

	a, tempDir := newTestArchive(t)
	dest := filepath.Join(t.TempDir(), "foo")
	err := a.Fetch(context.Background(), "foo", srv.URL+"/foo.rar", dest)
	if err == nil {
		t.Fatal("Fetch accepted an unsupported archive type")
	}
	var archErr *ArchiveError
	if !errors.As(err, &archErr) {
		t.Fatalf("error type %T, want *ArchiveError", err)
	}
	if left := tempArtifacts(t, tempDir); len(left) != 0 {
		t.Errorf("temporary artifact left behind after failure: %v", left)
	}
}

func TestFetchRejectsEscapingEntries(t *testing.T) {
	body := buildZip(t, map[string]string{
		"../evil.txt": "escape",
	})
	srv := serveBytes(t, body)

	a, _ := newTestArchive(t)
	parent := t.TempDir()
	dest := filepath.Join(parent, "foo")
	if err := a.Fetch(context.Background(), "foo", srv.URL+"/foo.zip", dest); err == nil {
		t.Fatal("Fetch extracted an entry escaping the destination")
	}
	if _, err := os.Stat(filepath.Join(parent, "evil.txt")); !os.IsNotExist(err) {
		t.Error("escaping entry was written outside the destination")
	}
}

func TestCommonDirPrefix(t *testing.T) {
	tests := map[string]struct {
		names []string
		want  string
	}{
		"single top-level dir": {
			names: []string{"foo-1.0/", "foo-1.0/a.txt", "foo-1.0/sub/b.txt"},
			want:  "foo-1.0/",
		},
		"no shared dir": {
			names: []string{"a.txt", "sub/b.txt"},
			want:  "",
		},
		"two top-level dirs": {
			names: []string{"one/a.txt", "two/b.txt"},
			want:  "",
		},
		"relative component": {
			names: []string{"../evil/a.txt", "../evil/b.txt"},
			want:  "",
		},
		"nested shared dir": {
			names: []string{"foo/bar/a.txt", "foo/bar/b.txt"},
			want:  "foo/bar/",
		},
		"empty": {
			names: nil,
			want:  "",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := commonDirPrefix(tc.names); got != tc.want {
				t.Errorf("commonDirPrefix(%v) = %q, want %q", tc.names, got, tc.want)
			}
		})
	}
}
