package integration

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

// releasesPath is where the fake upstream serves its release tree.
const releasesPath = "/pub/firefox/releases"

// release is one version published by the fake upstream.
type release struct {
	version  string
	filename string
	archive  []byte
}

// checksum returns the SHA-256 hex digest of the archive.
func (r *release) checksum() string {
	sum := sha256.Sum256(r.archive)

	return hex.EncodeToString(sum[:])
}

// releaseServer is a release server publishing Linux tarballs for en-US.
type releaseServer struct {
	server   *httptest.Server
	mu       sync.Mutex
	releases map[string]*release
	hits     map[string]int
}

func newUpstream(t *testing.T, versions ...string) *releaseServer {
	t.Helper()

	u := &releaseServer{
		releases: make(map[string]*release, len(versions)),
		hits:     make(map[string]int),
	}

	for _, version := range versions {
		u.releases[version] = &release{
			version:  version,
			filename: "firefox-" + version + ".tar.xz",
			archive:  firefoxArchive(t, version),
		}
	}

	u.server = httptest.NewServer(http.HandlerFunc(u.serve))
	t.Cleanup(u.server.Close)

	return u
}

// baseURI is the release tree root to configure.
func (u *releaseServer) baseURI() string {
	return u.server.URL + releasesPath
}

// count returns how many requests hit path.
func (u *releaseServer) count(requestPath string) int {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.hits[requestPath]
}

// total returns the number of requests served.
func (u *releaseServer) total() int {
	u.mu.Lock()
	defer u.mu.Unlock()

	total := 0
	for _, hits := range u.hits {
		total += hits
	}

	return total
}

func (u *releaseServer) serve(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.hits[r.URL.Path]++
	u.mu.Unlock()

	rest, found := strings.CutPrefix(r.URL.Path, releasesPath+"/")
	if !found {
		http.NotFound(w, r)

		return
	}

	// {version}/linux-x86_64/en-US/{filename}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[1] != "linux-x86_64" || parts[2] != "en-US" {
		http.NotFound(w, r)

		return
	}

	published, ok := u.releases[parts[0]]
	if !ok {
		http.NotFound(w, r)

		return
	}

	switch parts[3] {
	case "":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, listing(path.Dir(strings.TrimSuffix(r.URL.Path, "/")), published.filename))
	case published.filename:
		w.Header().Set("Content-Type", "application/x-xz")
		_, _ = w.Write(published.archive)
	default:
		http.NotFound(w, r)
	}
}

// listing renders an index page the way the release server does.
func listing(parent, filename string) string {
	return `<!DOCTYPE html>
<html><head><title>Directory Listing</title></head><body>
<table>
<tr><th>Type</th><th>Name</th><th>Size</th><th>Last Modified</th></tr>
<tr><td>Dir</td><td><a href="` + parent + `/">..</a></td><td></td><td></td></tr>
<tr><td>File</td><td><a href="` + filename + `">` + filename + `</a></td><td>45M</td><td>31-Mar-2015 16:27</td></tr>
<tr><td>File</td><td><a href="firefox-Stub.exe">Firefox Installer Stub.exe</a></td><td>1M</td><td>31-Mar-2015 16:27</td></tr>
</table></body></html>`
}

// firefoxArchive builds a release-like xz tarball whose binary reports version.
func firefoxArchive(t *testing.T, version string) []byte {
	t.Helper()

	var buffer bytes.Buffer

	compressed, err := xz.NewWriter(&buffer)
	require.NoError(t, err)

	archive := tar.NewWriter(compressed)
	modified := time.Date(2015, time.March, 31, 16, 27, 0, 0, time.UTC)

	entries := []struct {
		name string
		body string
		mode int64
	}{
		{name: "firefox/", mode: 0o755},
		{name: "firefox/firefox", body: "#!/bin/sh\necho 'Mozilla Firefox " + version + "'\n", mode: 0o755},
		{name: "firefox/application.ini", body: "[App]\nVersion=" + version + "\n", mode: 0o644},
	}

	for _, entry := range entries {
		header := &tar.Header{
			Name:     entry.name,
			Mode:     entry.mode,
			Size:     int64(len(entry.body)),
			ModTime:  modified,
			Typeflag: tar.TypeReg,
		}

		if strings.HasSuffix(entry.name, "/") {
			header.Typeflag = tar.TypeDir
		}

		require.NoError(t, archive.WriteHeader(header))

		_, err = archive.Write([]byte(entry.body))
		require.NoError(t, err)
	}

	require.NoError(t, archive.Close())
	require.NoError(t, compressed.Close())

	return buffer.Bytes()
}
