// Package fetch implements the operator-convenience "fetch" subcommand
// (§10.5): downloading and SHA1-verifying a language's multistream index
// and archive files from a Wikimedia mirror before "serve" ever runs. It
// performs no rendering and sits entirely off the request path, grounded
// on dump.go's download+hash+progress-bar pipeline but using grab for the
// download itself instead of a hand-rolled io.Copy loop.
package fetch

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cavaliercoder/grab"
	"github.com/cheggaaa/pb/v3"

	"github.com/wikireader/wikireader/internal/logging"
)

// Options configures one fetch run.
type Options struct {
	// Dir is the directory index.txt.bz2 and database.xml.bz2 are written to.
	Dir string
	// Mirror is the base URL of a Wikimedia dump mirror, e.g.
	// "https://dumps.wikimedia.org".
	Mirror string
	// Language is a wiki database prefix without the "wiki" suffix, e.g.
	// "en" for enwiki.
	Language string
}

// Result names the two files fetch produced. IndexPath is the index as
// downloaded, still bzip2-compressed; index.Open reads a plaintext index.
type Result struct {
	IndexPath   string
	ArchivePath string
}

// Run downloads the latest multistream index and archive for Options.Language
// from Options.Mirror, verifying each file's SHA1 against the mirror's own
// manifest, skipping the download entirely when a local file with a matching
// hash already exists (dump.go's "confirm hash first" shortcut).
func Run(ctx context.Context, opts Options) (Result, error) {
	db := opts.Language + "wiki"
	if !httpExists(opts.Mirror) {
		return Result{}, fmt.Errorf("fetch: mirror %s unreachable", opts.Mirror)
	}

	manifest, err := fetchManifest(opts.Mirror, db)
	if err != nil {
		return Result{}, fmt.Errorf("fetch: loading manifest: %w", err)
	}

	indexEntry, err := manifest.find("-pages-articles-multistream-index.txt.bz2")
	if err != nil {
		return Result{}, err
	}
	archiveEntry, err := manifest.find("-pages-articles-multistream.xml.bz2")
	if err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return Result{}, err
	}

	baseURL := opts.Mirror + "/" + db + "/latest"
	indexPath := filepath.Join(opts.Dir, "index.txt.bz2")
	archivePath := filepath.Join(opts.Dir, "database.xml.bz2")

	if err := downloadVerified(ctx, indexPath, baseURL+"/"+indexEntry.name, indexEntry.sha1); err != nil {
		return Result{}, fmt.Errorf("fetch: index file: %w", err)
	}
	if err := downloadVerified(ctx, archivePath, baseURL+"/"+archiveEntry.name, archiveEntry.sha1); err != nil {
		return Result{}, fmt.Errorf("fetch: archive file: %w", err)
	}

	return Result{IndexPath: indexPath, ArchivePath: archivePath}, nil
}

// downloadVerified downloads url to target via grab, driving a pb progress
// bar off the in-flight response's byte counters, and lets grab's own
// checksum support reject (and delete) a file whose SHA1 doesn't match.
// If target already exists with a matching hash, nothing is downloaded.
func downloadVerified(ctx context.Context, target, url, sha1Hex string) error {
	base := filepath.Base(target)

	if _, err := os.Stat(target); err == nil {
		logging.Infof("found existing %s, confirming hash...", base)
		hash, err := fileSha1(target)
		if err != nil {
			return err
		}
		if hash == sha1Hex {
			logging.Infof("%s already up to date", base)
			return nil
		}
		logging.Warnf("hash mismatch for %s, re-downloading...", base)
	}

	req, err := grab.NewRequest(target, url)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	sum, err := hex.DecodeString(sha1Hex)
	if err != nil {
		return fmt.Errorf("malformed sha1 for %s: %w", base, err)
	}
	req.SetChecksum(sha1.New(), sum, true)

	logging.Infof("downloading %s...", base)
	client := grab.NewClient()
	resp := client.Do(req)

	bar := pb.New64(resp.Size())
	bar.Start()
	defer bar.Finish()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ticker.C:
			bar.SetCurrent(resp.BytesComplete())
		case <-resp.Done:
			break loop
		}
	}
	bar.SetCurrent(resp.BytesComplete())

	if err := resp.Err(); err != nil {
		return fmt.Errorf("downloading %s: %w", base, err)
	}
	return nil
}

// fileSha1 hashes an already-downloaded file, for the "skip re-download"
// fast path.
func fileSha1(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// httpExists reports whether a HEAD request against url succeeds, the same
// mirror-reachability check dump.go performs before attempting a download.
func httpExists(url string) bool {
	resp, err := http.Head(url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
