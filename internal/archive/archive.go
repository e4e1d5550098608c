// Package archive packages a site's downloaded documents into a single zip
// in the output directory.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/gtfetch/internal/download"
	"github.com/jmylchreest/gtfetch/internal/logger"
)

// ErrPackaging indicates the archive could not be written.
var ErrPackaging = errors.New("packaging failed")

// Extension is the archive file extension.
const Extension = ".zip"

// Path returns the archive path for siteID inside outputDir. Its existence
// is the resume signal for the site.
func Path(outputDir, siteID string) string {
	return filepath.Join(outputDir, siteID+Extension)
}

// Exists reports whether an archive for siteID is already in outputDir.
func Exists(outputDir, siteID string) bool {
	info, err := os.Stat(Path(outputDir, siteID))
	return err == nil && info.Mode().IsRegular()
}

// Packager writes per-site archives into OutputDir.
type Packager struct {
	OutputDir string
}

// New creates a Packager for outputDir.
func New(outputDir string) *Packager {
	return &Packager{OutputDir: outputDir}
}

// Package zips the finished files in stagingDir into <OutputDir>/<siteID>.zip
// with entries flattened to their base names. If there are no finished files
// it returns an empty path and writes nothing. stagingDir is removed in
// every case.
func (p *Packager) Package(siteID, stagingDir string) (string, error) {
	defer func() { _ = os.RemoveAll(stagingDir) }()

	snap, err := download.Scan(stagingDir)
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %v", ErrPackaging, stagingDir, err)
	}
	if len(snap.Finished) == 0 {
		logger.Warn("no files to zip", "site", siteID)
		return "", nil
	}

	zipPath := Path(p.OutputDir, siteID)
	// Written under a temporary name so an interrupted write never looks
	// like a completed site to resume.
	partPath := zipPath + ".part"

	size, err := writeZip(partPath, snap.Finished)
	if err != nil {
		_ = os.Remove(partPath)
		return "", fmt.Errorf("%w: %v", ErrPackaging, err)
	}
	if err := os.Rename(partPath, zipPath); err != nil {
		_ = os.Remove(partPath)
		return "", fmt.Errorf("%w: %v", ErrPackaging, err)
	}

	logger.Info("created archive",
		"file", filepath.Base(zipPath),
		"files", len(snap.Finished),
		"size", humanize.Bytes(uint64(size)))
	return zipPath, nil
}

func writeZip(path string, files []string) (int64, error) {
	out, err := os.Create(path) //#nosec G304 -- path is built from the configured output directory
	if err != nil {
		return 0, err
	}

	zw := zip.NewWriter(out)
	for _, f := range files {
		if err := addFile(zw, f); err != nil {
			_ = zw.Close()
			_ = out.Close()
			return 0, err
		}
	}
	if err := zw.Close(); err != nil {
		_ = out.Close()
		return 0, err
	}

	info, statErr := out.Stat()
	if err := out.Close(); err != nil {
		return 0, err
	}
	if statErr != nil {
		return 0, statErr
	}
	return info.Size(), nil
}

func addFile(zw *zip.Writer, path string) error {
	in, err := os.Open(path) //#nosec G304 -- staging files written by the browser
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(path)
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}
