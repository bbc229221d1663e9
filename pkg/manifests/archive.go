package manifests

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"

	"github.com/operator-framework/omps/pkg/apierrors"
	"github.com/operator-framework/omps/pkg/lib/tmp"
)

// zip general purpose flag bit marking encrypted entries
const flagEncrypted = 0x1

// headerSize is the number of leading bytes needed to detect a file type.
const headerSize = 262

// IsZip reports whether the file at path starts with a zip signature.
func IsZip(path string) (bool, error) {
	f, err := tmp.OpenRegularFile(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, headerSize)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, err
	}
	return filetype.Is(head[:n], "zip"), nil
}

// Extractor unpacks manifest archives.
type Extractor struct {
	// MaxUncompressedSize bounds the sum of all entry sizes in bytes.
	MaxUncompressedSize int64
	Logger              logrus.FieldLogger
}

// Extract unpacks the zip archive at archivePath into targetDir.
//
// Nothing is written unless the declared uncompressed size fits the limit
// and no entry is encrypted. Entries are also counted while being written,
// so an archive lying about its sizes is still cut off at the limit. Entries
// whose names would escape targetDir are rejected.
func (e *Extractor) Extract(archivePath, targetDir string) error {
	logger := e.logger().WithField("archive", filepath.Base(archivePath))

	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return apierrors.Wrap(apierrors.UploadedFileInvalid, err, "Uploaded file is not a valid zip archive")
	}
	defer r.Close()

	var (
		declared uint64
		regular  int
	)
	for _, f := range r.File {
		logger.WithField("entry", f.Name).Debug("archive entry")
		if f.Flags&flagEncrypted != 0 {
			return apierrors.New(apierrors.UploadedFileInvalid,
				"Failed to extract archive: file %q is encrypted, password required for extraction", f.Name)
		}
		if !f.FileInfo().IsDir() {
			regular++
		}
		declared += f.UncompressedSize64
	}
	if regular == 0 {
		return apierrors.New(apierrors.UploadedFileInvalid, "Uploaded archive is empty")
	}
	if declared > uint64(e.MaxUncompressedSize) {
		return tooLarge(int64(declared), e.MaxUncompressedSize)
	}

	remaining := e.MaxUncompressedSize
	for _, f := range r.File {
		written, err := e.extractEntry(f, targetDir, remaining)
		if err != nil {
			return err
		}
		remaining -= written
	}

	logger.WithField("entries", regular).Debug("archive extracted")
	return nil
}

func (e *Extractor) extractEntry(f *zip.File, targetDir string, remaining int64) (int64, error) {
	name := strings.ReplaceAll(f.Name, `\`, "/")
	if !filepath.IsLocal(filepath.FromSlash(strings.TrimSuffix(name, "/"))) {
		return 0, apierrors.New(apierrors.UploadedFileInvalid,
			"Failed to extract archive: illegal file path %q", f.Name)
	}
	target := filepath.Join(targetDir, filepath.FromSlash(name))

	mode := f.Mode()
	switch {
	case mode.IsDir():
		if err := os.MkdirAll(target, 0755); err != nil {
			return 0, apierrors.Wrap(apierrors.UploadedFileInvalid, err, "Failed to extract archive: cannot write %q", f.Name)
		}
		return 0, nil
	case mode&os.ModeSymlink != 0:
		return 0, apierrors.New(apierrors.UploadedFileInvalid,
			"Failed to extract archive: %q is a symbolic link", f.Name)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, apierrors.Wrap(apierrors.UploadedFileInvalid, err, "Failed to extract archive: cannot write %q", f.Name)
	}

	rc, err := f.Open()
	if err != nil {
		return 0, apierrors.Wrap(apierrors.UploadedFileInvalid, err, "Failed to extract archive: cannot open %q", f.Name)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, apierrors.Wrap(apierrors.UploadedFileInvalid, err, "Failed to extract archive: cannot write %q", f.Name)
	}
	defer out.Close()

	written, err := io.Copy(out, io.LimitReader(rc, remaining+1))
	if err != nil {
		if errors.Is(err, zip.ErrChecksum) {
			return written, apierrors.New(apierrors.UploadedFileInvalid,
				"Failed to extract archive: CRC check failed for file %s in archive", f.Name)
		}
		return written, apierrors.Wrap(apierrors.UploadedFileInvalid, err, "Failed to extract archive: cannot read %q", f.Name)
	}
	if written > remaining {
		return written, tooLarge(e.MaxUncompressedSize+1, e.MaxUncompressedSize)
	}
	return written, nil
}

func (e *Extractor) logger() logrus.FieldLogger {
	if e.Logger == nil {
		return logrus.StandardLogger()
	}
	return e.Logger
}

func tooLarge(size, limit int64) *apierrors.Error {
	return apierrors.New(apierrors.UploadedFileInvalid,
		"Uncompressed archive is larger than limit (%dB>%dB)", size, limit)
}
