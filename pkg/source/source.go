// Package source acquires manifest bundles from uploaded archives or from
// build-system artifacts.
package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/operator-framework/omps/pkg/apierrors"
	"github.com/operator-framework/omps/pkg/lib/tmp"
	"github.com/operator-framework/omps/pkg/manifests"
)

const (
	archiveFile  = "manifests.zip"
	manifestsDir = "manifests"
)

// Source produces a manifest bundle inside a scratch directory.
type Source interface {
	// Acquire fetches and extracts the payload below dir.
	Acquire(ctx context.Context, dir string) (*manifests.Bundle, error)
	// BuildID returns the build identifier the payload came from, empty
	// when it did not come from the build system.
	BuildID() string
	// Kind names the source for logs and metrics.
	Kind() string
}

// Upload is an archive sent by the client.
type Upload struct {
	// Content is nil when the request carried no file.
	Content   io.Reader
	Filename  string
	Extractor *manifests.Extractor
}

var _ Source = &Upload{}

func (u *Upload) BuildID() string { return "" }

func (u *Upload) Kind() string { return "zipfile" }

func (u *Upload) Acquire(ctx context.Context, dir string) (*manifests.Bundle, error) {
	if u.Content == nil || u.Filename == "" {
		return nil, apierrors.New(apierrors.ExpectedFileMissing, "No field 'file' in uploaded data")
	}
	if !strings.EqualFold(filepath.Ext(u.Filename), ".zip") {
		return nil, apierrors.New(apierrors.UploadedFileInvalid,
			"File extension of uploaded file %q is not .zip", u.Filename)
	}

	archive := filepath.Join(dir, archiveFile)
	if _, err := tmp.SaveToFile(archive, u.Content); err != nil {
		return nil, err
	}
	return extract(archive, dir, u.Extractor)
}

// ArchiveDownloader fetches the manifest archive of a build.
type ArchiveDownloader interface {
	DownloadManifestArchive(ctx context.Context, nvr string, w io.Writer) error
}

// Build is the manifest archive of a build-system build.
type Build struct {
	NVR        string
	Downloader ArchiveDownloader
	Extractor  *manifests.Extractor
}

var _ Source = &Build{}

func (b *Build) BuildID() string { return b.NVR }

func (b *Build) Kind() string { return "koji" }

func (b *Build) Acquire(ctx context.Context, dir string) (*manifests.Bundle, error) {
	archive := filepath.Join(dir, archiveFile)
	f, err := os.OpenFile(archive, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, err
	}
	if err := b.Downloader.DownloadManifestArchive(ctx, b.NVR, f); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return extract(archive, dir, b.Extractor)
}

func extract(archive, dir string, e *manifests.Extractor) (*manifests.Bundle, error) {
	logger := e.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ok, err := manifests.IsZip(archive)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierrors.New(apierrors.UploadedFileInvalid, "Uploaded file is not a valid zip archive")
	}

	target := filepath.Join(dir, manifestsDir)
	if err := os.MkdirAll(target, 0755); err != nil {
		return nil, err
	}
	if err := e.Extract(archive, target); err != nil {
		return nil, err
	}

	b, err := manifests.Load(target)
	if err != nil {
		return nil, err
	}
	logger.WithField("files", len(b.Files)).Debug("manifests extracted")
	return b, nil
}
