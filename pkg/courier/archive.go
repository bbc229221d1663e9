package courier

import (
	"archive/tar"
	"bytes"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/klauspost/compress/gzip"
)

const (
	bundleDir  = "bundle"
	bundleFile = "bundle.yaml"
)

type tarWriter struct {
	tw      *tar.Writer
	modTime time.Time
}

func (w tarWriter) Mkdir(name string, mode os.FileMode) error {
	return w.tw.WriteHeader(&tar.Header{
		Name:     name + "/",
		Mode:     int64(mode),
		ModTime:  w.modTime,
		Typeflag: tar.TypeDir,
	})
}

func (w tarWriter) WriteFile(name string, data []byte, mode os.FileMode) error {
	if err := w.tw.WriteHeader(&tar.Header{
		Name:     name,
		Size:     int64(len(data)),
		Mode:     int64(mode),
		ModTime:  w.modTime,
		Typeflag: tar.TypeReg,
	}); err != nil {
		return err
	}
	_, err := w.tw.Write(data)
	return err
}

// Archive returns the gzip compressed tarball holding bundle/bundle.yaml.
// Headers carry no owner and a fixed timestamp so equal bundles produce
// equal archives.
func (b *Bundle) Archive() ([]byte, error) {
	content, err := b.YAML()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	w := tarWriter{tw: tw, modTime: time.Unix(0, 0)}

	if err := w.Mkdir(bundleDir, 0755); err != nil {
		return nil, fmt.Errorf("write bundle archive: %v", err)
	}
	if err := w.WriteFile(path.Join(bundleDir, bundleFile), content, 0644); err != nil {
		return nil, fmt.Errorf("write bundle archive: %v", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("write bundle archive: %v", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("write bundle archive: %v", err)
	}
	return buf.Bytes(), nil
}
