package tmp

import (
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
)

// WithDir creates a fresh scratch directory under base (the system default
// when empty), passes it to fn and removes it afterwards whatever fn returns.
func WithDir(base, pattern string, fn func(dir string) error) (err error) {
	dir, err := os.MkdirTemp(base, pattern)
	if err != nil {
		return fmt.Errorf("unable to create scratch directory: %v", err)
	}
	defer func() {
		if rerr := os.RemoveAll(dir); rerr != nil {
			err = multierror.Append(err, fmt.Errorf("unable to remove scratch directory %s: %v", dir, rerr)).ErrorOrNil()
		}
	}()

	return fn(dir)
}

// SaveToFile copies everything read from src into a new file at path,
// returning the number of bytes written.
func SaveToFile(path string, src io.Reader) (n int64, err error) {
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return io.Copy(dst, src)
}

// OpenRegularFile opens the file at path and returns an error if it is not regular, does not exist, or cannot be opened
func OpenRegularFile(path string) (*os.File, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		fd.Close()
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	return fd, nil
}
