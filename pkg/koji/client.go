// Package koji talks to the build system that produces operator images and
// their manifest archives.
package koji

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kolo/xmlrpc"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/operator-framework/omps/pkg/apierrors"
	"github.com/operator-framework/omps/pkg/metrics"
)

const (
	archiveExtraKey = "operator_manifests_archive"
	// ManifestArchiveName is the log file name operator builds upload their
	// manifests under.
	ManifestArchiveName = "operator_manifests.zip"
)

// Session performs XML-RPC calls against the build system hub.
type Session interface {
	Call(method string, args interface{}, reply interface{}) error
}

// Client locates and downloads manifest archives of operator builds.
type Client struct {
	session Session
	rootURL string
	http    *http.Client
	logger  logrus.FieldLogger
}

// Dial returns a client for the hub at hubURL. Files are downloaded relative
// to rootURL. Every request is bounded by timeout.
func Dial(hubURL, rootURL string, timeout time.Duration, logger logrus.FieldLogger) (*Client, error) {
	transport := timeoutTransport{next: http.DefaultTransport, timeout: timeout}
	session, err := xmlrpc.NewClient(hubURL, transport)
	if err != nil {
		return nil, fmt.Errorf("unable to create build system client: %v", err)
	}
	return New(session, rootURL, &http.Client{Timeout: timeout}, logger), nil
}

// New returns a client using session for hub calls and httpClient for
// downloads.
func New(session Session, rootURL string, httpClient *http.Client, logger logrus.FieldLogger) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{session: session, rootURL: rootURL, http: httpClient, logger: logger}
}

func (c *Client) call(ctx context.Context, method string, args interface{}, reply interface{}) error {
	defer metrics.ObserveCall("koji", method, time.Now())

	done := make(chan error, 1)
	go func() {
		done <- c.session.Call(method, args, reply)
	}()
	select {
	case err := <-done:
		return errors.Wrapf(err, "koji %s", method)
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "koji %s", method)
	}
}

// Ping checks that the hub answers.
func (c *Client) Ping(ctx context.Context) error {
	var version interface{}
	return c.call(ctx, "getAPIVersion", nil, &version)
}

// ManifestArchiveURL returns the download URL of the manifest archive
// produced by the build nvr.
func (c *Client) ManifestArchiveURL(ctx context.Context, nvr string) (string, error) {
	logger := c.logger.WithField("nvr", nvr)

	var build interface{}
	if err := c.call(ctx, "getBuild", nvr, &build); err != nil {
		return "", apierrors.Wrap(apierrors.BuildSystemError, err, "Failed to query build %s", nvr)
	}
	info, ok := build.(map[string]interface{})
	if !ok || len(info) == 0 {
		return "", apierrors.New(apierrors.BuildNotFound, "NVR '%s' wasn't found", nvr)
	}

	archive := archiveName(info)
	if archive == "" {
		return "", apierrors.New(apierrors.NotAnOperatorImage,
			"NVR '%s' is not an operator image, missing '%s' in build extras", nvr, archiveExtraKey)
	}

	buildID, ok := toInt(info["id"])
	if !ok {
		return "", apierrors.New(apierrors.BuildSystemError, "Build %s has no numeric id", nvr)
	}

	var logs []interface{}
	if err := c.call(ctx, "getBuildLogs", buildID, &logs); err != nil {
		return "", apierrors.Wrap(apierrors.BuildSystemError, err, "Failed to list logs of build %s", nvr)
	}
	for _, l := range logs {
		entry, ok := l.(map[string]interface{})
		if !ok {
			continue
		}
		if name, _ := entry["name"].(string); name != archive {
			continue
		}
		path, _ := entry["path"].(string)
		logger.WithField("path", path).Debug("found manifest archive")
		return c.rootURL + path, nil
	}

	return "", apierrors.New(apierrors.ManifestArchiveNotFound,
		"Expected archive with operator manifests %s not found in build %s", archive, nvr)
}

// DownloadManifestArchive writes the manifest archive of build nvr to w.
func (c *Client) DownloadManifestArchive(ctx context.Context, nvr string, w io.Writer) error {
	url, err := c.ManifestArchiveURL(ctx, nvr)
	if err != nil {
		return err
	}

	defer metrics.ObserveCall("koji", "download", time.Now())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apierrors.Wrap(apierrors.BuildSystemError, err, "Failed to download manifest archive of %s", nvr)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return apierrors.Wrap(apierrors.BuildSystemError, err, "Failed to download manifest archive of %s", nvr)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return apierrors.New(apierrors.BuildSystemError,
			"Failed to download manifest archive of %s: %s returned %d", nvr, url, res.StatusCode)
	}
	if _, err := io.Copy(w, res.Body); err != nil {
		return apierrors.Wrap(apierrors.BuildSystemError, errors.Wrap(err, "read body"), "Failed to download manifest archive of %s", nvr)
	}
	return nil
}

func archiveName(build map[string]interface{}) string {
	extra, ok := build["extra"].(map[string]interface{})
	if !ok {
		return ""
	}
	if name, ok := extra[archiveExtraKey].(string); ok {
		return name
	}
	typeinfo, _ := extra["typeinfo"].(map[string]interface{})
	manifests, _ := typeinfo["operator-manifests"].(map[string]interface{})
	if name, ok := manifests["archive"].(string); ok {
		return name
	}
	return ""
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// timeoutTransport bounds each round trip, body included, by timeout.
type timeoutTransport struct {
	next    http.RoundTripper
	timeout time.Duration
}

func (t timeoutTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(req.Context(), t.timeout)
	res, err := t.next.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	res.Body = cancelBody{ReadCloser: res.Body, cancel: cancel}
	return res, nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b cancelBody) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}
