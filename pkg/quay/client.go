//go:generate go run github.com/golang/mock/mockgen -destination=quayfakes/registry.go -package=quayfakes . Registry

// Package quay is a client for the CNR application registry API and the
// repository API of a Quay instance.
package quay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/operator-framework/omps/pkg/apierrors"
	"github.com/operator-framework/omps/pkg/metrics"
)

const mediaType = "helm"

// Registry stores manifest bundle releases.
type Registry interface {
	// ListReleases returns the raw release strings of org/repo. A missing
	// repository is reported as PackageNotFound.
	ListReleases(ctx context.Context, token, org, repo string) ([]string, error)
	// ListRepositories returns the repository names of org.
	ListRepositories(ctx context.Context, token, org string) ([]string, error)
	// PushRelease uploads a tar.gz bundle blob as release version.
	PushRelease(ctx context.Context, token, org, repo, version string, blob []byte) error
	// DeleteRelease removes one release.
	DeleteRelease(ctx context.Context, token, org, repo, version string) error
	// PublishRepository makes org/repo publicly visible.
	PublishRepository(ctx context.Context, oauthToken, org, repo string) error
}

var _ Registry = &Client{}

// Client talks to a Quay instance.
type Client struct {
	baseURL string
	http    *http.Client
	logger  logrus.FieldLogger
}

// NewClient returns a client for the Quay instance at baseURL.
func NewClient(baseURL string, httpClient *http.Client, logger logrus.FieldLogger) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), http: httpClient, logger: logger}
}

type release struct {
	Release string `json:"release"`
}

type pushRequest struct {
	Blob      string `json:"blob"`
	Release   string `json:"release"`
	MediaType string `json:"media_type"`
}

type packageSummary struct {
	Name string `json:"name"`
}

func (c *Client) packageURL(org, repo string, extra ...string) string {
	parts := append([]string{c.baseURL, "cnr/api/v1/packages", url.PathEscape(org), url.PathEscape(repo)}, extra...)
	return strings.Join(parts, "/")
}

func (c *Client) ListReleases(ctx context.Context, token, org, repo string) ([]string, error) {
	var releases []release
	status, msg, err := c.do(ctx, c.http, "list", http.MethodGet, c.packageURL(org, repo), token, nil, &releases)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.RegistryDeleteError, err, "Cannot retrieve information about package %s/%s", org, repo)
	}
	switch {
	case status == http.StatusNotFound:
		return nil, apierrors.New(apierrors.PackageNotFound, "Package %s/%s not found", org, repo)
	case status != http.StatusOK:
		return nil, apierrors.New(apierrors.RegistryDeleteError, "Cannot retrieve information about package %s/%s: %s", org, repo, msg)
	}

	raw := make([]string, 0, len(releases))
	for _, r := range releases {
		raw = append(raw, r.Release)
	}
	return raw, nil
}

func (c *Client) ListRepositories(ctx context.Context, token, org string) ([]string, error) {
	u := fmt.Sprintf("%s/cnr/api/v1/packages?namespace=%s", c.baseURL, url.QueryEscape(org))
	var pkgs []packageSummary
	status, msg, err := c.do(ctx, c.http, "list_repositories", http.MethodGet, u, token, nil, &pkgs)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.RegistryDeleteError, err, "Cannot list packages of %s", org)
	}
	if status != http.StatusOK {
		return nil, apierrors.New(apierrors.RegistryDeleteError, "Cannot list packages of %s: %s", org, msg)
	}

	var repos []string
	for _, p := range pkgs {
		ns, name, ok := strings.Cut(p.Name, "/")
		if ok && ns == org {
			repos = append(repos, name)
		}
	}
	return repos, nil
}

func (c *Client) PushRelease(ctx context.Context, token, org, repo, version string, blob []byte) error {
	req := pushRequest{
		Blob:      base64.StdEncoding.EncodeToString(blob),
		Release:   version,
		MediaType: mediaType,
	}
	status, msg, err := c.do(ctx, c.http, "push", http.MethodPost, c.packageURL(org, repo), token, req, nil)
	if err != nil {
		return apierrors.Wrap(apierrors.RegistryPushError, err, "Failed to push manifest")
	}
	switch {
	case status == http.StatusConflict:
		return apierrors.New(apierrors.DuplicateVersion, "Version %s already exists in %s/%s: %s", version, org, repo, msg)
	case status >= 300:
		return apierrors.New(apierrors.RegistryPushError, "Failed to push manifest: %s", msg)
	}
	c.logger.WithFields(logrus.Fields{"organization": org, "repo": repo, "version": version}).Info("release pushed")
	return nil
}

func (c *Client) DeleteRelease(ctx context.Context, token, org, repo, version string) error {
	u := c.packageURL(org, repo, url.PathEscape(version), mediaType)
	status, msg, err := c.do(ctx, c.http, "delete", http.MethodDelete, u, token, nil, nil)
	if err != nil {
		return apierrors.Wrap(apierrors.RegistryDeleteError, err, "Failed to delete release %s of package %s/%s", version, org, repo)
	}
	switch {
	case status == http.StatusNotFound:
		return apierrors.New(apierrors.PackageNotFound, "Package %s/%s:%s not found", org, repo, version)
	case status >= 300:
		return apierrors.New(apierrors.RegistryDeleteError, "Failed to delete release %s of package %s/%s: %s", version, org, repo, msg)
	}
	c.logger.WithFields(logrus.Fields{"organization": org, "repo": repo, "version": version}).Info("release deleted")
	return nil
}

func (c *Client) PublishRepository(ctx context.Context, oauthToken, org, repo string) error {
	authCtx := context.WithValue(ctx, oauth2.HTTPClient, c.http)
	httpClient := oauth2.NewClient(authCtx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: oauthToken}))

	u := fmt.Sprintf("%s/api/v1/repository/%s/%s/changevisibility", c.baseURL, url.PathEscape(org), url.PathEscape(repo))
	body := map[string]string{"visibility": "public"}
	status, msg, err := c.do(ctx, httpClient, "publish", http.MethodPost, u, "", body, nil)
	if err != nil {
		return apierrors.Wrap(apierrors.RegistryDeleteError, err, "Cannot change visibility of %s/%s", org, repo)
	}
	if status != http.StatusOK {
		return apierrors.New(apierrors.RegistryDeleteError, "Cannot change visibility of %s/%s: %s", org, repo, msg)
	}
	c.logger.WithFields(logrus.Fields{"organization": org, "repo": repo}).Info("repository made public")
	return nil
}

// Ping checks that the CNR API answers.
func (c *Client) Ping(ctx context.Context) error {
	var version map[string]interface{}
	status, msg, err := c.do(ctx, c.http, "version", http.MethodGet, c.baseURL+"/cnr/api/v1/version", "", nil, &version)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("registry returned %d: %s", status, msg)
	}
	return nil
}

// do sends a JSON request and decodes a successful JSON answer into out.
// For unsuccessful answers it returns the status and the registry's error
// message.
func (c *Client) do(ctx context.Context, httpClient *http.Client, op, method, u, token string, in, out interface{}) (int, string, error) {
	defer metrics.ObserveCall("quay", op, time.Now())

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, "", err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	res, err := httpClient.Do(req)
	if err != nil {
		return 0, "", errors.Wrapf(err, "%s %s", method, u)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, "", errors.Wrap(err, "read registry response")
	}
	if res.StatusCode >= 300 {
		return res.StatusCode, errorMessage(data), nil
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return res.StatusCode, "", errors.Wrap(err, "decode registry response")
		}
	}
	return res.StatusCode, "", nil
}

// errorMessage extracts the message of a CNR or Quay API error body.
func errorMessage(data []byte) string {
	var body struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
		ErrorMessage string `json:"error_message"`
		Detail       string `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return "Unknown error"
	}
	switch {
	case body.Error != nil && body.Error.Message != "":
		return body.Error.Message
	case body.ErrorMessage != "":
		return body.ErrorMessage
	case body.Detail != "":
		return body.Detail
	}
	return "Unknown error"
}
