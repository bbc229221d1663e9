package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/operator-framework/omps/pkg/apierrors"
	"github.com/operator-framework/omps/pkg/manifests/manifeststest"
	"github.com/operator-framework/omps/pkg/metrics"
	"github.com/operator-framework/omps/pkg/publish"
	"github.com/operator-framework/omps/pkg/server"
	"github.com/operator-framework/omps/pkg/source"
)

type fakePublisher struct {
	requests []publish.PushRequest
	err      error
}

// Push acquires the payload like the real publisher so the request plumbing
// is exercised end to end.
func (p *fakePublisher) Push(ctx context.Context, req publish.PushRequest) (*publish.PushResult, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	b, err := req.Source.Acquire(ctx, GinkgoT().TempDir())
	if err != nil {
		return nil, err
	}
	repo := req.Repository
	if repo == "" {
		repo = b.PackageName()
	}
	return &publish.PushResult{
		Organization:   req.Organization,
		Repository:     repo,
		Version:        "1.0.0",
		ExtractedFiles: b.Files,
		NVR:            req.Source.BuildID(),
	}, nil
}

type fakeRemover struct {
	requests []publish.DeleteRequest
	result   *publish.DeleteResult
	err      error
}

func (r *fakeRemover) Delete(_ context.Context, req publish.DeleteRequest) (*publish.DeleteResult, error) {
	r.requests = append(r.requests, req)
	return r.result, r.err
}

type fakeBuilds struct {
	data []byte
}

func (b fakeBuilds) DownloadManifestArchive(_ context.Context, _ string, w io.Writer) error {
	_, err := w.Write(b.data)
	return err
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type errorBody struct {
	Status  int      `json:"status"`
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Deleted []string `json:"deleted"`
}

func multipartBody(field, filename string, content []byte) (io.Reader, string) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	Expect(err).NotTo(HaveOccurred())
	_, err = fw.Write(content)
	Expect(err).NotTo(HaveOccurred())
	Expect(mw.Close()).To(Succeed())
	return &buf, mw.FormDataContentType()
}

var _ = Describe("Server", func() {
	var (
		publisher *fakePublisher
		remover   *fakeRemover
		services  map[string]server.Pinger
		srv       *server.Server
		ts        *httptest.Server
	)

	BeforeEach(func() {
		publisher = &fakePublisher{}
		remover = &fakeRemover{}
		services = map[string]server.Pinger{
			"koji":      pingFunc(func(context.Context) error { return nil }),
			"quay":      pingFunc(func(context.Context) error { return nil }),
			"greenwave": nil,
		}
	})

	JustBeforeEach(func() {
		logger := logrus.New()
		logger.SetOutput(GinkgoWriter)

		reg := prometheus.NewRegistry()
		metrics.Register(reg)

		srv = server.New(server.Options{
			Publisher:           publisher,
			Remover:             remover,
			Builds:              fakeBuilds{data: manifeststest.ZipBytes(GinkgoT(), manifeststest.NestedBundle())},
			Services:            services,
			MaxContentLength:    64 << 10,
			MaxUncompressedSize: 1 << 20,
			Version:             "1.2.3",
			Gatherer:            reg,
			Logger:              logger,
		})
		ts = httptest.NewServer(srv)
	})

	AfterEach(func() {
		ts.Close()
		Expect(srv.Close()).To(Succeed())
	})

	do := func(method, path string, body io.Reader, contentType string, auth bool) *http.Response {
		req, err := http.NewRequest(method, ts.URL+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if auth {
			req.Header.Set("Authorization", "basic dG9rZW4=")
		}
		res, err := ts.Client().Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(res.Body.Close)
		return res
	}

	decodeError := func(res *http.Response) errorBody {
		var e errorBody
		Expect(json.NewDecoder(res.Body).Decode(&e)).To(Succeed())
		Expect(e.Status).To(Equal(res.StatusCode))
		return e
	}

	uploadZip := func(path string, auth bool) *http.Response {
		body, ct := multipartBody("file", "manifests.zip", manifeststest.ZipBytes(GinkgoT(), manifeststest.FlatBundle()))
		return do(http.MethodPost, path, body, ct, auth)
	}

	Describe("about", func() {
		It("reports the version", func() {
			for _, api := range []string{"/v1", "/v2"} {
				res := do(http.MethodGet, api+"/about", nil, "", false)
				Expect(res.StatusCode).To(Equal(http.StatusOK))
				var body map[string]string
				Expect(json.NewDecoder(res.Body).Decode(&body)).To(Succeed())
				Expect(body).To(Equal(map[string]string{"version": "1.2.3"}))
			}
		})
	})

	Describe("health", func() {
		It("reports every service", func() {
			res := do(http.MethodGet, "/v1/health/ping", nil, "", false)
			Expect(res.StatusCode).To(Equal(http.StatusOK))
			var body map[string]interface{}
			Expect(json.NewDecoder(res.Body).Decode(&body)).To(Succeed())
			Expect(body).To(Equal(map[string]interface{}{
				"ok":     true,
				"status": float64(200),
				"services": map[string]interface{}{
					"koji": map[string]interface{}{"ok": true, "details": "It works!"},
					"quay": map[string]interface{}{"ok": true, "details": "It works!"},
				},
			}))
		})

		Context("when a policy service is configured", func() {
			BeforeEach(func() {
				services["greenwave"] = pingFunc(func(context.Context) error { return nil })
			})

			It("reports it too", func() {
				res := do(http.MethodGet, "/v1/health/ping", nil, "", false)
				Expect(res.StatusCode).To(Equal(http.StatusOK))
				var body struct {
					Services map[string]interface{} `json:"services"`
				}
				Expect(json.NewDecoder(res.Body).Decode(&body)).To(Succeed())
				Expect(body.Services).To(HaveKeyWithValue("greenwave", map[string]interface{}{"ok": true, "details": "It works!"}))
			})
		})

		Context("when the registry is down", func() {
			BeforeEach(func() {
				services["quay"] = pingFunc(func(context.Context) error { return errors.New("registry returned 500") })
			})

			It("returns 503", func() {
				res := do(http.MethodGet, "/v2/health/ping", nil, "", false)
				Expect(res.StatusCode).To(Equal(http.StatusServiceUnavailable))
				var body struct {
					OK       bool `json:"ok"`
					Services map[string]struct {
						OK      bool   `json:"ok"`
						Details string `json:"details"`
					} `json:"services"`
				}
				Expect(json.NewDecoder(res.Body).Decode(&body)).To(Succeed())
				Expect(body.OK).To(BeFalse())
				Expect(body.Services["quay"].OK).To(BeFalse())
				Expect(body.Services["quay"].Details).To(Equal("registry returned 500"))
				Expect(body.Services["koji"].OK).To(BeTrue())
			})
		})
	})

	Describe("push", func() {
		It("publishes an uploaded archive", func() {
			res := uploadZip("/v1/myorg/etcd/zipfile", true)
			Expect(res.StatusCode).To(Equal(http.StatusOK))
			Expect(res.Header.Get(server.RequestIDHeader)).NotTo(BeEmpty())

			var body publish.PushResult
			Expect(json.NewDecoder(res.Body).Decode(&body)).To(Succeed())
			Expect(body).To(Equal(publish.PushResult{
				Organization: "myorg",
				Repository:   "etcd",
				Version:      "1.0.0",
				ExtractedFiles: []string{
					"etcd.package.yaml",
					"etcdclusters.crd.yaml",
					"etcdoperator.v0.9.2.clusterserviceversion.yaml",
				},
			}))

			Expect(publisher.requests).To(HaveLen(1))
			req := publisher.requests[0]
			Expect(req.Token).To(Equal("basic dG9rZW4="))
			Expect(req.Version).To(BeEmpty())
			Expect(req.Source.Kind()).To(Equal("zipfile"))
		})

		It("takes the repository from the bundle in v2", func() {
			res := uploadZip("/v2/myorg/zipfile/2.0.0", true)
			Expect(res.StatusCode).To(Equal(http.StatusOK))
			Expect(publisher.requests).To(HaveLen(1))
			Expect(publisher.requests[0].Repository).To(BeEmpty())
			Expect(publisher.requests[0].Version).To(Equal("2.0.0"))

			var body publish.PushResult
			Expect(json.NewDecoder(res.Body).Decode(&body)).To(Succeed())
			Expect(body.Repository).To(Equal("etcd"))
		})

		It("publishes a build", func() {
			res := do(http.MethodPost, "/v1/myorg/etcd/koji/etcd-operator-1-1", nil, "", true)
			Expect(res.StatusCode).To(Equal(http.StatusOK))

			var body publish.PushResult
			Expect(json.NewDecoder(res.Body).Decode(&body)).To(Succeed())
			Expect(body.NVR).To(Equal("etcd-operator-1-1"))
			Expect(body.ExtractedFiles).To(ContainElement("etcd/0.9.2/etcdoperator.v0.9.2.clusterserviceversion.yaml"))

			build, ok := publisher.requests[0].Source.(*source.Build)
			Expect(ok).To(BeTrue())
			Expect(build.NVR).To(Equal("etcd-operator-1-1"))
		})

		It("requires an Authorization header first", func() {
			res := uploadZip("/v1/myorg/etcd/zipfile/not-a-version", false)
			Expect(res.StatusCode).To(Equal(http.StatusForbidden))
			Expect(decodeError(res).Error).To(Equal("OMPSAuthorizationHeaderRequired"))
			Expect(publisher.requests).To(BeEmpty())
		})

		It("rejects a malformed version before anything else", func() {
			res := uploadZip("/v1/myorg/etcd/zipfile/1.0", true)
			Expect(res.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decodeError(res).Error).To(Equal("OMPSInvalidVersionFormat"))
			Expect(publisher.requests).To(BeEmpty())

			res = do(http.MethodPost, "/v2/myorg/koji/etcd-operator-1-1/v1.0.0", nil, "", true)
			Expect(res.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(publisher.requests).To(BeEmpty())
		})

		It("reports a missing file", func() {
			body, ct := multipartBody("other", "manifests.zip", []byte("x"))
			res := do(http.MethodPost, "/v1/myorg/etcd/zipfile", body, ct, true)
			Expect(res.StatusCode).To(Equal(http.StatusBadRequest))
			e := decodeError(res)
			Expect(e.Error).To(Equal("OMPSExpectedFileError"))
			Expect(e.Message).To(Equal("No field 'file' in uploaded data"))
		})

		It("reports a file that is not a zip archive", func() {
			body, ct := multipartBody("file", "manifests.tar", []byte("x"))
			res := do(http.MethodPost, "/v1/myorg/etcd/zipfile", body, ct, true)
			Expect(res.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decodeError(res).Error).To(Equal("OMPSUploadedFileError"))
		})

		It("rejects a request over the content limit", func() {
			body, ct := multipartBody("file", "manifests.zip", bytes.Repeat([]byte("a"), 128<<10))
			res := do(http.MethodPost, "/v1/myorg/etcd/zipfile", body, ct, true)
			Expect(res.StatusCode).To(Equal(http.StatusRequestEntityTooLarge))
			Expect(decodeError(res).Error).To(Equal("RequestEntityTooLarge"))
		})

		Context("when the publisher fails", func() {
			BeforeEach(func() {
				publisher.err = apierrors.New(apierrors.DuplicateVersion, "Release 1.0.0 already exists")
			})

			It("returns a single error record", func() {
				res := uploadZip("/v1/myorg/etcd/zipfile/1.0.0", true)
				Expect(res.StatusCode).To(Equal(http.StatusConflict))
				Expect(decodeError(res)).To(Equal(errorBody{
					Status:  http.StatusConflict,
					Error:   "OMPSDuplicateVersion",
					Message: "Release 1.0.0 already exists",
				}))
			})
		})

		Context("when the publisher fails unexpectedly", func() {
			BeforeEach(func() {
				publisher.err = errors.New("boom")
			})

			It("returns an internal server error", func() {
				res := uploadZip("/v1/myorg/etcd/zipfile", true)
				Expect(res.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(decodeError(res).Error).To(Equal("InternalServerError"))
			})
		})
	})

	Describe("delete", func() {
		BeforeEach(func() {
			remover.result = &publish.DeleteResult{Organization: "myorg", Repository: "etcd", Deleted: []string{"1.0.0"}}
		})

		It("deletes a release", func() {
			res := do(http.MethodDelete, "/v1/myorg/etcd/1.0.0", nil, "", true)
			Expect(res.StatusCode).To(Equal(http.StatusOK))
			var body publish.DeleteResult
			Expect(json.NewDecoder(res.Body).Decode(&body)).To(Succeed())
			Expect(body).To(Equal(*remover.result))
			Expect(remover.requests).To(Equal([]publish.DeleteRequest{{
				Organization: "myorg",
				Repository:   "etcd",
				Version:      "1.0.0",
				Token:        "basic dG9rZW4=",
			}}))
		})

		It("deletes every release", func() {
			res := do(http.MethodDelete, "/v2/myorg/etcd", nil, "", true)
			Expect(res.StatusCode).To(Equal(http.StatusOK))
			Expect(remover.requests[0].Version).To(BeEmpty())
		})

		It("requires an Authorization header", func() {
			res := do(http.MethodDelete, "/v1/myorg/etcd", nil, "", false)
			Expect(res.StatusCode).To(Equal(http.StatusForbidden))
			Expect(remover.requests).To(BeEmpty())
		})

		Context("when a delete-all stops half way", func() {
			BeforeEach(func() {
				e := apierrors.New(apierrors.RegistryDeleteError, "Failed to delete release 2.0.0")
				e.Deleted = []string{"1.0.0"}
				remover.err = e
			})

			It("reports the releases already deleted", func() {
				res := do(http.MethodDelete, "/v1/myorg/etcd", nil, "", true)
				Expect(res.StatusCode).To(Equal(http.StatusInternalServerError))
				e := decodeError(res)
				Expect(e.Error).To(Equal("QuayPackageError"))
				Expect(e.Deleted).To(Equal([]string{"1.0.0"}))
			})
		})
	})

	Describe("routing", func() {
		It("returns JSON for unknown paths", func() {
			res := do(http.MethodGet, "/v3/nothing/here/at/all", nil, "", false)
			Expect(res.StatusCode).To(Equal(http.StatusNotFound))
			Expect(decodeError(res).Error).To(Equal("NotFound"))
		})

		It("returns JSON for unsupported methods", func() {
			res := do(http.MethodPut, "/v1/about", nil, "", false)
			Expect(res.StatusCode).To(Equal(http.StatusMethodNotAllowed))
			Expect(decodeError(res).Error).To(Equal("MethodNotAllowed"))
		})

		It("serves metrics", func() {
			metrics.SetOrganizations([]string{"myorg"})
			DeferCleanup(metrics.SetOrganizations, []string(nil))
			metrics.EmitPush("myorg", "zipfile", nil)
			res := do(http.MethodGet, "/metrics", nil, "", false)
			Expect(res.StatusCode).To(Equal(http.StatusOK))
			data, err := io.ReadAll(res.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.Contains(string(data), `omps_push_total{organization="myorg",outcome="succeeded",source="zipfile"}`)).To(BeTrue())
		})

		It("keeps a valid client request id", func() {
			req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/about", nil)
			Expect(err).NotTo(HaveOccurred())
			id := "0b5f6f0e-8d0e-4c36-9c63-1b2f6b7d1a11"
			req.Header.Set(server.RequestIDHeader, id)
			res, err := ts.Client().Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer res.Body.Close()
			Expect(res.Header.Get(server.RequestIDHeader)).To(Equal(id))
		})
	})
})
