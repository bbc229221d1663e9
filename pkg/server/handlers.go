package server

import (
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/operator-framework/omps/pkg/apierrors"
	"github.com/operator-framework/omps/pkg/manifests"
	"github.com/operator-framework/omps/pkg/publish"
	"github.com/operator-framework/omps/pkg/release"
	"github.com/operator-framework/omps/pkg/source"
)

const formFileField = "file"

type errorResponse struct {
	Status  int      `json:"status"`
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Deleted []string `json:"deleted,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// fail writes err as the single error record of the response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	e := apierrors.From(err)
	logger := s.requestLogger(r).WithField("error", e.Kind)
	if e.Status() >= http.StatusInternalServerError {
		logger.WithError(err).Error("request failed")
	} else {
		logger.Info(e.Message)
	}
	writeJSON(w, e.Status(), errorResponse{
		Status:  e.Status(),
		Error:   string(e.Kind),
		Message: e.Message,
		Deleted: e.Deleted,
	})
}

// checkVersion rejects a malformed version path segment.
func checkVersion(v string) error {
	if v == "" {
		return nil
	}
	if _, err := release.Parse(v); err != nil {
		return apierrors.Wrap(apierrors.InvalidVersionFormat, err, "Invalid version")
	}
	return nil
}

func (s *Server) extractor(r *http.Request) *manifests.Extractor {
	return &manifests.Extractor{
		MaxUncompressedSize: s.opts.MaxUncompressedSize,
		Logger:              s.requestLogger(r),
	}
}

func (s *Server) pushZipfile(w http.ResponseWriter, r *http.Request) {
	if err := checkVersion(mux.Vars(r)["version"]); err != nil {
		s.fail(w, r, err)
		return
	}

	if s.opts.MaxContentLength > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxContentLength)
	}
	file, header, err := s.formFile(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	upload := &source.Upload{Extractor: s.extractor(r)}
	if file != nil {
		defer file.Close()
		upload.Content = file
		upload.Filename = header.Filename
	}
	s.push(w, r, upload)
}

// formFile returns the uploaded file, or nil when the request carries none.
func (s *Server) formFile(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	err := r.ParseMultipartForm(s.opts.MaxContentLength)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
	case errors.As(err, &tooLarge), err != nil && strings.Contains(err.Error(), "request body too large"):
		return nil, nil, apierrors.New(apierrors.RequestEntityTooLarge,
			"Request is larger than %d bytes", s.opts.MaxContentLength)
	case errors.Is(err, http.ErrNotMultipart):
		return nil, nil, nil
	default:
		return nil, nil, apierrors.Wrap(apierrors.BadRequest, err, "Failed to parse request")
	}

	file, header, err := r.FormFile(formFileField)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, apierrors.Wrap(apierrors.BadRequest, err, "Failed to read field %q", formFileField)
	}
	return file, header, nil
}

func (s *Server) pushBuild(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := checkVersion(vars["version"]); err != nil {
		s.fail(w, r, err)
		return
	}
	s.push(w, r, &source.Build{
		NVR:        vars["nvr"],
		Downloader: s.opts.Builds,
		Extractor:  s.extractor(r),
	})
}

func (s *Server) push(w http.ResponseWriter, r *http.Request, src source.Source) {
	vars := mux.Vars(r)
	result, err := s.opts.Publisher.Push(r.Context(), publish.PushRequest{
		Organization: vars["org"],
		Repository:   vars["repo"],
		Version:      vars["version"],
		Token:        r.Header.Get("Authorization"),
		Source:       src,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := checkVersion(vars["version"]); err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.opts.Remover.Delete(r.Context(), publish.DeleteRequest{
		Organization: vars["org"],
		Repository:   vars["repo"],
		Version:      vars["version"],
		Token:        r.Header.Get("Authorization"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type serviceHealth struct {
	OK      bool   `json:"ok"`
	Details string `json:"details"`
}

type health struct {
	OK       bool                      `json:"ok"`
	Status   int                       `json:"status"`
	Services map[string]*serviceHealth `json:"services"`
}

// ping checks every configured service concurrently.
func (s *Server) ping(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.PingTimeout)
	defer cancel()

	var (
		mu sync.Mutex
		g  errgroup.Group
		h  = health{OK: true, Status: http.StatusOK, Services: map[string]*serviceHealth{}}
	)
	for name, p := range s.opts.Services {
		if p == nil {
			continue
		}
		name, p := name, p
		g.Go(func() error {
			status := &serviceHealth{OK: true, Details: "It works!"}
			if err := p.Ping(ctx); err != nil {
				s.requestLogger(r).WithError(err).Errorf("%s health check failed", name)
				status = &serviceHealth{Details: err.Error()}
			}
			mu.Lock()
			defer mu.Unlock()
			h.Services[name] = status
			if !status.OK {
				h.OK = false
				h.Status = http.StatusServiceUnavailable
			}
			return nil
		})
	}
	g.Wait()

	writeJSON(w, h.Status, h)
}

func (s *Server) about(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.opts.Version})
}
