package web

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/JonMunkholm/csvwizard/internal/backend"
	"github.com/JonMunkholm/csvwizard/internal/wizard"
)

// multipartMemory is how much of a multipart form is kept in memory before
// parts spill to temporary files.
const multipartMemory = 32 << 20

// formUpload reads the csv_file part of a multipart request. The returned
// upload stays readable until the form is removed, so callers must finish
// sending it within the request.
func (s *Server) formUpload(w http.ResponseWriter, r *http.Request) (backend.Upload, error) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			return backend.Upload{}, &http.MaxBytesError{Limit: maxSize}
		}
		return backend.Upload{}, &validationError{fields: map[string]string{
			backend.FormField: "Send the file as multipart/form-data.",
		}}
	}

	file, header, err := r.FormFile(backend.FormField)
	if errors.Is(err, http.ErrMissingFile) {
		return backend.Upload{}, &wizard.InputError{Message: "Select a CSV file first.", Err: wizard.ErrNoFile}
	}
	if err != nil {
		return backend.Upload{}, err
	}
	file.Close()

	return backend.Upload{
		Name: header.Filename,
		Size: header.Size,
		Open: func() (io.ReadCloser, error) { return header.Open() },
	}, nil
}

// removeForm deletes temporary files left by a multipart form.
func removeForm(r *http.Request) {
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}

// handleTransformFile uploads a file for field discovery.
func (s *Server) handleTransformFile(w http.ResponseWriter, r *http.Request) {
	sess, c, ok := s.transform(w, r)
	if !ok {
		return
	}
	defer removeForm(r)
	s.act(w, r, sess, "select file", func() error {
		up, err := s.formUpload(w, r)
		if err != nil {
			return err
		}
		return c.SelectFile(r.Context(), up)
	})
}

// handleExportFile chooses and uploads a file in one request.
func (s *Server) handleExportFile(w http.ResponseWriter, r *http.Request) {
	sess, c, ok := s.export(w, r)
	if !ok {
		return
	}
	defer removeForm(r)
	s.act(w, r, sess, "upload file", func() error {
		up, err := s.formUpload(w, r)
		if err != nil {
			return err
		}
		if err := c.ChooseFile(up); err != nil {
			return err
		}
		return c.Upload(r.Context())
	})
}

// handleDedupFile uploads a file for column discovery.
func (s *Server) handleDedupFile(w http.ResponseWriter, r *http.Request) {
	sess, c, ok := s.dedup(w, r)
	if !ok {
		return
	}
	defer removeForm(r)
	s.act(w, r, sess, "select file", func() error {
		up, err := s.formUpload(w, r)
		if err != nil {
			return err
		}
		return c.SelectFile(r.Context(), up)
	})
}
