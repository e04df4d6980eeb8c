package backend

// upload.go streams a file to the backend as multipart form data while
// reporting how many bytes have been sent.

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
)

// FormField is the multipart field name the backend reads the file from.
const FormField = "csv_file"

// ProgressFunc receives the bytes sent so far and the total size. Total is
// zero when the size is unknown.
type ProgressFunc func(sent, total int64)

// Upload is a file ready to be sent. Open may be called more than once so a
// failed upload can be retried with the same value.
type Upload struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// Valid reports whether the upload names a file and can be opened.
func (u Upload) Valid() bool {
	return u.Name != "" && u.Open != nil
}

// FileUpload prepares a file on disk for upload.
func FileUpload(path string) (Upload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Upload{}, err
	}
	if info.IsDir() {
		return Upload{}, fmt.Errorf("%s is a directory", path)
	}
	return Upload{
		Name: filepath.Base(path),
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// BytesUpload prepares in-memory content for upload.
func BytesUpload(name string, data []byte) Upload {
	return Upload{
		Name: name,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// progressReader counts bytes read and forwards the running total.
type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.fn != nil {
			p.fn(p.sent, p.total)
		}
	}
	return n, err
}

// multipartBody returns a reader producing the multipart encoding of up and
// its content type. The file is copied through a pipe so it is never held
// in memory as a whole.
func multipartBody(up Upload, progress ProgressFunc) (io.ReadCloser, string, error) {
	if !up.Valid() {
		return nil, "", errors.New("no file selected")
	}
	src, err := up.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", up.Name, err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		defer src.Close()

		part, err := mw.CreateFormFile(FormField, up.Name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		counted := &progressReader{r: src, total: up.Size, fn: progress}
		if _, err := io.Copy(part, counted); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	return pr, mw.FormDataContentType(), nil
}
