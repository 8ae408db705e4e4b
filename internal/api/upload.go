package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"chatline/internal/domain"

	"github.com/google/uuid"
)

const defaultMaxUploadSize = 25 << 20

// upload streams the multipart "file" field to disk under a random name and
// returns the attachment descriptor a client sends along with a message.
// A failed or oversized upload leaves nothing behind in the upload dir.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	part, err := filePart(r)
	if err != nil {
		s.uploadError(w, r, err)
		return
	}
	defer part.Close()

	ext := strings.ToLower(filepath.Ext(part.FileName()))
	name := uuid.NewString() + ext
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		s.writeError(w, r, fmt.Errorf("failed to create upload dir: %w", err))
		return
	}
	path := filepath.Join(s.uploadDir, name)
	dst, err := os.Create(path)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("failed to create upload: %w", err))
		return
	}

	size, err := io.Copy(dst, part)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		s.uploadError(w, r, fmt.Errorf("failed to store upload: %w", err))
		return
	}

	fileType := part.Header.Get("Content-Type")
	if fileType == "" {
		fileType = mime.TypeByExtension(ext)
	}
	if fileType == "" {
		fileType = "application/octet-stream"
	}
	writeJSON(w, http.StatusCreated, domain.NewAttachment{
		Filename: part.FileName(),
		FileURL:  "/uploads/" + name,
		FileType: fileType,
		FileSize: size,
	})
}

var errNoFilePart = errors.New("file field is required")

// filePart skips ahead to the "file" form field without buffering the body.
func filePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, errNoFilePart
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, errNoFilePart
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, err
			}
			return nil, errNoFilePart
		}
		if part.FormName() == "file" && part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}

func (s *Server) uploadError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		jsonError(w, http.StatusRequestEntityTooLarge, domain.CodeInvalid,
			fmt.Sprintf("file exceeds %d bytes", tooLarge.Limit))
	case errors.Is(err, errNoFilePart):
		jsonError(w, http.StatusBadRequest, domain.CodeInvalid, errNoFilePart.Error())
	default:
		s.writeError(w, r, err)
	}
}
