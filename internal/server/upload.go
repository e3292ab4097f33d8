package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"example.com/swathconv/internal/container"
	"example.com/swathconv/internal/pipeline"
)

// uploadedFile is one accepted upload with the format detected from its
// leading bytes.
type uploadedFile struct {
	ArtifactRef
	Format string `json:"format"`
}

// handleUpload accepts multipart capture or container uploads. Each file
// is sniffed by content; anything that is neither a recognized capture
// nor a container is rejected so conversion requests cannot be pointed
// at junk.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(512 << 20); err != nil {
		http.Error(w, fmt.Sprintf("parse multipart: %v", err), http.StatusBadRequest)
		return
	}
	if r.MultipartForm == nil {
		http.Error(w, "no files provided", http.StatusBadRequest)
		return
	}
	var files []uploadedFile
	for _, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			uf, err := s.saveUploadedFile(fh)
			if err != nil {
				http.Error(w, fmt.Sprintf("save upload %s: %v", fh.Filename, err), http.StatusBadRequest)
				return
			}
			files = append(files, uf)
		}
	}
	if len(files) == 0 {
		http.Error(w, "no files uploaded", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Files []uploadedFile `json:"files"`
	}{Files: files})
}

func (s *Server) handleArtifactList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.listArtifacts())
}

func (s *Server) saveUploadedFile(fh *multipart.FileHeader) (uploadedFile, error) {
	if fh == nil {
		return uploadedFile{}, fmt.Errorf("nil file header")
	}
	src, err := fh.Open()
	if err != nil {
		return uploadedFile{}, err
	}
	defer src.Close()
	ext := filepath.Ext(fh.Filename)
	pattern := "upload-*"
	if ext != "" {
		pattern = fmt.Sprintf("upload-*%s", ext)
	}
	dest, err := os.CreateTemp(s.uploadsDir, pattern)
	if err != nil {
		return uploadedFile{}, err
	}
	if _, err := io.Copy(dest, src); err != nil {
		dest.Close()
		os.Remove(dest.Name())
		return uploadedFile{}, err
	}
	dest.Close()

	format, kind, err := sniffUpload(dest.Name())
	if err != nil {
		os.Remove(dest.Name())
		return uploadedFile{}, err
	}
	art, err := s.addArtifact(dest.Name(), fh.Filename, guessContentType(fh.Filename), kind)
	if err != nil {
		return uploadedFile{}, err
	}
	return uploadedFile{ArtifactRef: toRef(art), Format: format}, nil
}

// sniffUpload classifies an uploaded file as a capture in one of the two
// wire formats or a converted container.
func sniffUpload(path string) (format, kind string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()
	if fmtDetected, err := pipeline.DetectFormat(f); err == nil {
		return string(fmtDetected), "capture", nil
	}
	if container.Sniff(f) {
		return "container", "container", nil
	}
	return "", "", fmt.Errorf("not a capture or container")
}
