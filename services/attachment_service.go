package services

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// AttachmentService stores uploaded files and returns their paths. The
// engine only ever attaches the returned path as metadata on an answer; it
// never interprets the contents.
type AttachmentService interface {
	Upload(src io.Reader, filename string, questionID, index int) (string, error)
}

type attachmentService struct {
	dir string
}

// NewAttachmentService creates a local-disk attachment service writing
// under dir.
func NewAttachmentService(dir string) AttachmentService {
	return &attachmentService{dir: dir}
}

// Upload writes the file under a generated name and returns its path.
func (s *attachmentService) Upload(src io.Reader, filename string, questionID, index int) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		log.Printf("ERROR: [AttachmentService] Failed to create upload directory '%s': %v", s.dir, err)
		return "", fmt.Errorf("failed to create upload directory '%s': %w", s.dir, err)
	}

	name := fmt.Sprintf("q%d_%d_%s%s", questionID, index, uuid.NewString(), filepath.Ext(filename))
	path := filepath.Join(s.dir, name)

	dst, err := os.Create(path)
	if err != nil {
		log.Printf("ERROR: [AttachmentService] Failed to create upload file '%s': %v", path, err)
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		log.Printf("ERROR: [AttachmentService] Failed to write upload file '%s': %v", path, err)
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}

	log.Printf("INFO: [AttachmentService] Stored attachment '%s' for question %d.", path, questionID)
	return path, nil
}
