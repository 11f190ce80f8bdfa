package services

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

type StorageService interface {
	SaveFile(importID uuid.UUID, filename string, src io.Reader) (string, string, error)
	ReadFile(path string) ([]byte, error)
	DeleteImport(importID uuid.UUID) error
	EnsureUploadDir() error
}

type storageService struct {
	uploadPath string
}

func NewStorageService(uploadPath string) StorageService {
	return &storageService{
		uploadPath: uploadPath,
	}
}

func (s *storageService) EnsureUploadDir() error {
	if err := os.MkdirAll(s.uploadPath, 0755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}

	return nil
}

// SaveFile stores src under <upload>/<import id>/<safe name> and returns the stored name and path.
// A name already taken in the import gets a numbered suffix.
func (s *storageService) SaveFile(importID uuid.UUID, filename string, src io.Reader) (string, string, error) {
	dir := filepath.Join(s.uploadPath, importID.String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create import directory: %w", err)
	}

	safe := SafeFilename(filename)
	var (
		storedName string
		filePath   string
		dst        *os.File
	)
	for n := 1; ; n++ {
		storedName = NumberedName(safe, n)
		filePath = filepath.Join(dir, storedName)
		f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("failed to create destination file: %w", err)
		}
		dst = f
		break
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", "", fmt.Errorf("failed to save file: %w", err)
	}

	return storedName, filePath, nil
}

func (s *storageService) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

func (s *storageService) DeleteImport(importID uuid.UUID) error {
	if err := os.RemoveAll(filepath.Join(s.uploadPath, importID.String())); err != nil {
		return fmt.Errorf("failed to delete import files: %w", err)
	}
	return nil
}

// NumberedName returns name for n <= 1 and inserts "_<n>" before the extension otherwise.
func NumberedName(name string, n int) string {
	if n <= 1 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SafeFilename strips path components and replaces anything outside [A-Za-z0-9._-].
func SafeFilename(name string) string {
	name = strings.ReplaceAll(name, "..", "")
	name = strings.NewReplacer("/", "_", "\\", "_").Replace(name)
	name = unsafeChars.ReplaceAllString(name, "_")
	if name == "" || strings.HasPrefix(name, ".") {
		name = fmt.Sprintf("file_%d%s", time.Now().Unix(), name)
	}
	return name
}
