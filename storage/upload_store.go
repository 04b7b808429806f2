package storage

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// DocumentExt is the only file extension accepted for upload
const DocumentExt = ".pptx"

// chunkSize bounds a single read from the upload stream
const chunkSize = 64 << 10

var (
	ErrMissingHeaders = errors.New("missing headers")
	ErrEmptyFile      = errors.New("empty file")
	ErrWrongExtension = errors.New("not a " + DocumentExt + " file")
	ErrInvalidJobID   = errors.New("invalid job id")
)

// UploadStore stages uploaded documents in one directory per job
type UploadStore struct {
	baseDir string
	logger  logrus.FieldLogger
}

// NewUploadStore creates an upload store rooted at baseDir
func NewUploadStore(baseDir string, logger logrus.FieldLogger) *UploadStore {
	return &UploadStore{
		baseDir: baseDir,
		logger:  logger,
	}
}

// BaseDir returns the directory holding all upload sessions
func (s *UploadStore) BaseDir() string {
	return s.baseDir
}

// Put streams length bytes from r into the job's session directory and
// returns the stored (sanitized) filename. If r ends before length bytes the
// file is left truncated; callers own short-upload detection.
func (s *UploadStore) Put(jobID, declaredName string, length int64, r io.Reader) (string, error) {
	if jobID == "" || declaredName == "" {
		return "", ErrMissingHeaders
	}
	if length <= 0 {
		return "", ErrEmptyFile
	}
	if err := ValidateJobID(jobID); err != nil {
		return "", err
	}

	name := SanitizeFilename(declaredName)
	if name == "" || !strings.HasSuffix(strings.ToLower(name), DocumentExt) {
		return "", ErrWrongExtension
	}

	dir := s.SessionDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}

	dest := filepath.Join(dir, name)
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", name, err)
	}
	defer f.Close()

	written, err := copyChunked(f, r, length)
	if err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if written < length {
		s.logger.WithFields(logrus.Fields{
			"job_id":   jobID,
			"file":     name,
			"expected": length,
			"written":  written,
		}).Warn("Upload stream ended early")
	}

	return name, nil
}

// copyChunked copies at most length bytes in chunkSize reads. A source that
// ends early is not an error.
func copyChunked(dst io.Writer, src io.Reader, length int64) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for written < length {
		want := int64(len(buf))
		if left := length - written; left < want {
			want = left
		}
		n, rerr := src.Read(buf[:want])
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
				break
			}
			return written, rerr
		}
	}
	return written, nil
}

// SessionDir returns the staging directory for a job
func (s *UploadStore) SessionDir(jobID string) string {
	return filepath.Join(s.baseDir, jobID)
}

// SessionExists reports whether anything has been uploaded for jobID
func (s *UploadStore) SessionExists(jobID string) bool {
	if ValidateJobID(jobID) != nil {
		return false
	}
	info, err := os.Stat(s.SessionDir(jobID))
	return err == nil && info.IsDir()
}

// FileExists reports whether name exists inside the job's session.
// name must already be a bare filename.
func (s *UploadStore) FileExists(jobID, name string) bool {
	info, err := os.Stat(filepath.Join(s.SessionDir(jobID), name))
	return err == nil && info.Mode().IsRegular()
}

// FilePath returns the session-scoped path of an uploaded file
func (s *UploadStore) FilePath(jobID, name string) string {
	return filepath.Join(s.SessionDir(jobID), name)
}

// RemoveSession deletes the job's staging directory and everything in it
func (s *UploadStore) RemoveSession(jobID string) error {
	if err := ValidateJobID(jobID); err != nil {
		return err
	}
	return os.RemoveAll(s.SessionDir(jobID))
}

// ValidateJobID ensures a job id is usable as a single directory name
func ValidateJobID(jobID string) error {
	if jobID == "" || jobID == "." || jobID == ".." ||
		strings.ContainsAny(jobID, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}
	return nil
}

// SanitizeFilename reduces a client-declared name to its final path
// component. Both slash styles count as separators. Returns "" when nothing
// usable is left.
func SanitizeFilename(declared string) string {
	name := declared
	if unescaped, err := url.PathUnescape(declared); err == nil {
		name = unescaped
	}
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	switch name {
	case ".", "..", "/":
		return ""
	}
	if strings.ContainsRune(name, 0) {
		return ""
	}
	return name
}
