package auth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"github.com/fedikit/masto/internal/misc"
)

// FileOps abstracts the raw byte-level file operations a file-backed store
// needs, so the store itself never touches the filesystem directly. Read
// returns nil data when no file exists.
type FileOps interface {
	Write(data []byte) error
	Read() ([]byte, error)
	Delete() error
}

// FileStore persists credentials as a JSON file through injected FileOps.
// A stored payload that cannot be parsed loads as "no credentials" rather
// than an error: an unreadable file and a missing file are equivalent to the
// caller, both recoverable by re-running the authorization flow.
type FileStore struct {
	ops FileOps
}

// NewFileStore creates a credential store over the given file operations.
func NewFileStore(ops FileOps) *FileStore {
	return &FileStore{ops: ops}
}

// Save serializes the credentials and writes them through the file operations.
// The stored blob is stamped with an updatedAt timestamp for diagnostics;
// the field is ignored on load.
func (s *FileStore) Save(ctx context.Context, creds *Credentials) error {
	if creds == nil {
		return fmt.Errorf("masto auth: credentials are nil")
	}
	data, err := EncodeCredentials(creds)
	if err != nil {
		return fmt.Errorf("masto auth: encode credentials failed: %w", err)
	}
	stamped, errSet := sjson.SetBytes(data, "updatedAt", time.Now().UTC().Format(time.RFC3339))
	if errSet == nil {
		data = stamped
	}
	if err = s.ops.Write(data); err != nil {
		return fmt.Errorf("masto auth: write credentials failed: %w", err)
	}
	return nil
}

// Load reads and decodes the stored credentials. Missing or malformed files
// return nil without an error.
func (s *FileStore) Load(ctx context.Context) (*Credentials, error) {
	data, err := s.ops.Read()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("masto auth: read credentials failed: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	creds := DecodeCredentials(data)
	if creds == nil {
		log.Debug("stored credential file is malformed, treating as absent")
	}
	return creds, nil
}

// Clear deletes the backing file. A missing file is not an error.
func (s *FileStore) Clear(ctx context.Context) error {
	if err := s.ops.Delete(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("masto auth: delete credentials failed: %w", err)
	}
	return nil
}

// OSFileOps implements FileOps against a single path on the local filesystem.
type OSFileOps struct {
	path string
}

// NewOSFileOps creates file operations bound to the given path.
func NewOSFileOps(path string) *OSFileOps {
	return &OSFileOps{path: path}
}

// Path returns the backing file path.
func (o *OSFileOps) Path() string {
	return o.path
}

// Write creates the parent directory if needed and writes the data with
// owner-only permissions.
func (o *OSFileOps) Write(data []byte) error {
	misc.LogSavingCredentials(o.path)
	if err := os.MkdirAll(filepath.Dir(o.path), 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(o.path, data, 0o600)
}

// Read returns the file contents. A missing file propagates os.ErrNotExist.
func (o *OSFileOps) Read() ([]byte, error) {
	return os.ReadFile(o.path)
}

// Delete removes the file.
func (o *OSFileOps) Delete() error {
	return os.Remove(o.path)
}
