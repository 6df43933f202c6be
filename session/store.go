package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m4xw311/warden/errors"
	"github.com/m4xw311/warden/llm"
)

// Record is the on-disk form of a session.
type Record struct {
	ID        string        `json:"id"`
	Cwd       string        `json:"cwd"`
	CreatedAt time.Time     `json:"created_at"`
	Mode      string        `json:"mode"`
	Messages  []llm.Message `json:"messages"`
}

// FileStore keeps one JSON file per session under Dir.
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

// Save writes the record, replacing any previous version.
func (s *FileStore) Save(rec Record) error {
	path, err := s.path(rec.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return errors.Wrapf(err, "could not create session directory")
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to serialize session")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrapf(err, "could not write session file %s", tmp)
	}
	return os.Rename(tmp, path)
}

// Load reads a stored record. A missing record is ErrNotFound.
func (s *FileStore) Load(id string) (*Record, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrapf(ErrNotFound, "%s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not read session file %s", path)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrapf(err, "could not parse session file %s", path)
	}
	return &rec, nil
}

func (s *FileStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", errors.New("invalid session id %q", id)
	}
	return filepath.Join(s.Dir, id+".json"), nil
}
