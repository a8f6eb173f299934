package persona

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ErrBundleNotFound is returned by sources when no bundle exists for the
// requested persona id.
var ErrBundleNotFound = errors.New("persona bundle not found")

// Source is the authoring-store client: it fetches the latest published
// bundle document for a persona id.
type Source interface {
	Fetch(ctx context.Context, personaID string) ([]byte, error)
	List(ctx context.Context) ([]string, error)
}

var personaIDPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// FileSource reads persona bundles from a directory of <id>.json files.
type FileSource struct {
	dir string
}

// NewFileSource constructs a source over a bundle directory.
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

// Fetch reads the bundle document for a persona id.
func (s *FileSource) Fetch(_ context.Context, personaID string) ([]byte, error) {
	if !personaIDPattern.MatchString(personaID) {
		return nil, fmt.Errorf("invalid persona id %q", personaID)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, personaID+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrBundleNotFound
		}
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	return data, nil
}

// List returns the persona ids with bundles in the directory.
func (s *FileSource) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read bundle directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if personaIDPattern.MatchString(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
