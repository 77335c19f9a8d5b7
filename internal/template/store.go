package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fixdeploy/fixdeploy/internal/interfaces"
	"github.com/fixdeploy/fixdeploy/pkg/logging"
)

const templateSuffix = "_template.json"

// ErrTemplateNotFound indicates the named template does not exist
var ErrTemplateNotFound = errors.New("template not found")

// FileStore loads templates from a directory of *_template.json files.
// Templates are re-read on every Load so edits take effect without a
// restart; a running deployment keeps the copy it was started with.
type FileStore struct {
	dir     string
	decoder *SpecDecoder
}

// NewFileStore creates a template store rooted at dir
func NewFileStore(dir string) *FileStore {
	return &FileStore{
		dir:     dir,
		decoder: NewSpecDecoder(),
	}
}

// List returns the names of all templates in the store, sorted.
// A template's name is its file name without the _template.json suffix.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read template directory %s: %w", s.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), templateSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), templateSuffix))
	}
	sort.Strings(names)
	return names, nil
}

// Load reads, parses, and validates the named template
func (s *FileStore) Load(name string) (*interfaces.Template, error) {
	path, err := s.templatePath(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is confined to the template directory
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("template %s: %w", name, ErrTemplateNotFound)
		}
		return nil, fmt.Errorf("failed to read template %s: %w", name, err)
	}

	var tmpl interfaces.Template
	if err := json.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	if err := s.validateTemplate(name, &tmpl); err != nil {
		return nil, err
	}

	logging.Template.Debug("loaded template name=%s steps=%d", name, len(tmpl.Steps))
	return &tmpl, nil
}

// templatePath resolves a template name to its file path, rejecting names
// that would escape the template directory
func (s *FileStore) templatePath(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("template name cannot be empty")
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid template name: %s", name)
	}
	return filepath.Join(s.dir, name+templateSuffix), nil
}

// validateTemplate checks the structural invariants every template must
// satisfy before it is accepted for execution. Unknown step kinds are
// allowed here; they fail the deployment at execution time instead.
func (s *FileStore) validateTemplate(name string, tmpl *interfaces.Template) error {
	if len(tmpl.Steps) == 0 {
		return fmt.Errorf("template %s has no steps", name)
	}

	for i, step := range tmpl.Steps {
		if step.Type == "" {
			return fmt.Errorf("template %s: step %d has no type", name, i)
		}
		if step.Order < 0 {
			return fmt.Errorf("template %s: step %d has negative order %d", name, i, step.Order)
		}
	}

	return nil
}
