package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/firefox-package/internal/config"
	"github.com/oshokin/firefox-package/internal/domain/firefox"
	"github.com/oshokin/firefox-package/internal/repository/atomicfile"
)

// Repository defines persistence operations for install records.
type Repository interface {
	Get(ctx context.Context, version, language string) (*firefox.Record, error)
	Put(ctx context.Context, record *firefox.Record) error
	Delete(ctx context.Context, version, language string) error
	List(ctx context.Context) ([]*firefox.Record, error)
}

// FileRepository persists install records to a YAML file on disk,
// keyed by version and then by language.
type FileRepository struct {
	// path is the filesystem location of the YAML state file.
	path string
	// mu protects concurrent access to the state file.
	mu sync.Mutex
}

// document is the on-disk layout of the state file.
type document struct {
	// Records maps version -> language -> record.
	Records map[string]map[string]*firefox.Record `yaml:"records"`
}

var (
	// ErrNotFound is returned when no record exists for a version and language.
	ErrNotFound = errors.New("record not found")

	errRecordIsNotSet = errors.New("record is not set")
)

// NewFileRepository creates a repository that reads/writes YAML at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Get returns the record for a version and language.
func (r *FileRepository) Get(_ context.Context, version, language string) (*firefox.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return nil, err
	}

	record, found := doc.Records[version][language]
	if !found || record == nil {
		return nil, ErrNotFound
	}

	return record.Clone(), nil
}

// Put stores a record, replacing any previous record for the same version and language.
func (r *FileRepository) Put(_ context.Context, record *firefox.Record) error {
	if record == nil {
		return errRecordIsNotSet
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return err
	}

	// A version key without languages decodes as a nil map.
	languages := doc.Records[record.Version]
	if languages == nil {
		languages = make(map[string]*firefox.Record, 1)
		doc.Records[record.Version] = languages
	}

	languages[record.Language] = record.Clone()

	return r.save(doc)
}

// Delete removes the record for a version and language.
func (r *FileRepository) Delete(_ context.Context, version, language string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return err
	}

	if _, found := doc.Records[version][language]; !found {
		return ErrNotFound
	}

	delete(doc.Records[version], language)

	if len(doc.Records[version]) == 0 {
		delete(doc.Records, version)
	}

	return r.save(doc)
}

// List returns every record ordered by version and language.
func (r *FileRepository) List(_ context.Context) ([]*firefox.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return nil, err
	}

	result := make([]*firefox.Record, 0, len(doc.Records))

	for _, languages := range doc.Records {
		for _, record := range languages {
			if record != nil {
				result = append(result, record.Clone())
			}
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Version != result[j].Version {
			return result[i].Version < result[j].Version
		}

		return result[i].Language < result[j].Language
	})

	return result, nil
}

// load reads the state file. A missing file is an empty document.
func (r *FileRepository) load() (*document, error) {
	doc := &document{
		Records: make(map[string]map[string]*firefox.Record),
	}

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}

		return nil, fmt.Errorf("read state file: %w", err)
	}

	if err = yaml.Unmarshal(contents, doc); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}

	if doc.Records == nil {
		doc.Records = make(map[string]map[string]*firefox.Record)
	}

	for version, languages := range doc.Records {
		if len(languages) == 0 {
			delete(doc.Records, version)
		}
	}

	return doc, nil
}

// save replaces the state file atomically.
func (r *FileRepository) save(doc *document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err = atomicfile.Write(r.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	return nil
}
