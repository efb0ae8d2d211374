// Package jobs implements the job ledger: a JSON file per run that records,
// for every target language, the template files that still have to be
// processed. A job whose lists are all empty is complete and its ledger is
// deleted; anything else can be resumed later.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultDir is the ledger directory relative to the project root.
const DefaultDir = ".translator_jobs"

// ErrNotFound is returned when no ledger exists for a job id.
var ErrNotFound = errors.New("job not found")

// Mode selects what a job does with each file.
type Mode int

const (
	ModeNew Mode = iota
	ModeFix
	ModeDebugFix
	ModeGenerateManifest
)

// String returns the name used in job ids.
func (m Mode) String() string {
	switch m {
	case ModeFix:
		return "Fix"
	case ModeDebugFix:
		return "Debug-Fix"
	case ModeGenerateManifest:
		return "GenerateManifest"
	default:
		return "New"
	}
}

// Job is the persisted state of one run.
type Job struct {
	ID              string   `json:"jobId"`
	TargetLanguages []string `json:"targetLanguages"`
	// FailedFiles maps a language code to the template files, relative to
	// the template root, that have not been processed successfully yet.
	FailedFiles              map[string][]string `json:"failedFiles"`
	IsFixMode                bool                `json:"isFixMode"`
	IsDebugMode              bool                `json:"isDebugMode"`
	IsManifestGenerationMode bool                `json:"isManifestGenerationMode"`
}

// New builds a job for languages with every file in files outstanding for
// each of them.
func New(mode Mode, languages, files []string, now time.Time) *Job {
	ident := "multi"
	if len(languages) == 1 {
		ident = languages[0]
	}

	j := &Job{
		ID:                       fmt.Sprintf("job_%s_%s_%s", mode, ident, stamp(now)),
		TargetLanguages:          slices.Clone(languages),
		FailedFiles:              make(map[string][]string, len(languages)),
		IsFixMode:                mode == ModeFix || mode == ModeDebugFix,
		IsDebugMode:              mode == ModeDebugFix,
		IsManifestGenerationMode: mode == ModeGenerateManifest,
	}
	for _, lang := range languages {
		j.FailedFiles[lang] = slices.Clone(files)
	}
	return j
}

// Mode derives the job mode from the persisted flags.
func (j *Job) Mode() Mode {
	switch {
	case j.IsManifestGenerationMode:
		return ModeGenerateManifest
	case j.IsDebugMode:
		return ModeDebugFix
	case j.IsFixMode:
		return ModeFix
	default:
		return ModeNew
	}
}

// IsComplete reports whether no language has outstanding files.
func (j *Job) IsComplete() bool {
	for _, files := range j.FailedFiles {
		if len(files) > 0 {
			return false
		}
	}
	return true
}

// Remaining returns the outstanding files of lang.
func (j *Job) Remaining(lang string) []string {
	return j.FailedFiles[lang]
}

// SetRemaining replaces the outstanding files of lang.
func (j *Job) SetRemaining(lang string, files []string) {
	if j.FailedFiles == nil {
		j.FailedFiles = map[string][]string{}
	}
	if files == nil {
		files = []string{}
	}
	j.FailedFiles[lang] = files
}

// stamp formats t as yyyyMMdd_HHmmss_fff.
func stamp(t time.Time) string {
	return fmt.Sprintf("%s_%03d", t.Format("20060102_150405"), t.Nanosecond()/int(time.Millisecond))
}

// ---------------------------------------------------------------------------
// Source enumeration
// ---------------------------------------------------------------------------

// ListSourceFiles returns every *.xml file below dir, relative to dir, with
// forward slashes and in byte order.
func ListSourceFiles(dir string) ([]string, error) {
	files, err := doublestar.Glob(os.DirFS(dir), "**/*.xml", doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	slices.Sort(files)
	return files, nil
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

// Store persists ledgers as {jobId}.json in one directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the ledger directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes the ledger of j.
func (s *Store) Save(j *Job) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", s.dir, err)
	}
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling job %s: %w", j.ID, err)
	}

	path := s.path(j.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Load reads the ledger of id. It returns ErrNotFound when there is none.
func (s *Store) Load(id string) (*Job, error) {
	path := s.path(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if j.ID == "" {
		j.ID = id
	}
	if j.FailedFiles == nil {
		j.FailedFiles = map[string][]string{}
	}
	return &j, nil
}

// Delete removes the ledger of id. A missing ledger is not an error.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing job %s: %w", id, err)
	}
	return nil
}

// ResumableIDs lists the ids of every stored ledger, newest first.
func (s *Store) ResumableIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", s.dir, err)
	}

	type stored struct {
		id  string
		mod time.Time
	}
	var found []stored
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "job_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, stored{id: strings.TrimSuffix(name, ".json"), mod: info.ModTime()})
	}

	slices.SortFunc(found, func(a, b stored) int {
		if c := b.mod.Compare(a.mod); c != 0 {
			return c
		}
		return strings.Compare(b.id, a.id)
	})

	ids := make([]string, len(found))
	for i, f := range found {
		ids[i] = f.id
	}
	return ids, nil
}
