// Package pipeline runs translation jobs. For every target language of a job
// it loads the language's fingerprint manifest, makes sure Info.xml exists,
// and processes the language's outstanding template files on a bounded
// worker pool. Each file yields one Outcome; a failing file never stops its
// siblings. After the pass the manifest and the job ledger are saved, so an
// interrupted job can be resumed one language at a time.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ricave/ricave-translator/config"
	"github.com/ricave/ricave-translator/jobs"
	"github.com/ricave/ricave-translator/logging"
	"github.com/ricave/ricave-translator/manifest"
	"github.com/ricave/ricave-translator/translate"
	"github.com/ricave/ricave-translator/xmldoc"
)

// Oracle is what the pipeline needs from the translation backend.
type Oracle interface {
	translate.Oracle
	NativeName(ctx context.Context, formalName string) (string, error)
}

// Options configures a Coordinator.
type Options struct {
	// TemplateDir holds the English template tree.
	TemplateDir string
	// LanguagesDir holds one folder per target language.
	LanguagesDir string
	// Languages maps supported codes to formal names.
	Languages config.Languages
	// AlwaysCreateInfoFile rewrites Info.xml even when it exists.
	AlwaysCreateInfoFile bool
	// MaxConcurrent is the file pool width for translation passes.
	MaxConcurrent int
	// DebugDir receives debug-fix reports. Default: .translator_debug.
	DebugDir string
	// Translate configures batching, repair and incremental mode.
	Translate translate.Options

	// OnLog emits informational operator messages.
	OnLog func(format string, args ...any)
	// OnWarn emits warnings. Falls back to OnLog.
	OnWarn func(format string, args ...any)
	// OnLanguageStart is called before the files of a language are
	// dispatched, with the number of outstanding files.
	OnLanguageStart func(formalName string, files int)
	// OnFileDone is called from worker goroutines as each file finishes.
	OnFileDone func(Outcome)
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) warn(format string, args ...any) {
	if o.OnWarn != nil {
		o.OnWarn(format, args...)
	} else {
		o.log(format, args...)
	}
}

func (o *Options) debugDir() string {
	if o.DebugDir == "" {
		return translate.DefaultDebugDir
	}
	return o.DebugDir
}

// Coordinator processes jobs against one template tree.
type Coordinator struct {
	oracle     Oracle
	translator *translate.Translator
	store      *jobs.Store
	opts       Options
	now        func() time.Time
	// write saves a translated document.
	write func(doc *xmldoc.Node, path string) error
}

// New returns a Coordinator. store persists the ledger after every
// language and may be nil in tests that do not care about persistence.
func New(oracle Oracle, store *jobs.Store, opts Options) *Coordinator {
	if opts.Translate.DebugDir == "" {
		opts.Translate.DebugDir = opts.DebugDir
	}
	return &Coordinator{
		oracle:     oracle,
		translator: translate.NewTranslator(oracle, opts.Translate),
		store:      store,
		opts:       opts,
		now:        time.Now,
		write:      (*xmldoc.Node).WriteFile,
	}
}

// languageRun is the state shared by the file workers of one language pass.
type languageRun struct {
	job      *jobs.Job
	code     string
	formal   string
	dir      string
	manifest *manifest.Manifest

	mu    sync.Mutex
	debug map[string][]string
}

func (r *languageRun) recordDebug(rel string, reasons []string) {
	if len(reasons) == 0 {
		reasons = []string{"NEEDS FIX"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.debug[normalize(rel)]; !ok {
		r.debug[normalize(rel)] = reasons
	}
}

// poolWidth returns how many files of one pass are processed at a time.
// Hash-only and verification passes are bounded by the CPU count; oracle
// calls are bounded separately by the client's shared gate.
func (c *Coordinator) poolWidth(job *jobs.Job) int {
	if job.IsManifestGenerationMode || job.IsFixMode {
		return runtime.NumCPU()
	}
	if c.opts.MaxConcurrent > 0 {
		return c.opts.MaxConcurrent
	}
	return 10
}

// ProcessLanguage runs one language pass of job. The returned error is
// reserved for problems that affect the whole language, like an unreadable
// manifest; per-file failures are reported as outcomes.
func (c *Coordinator) ProcessLanguage(ctx context.Context, job *jobs.Job, code string) ([]Outcome, error) {
	ctx = logging.WithLanguage(ctx, code)
	logger := logging.Ctx(ctx, "pipeline")

	formal, ok := c.opts.Languages.FormalName(code)
	if !ok {
		c.opts.warn("Warning: Language code '%s' is not supported and will be skipped.", code)
		// The code left translator.yaml after the job was created. Its files
		// can never be processed, so drop them or the job never completes.
		if left := job.Remaining(code); len(left) > 0 {
			logger.Warn().Int("files", len(left)).Msg("dropping unsupported language from job")
			job.SetRemaining(code, nil)
			if c.store != nil {
				if err := c.store.Save(job); err != nil {
					return nil, err
				}
			}
		}
		return nil, nil
	}

	dir := filepath.Join(c.opts.LanguagesDir, config.FolderName(formal))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}

	m, err := manifest.Load(dir)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("manifest", m.Summary()).Msg("manifest loaded")

	if !job.IsManifestGenerationMode && !job.IsDebugMode {
		if err := c.ensureInfoFile(ctx, dir, formal, code); err != nil {
			return nil, err
		}
	}

	files := job.Remaining(code)
	if len(files) == 0 {
		c.opts.log("Language '%s' has no files to process. Skipping.", formal)
		return nil, nil
	}

	c.opts.log("--- Processing %d file(s) for %s ---", len(files), formal)
	if c.opts.OnLanguageStart != nil {
		c.opts.OnLanguageStart(formal, len(files))
	}

	run := &languageRun{
		job:      job,
		code:     code,
		formal:   formal,
		dir:      dir,
		manifest: m,
		debug:    map[string][]string{},
	}

	outcomes, unstarted := c.processFiles(ctx, run, files)

	if job.IsDebugMode && len(run.debug) > 0 {
		path, err := c.saveDebugReport(job, run.debug)
		if err != nil {
			logger.Error().Err(err).Msg("saving debug report")
			c.opts.warn("Could not save debug report: %v", err)
		} else {
			c.opts.log("Debug report saved to: %s", path)
		}
		outcomes = markDebugIssues(outcomes, run.debug)
	}

	if job.IsManifestGenerationMode && len(unstarted) == 0 {
		if err := c.pruneManifest(ctx, m); err != nil {
			return outcomes, err
		}
	}

	job.SetRemaining(code, remaining(files, outcomes, unstarted))
	if c.store != nil {
		if err := c.store.Save(job); err != nil {
			return outcomes, err
		}
	}
	if !job.IsDebugMode {
		if err := m.Save(); err != nil {
			return outcomes, err
		}
	}

	for i := range outcomes {
		outcomes[i].Language = formal
	}
	logger.Info().Int("files", len(outcomes)).Int("unstarted", len(unstarted)).Msg("language pass finished")
	return outcomes, nil
}

// processFiles dispatches files onto the worker pool. Files that were not
// started because ctx was cancelled are returned separately.
func (c *Coordinator) processFiles(ctx context.Context, run *languageRun, files []string) ([]Outcome, []string) {
	var (
		mu       sync.Mutex
		outcomes []Outcome
	)

	var g errgroup.Group
	g.SetLimit(c.poolWidth(run.job))

	started := 0
	for _, rel := range files {
		if ctx.Err() != nil {
			break
		}
		started++
		g.Go(func() error {
			o := Outcome{File: rel, Status: StatusSuccess}
			if err := c.processFile(ctx, run, rel); err != nil {
				o.Status = StatusFailed
				o.Error = rootCause(err)
				logger := logging.Ctx(ctx, "pipeline")
				logger.Debug().Err(err).Str("file", rel).Msg("file failed")
			}
			mu.Lock()
			outcomes = append(outcomes, o)
			mu.Unlock()
			if c.opts.OnFileDone != nil {
				c.opts.OnFileDone(o)
			}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes, files[started:]
}

// processFile selects the file operation for the job's mode.
func (c *Coordinator) processFile(ctx context.Context, run *languageRun, rel string) error {
	switch {
	case run.job.IsManifestGenerationMode:
		return c.generateManifest(ctx, run, rel)
	case run.job.IsFixMode:
		return c.fixFile(ctx, run, rel)
	default:
		return c.translateNewFile(ctx, run, rel)
	}
}

// remaining returns the files of a pass that still need work: those that
// failed and those that never started, in their original order.
func remaining(files []string, outcomes []Outcome, unstarted []string) []string {
	pending := map[string]bool{}
	for _, o := range outcomes {
		if o.Status == StatusFailed {
			pending[normalize(o.File)] = true
		}
	}
	for _, f := range unstarted {
		pending[normalize(f)] = true
	}

	out := []string{}
	for _, f := range files {
		if pending[normalize(f)] {
			out = append(out, f)
		}
	}
	return out
}

func (c *Coordinator) sourcePath(rel string) string {
	return filepath.Join(c.opts.TemplateDir, filepath.FromSlash(rel))
}

func (r *languageRun) targetPath(rel string) string {
	return filepath.Join(r.dir, filepath.FromSlash(rel))
}
