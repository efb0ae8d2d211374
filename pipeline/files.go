package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ricave/ricave-translator/config"
	"github.com/ricave/ricave-translator/extract"
	"github.com/ricave/ricave-translator/jobs"
	"github.com/ricave/ricave-translator/langmeta"
	"github.com/ricave/ricave-translator/logging"
	"github.com/ricave/ricave-translator/manifest"
	"github.com/ricave/ricave-translator/xmldoc"
)

// InfoFileName is the language descriptor written into each language folder.
const InfoFileName = "Info.xml"

// ---------------------------------------------------------------------------
// Manifest generation
// ---------------------------------------------------------------------------

// generateManifest records the source hash of every annotated node of rel
// without translating anything. Files without a translated counterpart are
// skipped, and keys no longer present in the source are pruned.
func (c *Coordinator) generateManifest(ctx context.Context, run *languageRun, rel string) error {
	logger := logging.Ctx(ctx, "pipeline").With().Str("file", rel).Logger()

	if !exists(run.targetPath(rel)) {
		logger.Debug().Msg("target file not found, skipping")
		return nil
	}

	src, err := xmldoc.ParseFile(c.sourcePath(rel))
	if err != nil {
		return err
	}

	annotations := extract.Annotated(src)
	if len(annotations) == 0 {
		logger.Debug().Msg("no translatable nodes")
		return nil
	}

	sources := make(map[string]string, len(annotations))
	keys := make([]string, 0, len(annotations))
	for _, a := range annotations {
		if err := ctx.Err(); err != nil {
			return err
		}
		sources[a.Key] = a.Source
		keys = append(keys, a.Key)
	}

	key := manifest.Key(rel)
	run.manifest.UpdateBatch(key, sources)
	run.manifest.Clean(key, keys)
	logger.Debug().Int("nodes", len(keys)).Msg("hashes generated")
	return nil
}

// pruneManifest drops the hashes of files that are no longer in the
// template tree.
func (c *Coordinator) pruneManifest(ctx context.Context, m *manifest.Manifest) error {
	files, err := jobs.ListSourceFiles(c.opts.TemplateDir)
	if err != nil {
		return err
	}
	live := make(map[string]bool, len(files))
	for _, f := range files {
		live[manifest.Key(f)] = true
	}

	logger := logging.Ctx(ctx, "pipeline")
	for _, f := range m.Files() {
		if !live[f] {
			m.RemoveFile(f)
			logger.Debug().Str("file", f).Msg("pruned stale manifest entry")
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Fix / verify
// ---------------------------------------------------------------------------

// fixFile brings an existing translation of rel up to date. A missing target
// is translated from scratch. In debug mode the reasons are recorded and
// nothing is written.
func (c *Coordinator) fixFile(ctx context.Context, run *languageRun, rel string) error {
	logger := logging.Ctx(ctx, "pipeline").With().Str("file", rel).Logger()
	targetPath := run.targetPath(rel)

	if !exists(targetPath) {
		if run.job.IsDebugMode {
			run.recordDebug(rel, []string{"Target file not found."})
			return nil
		}
		logger.Info().Msg("new file found, translating from scratch")
		return c.translateNewFile(ctx, run, rel)
	}

	src, err := xmldoc.ParseFile(c.sourcePath(rel))
	if err != nil {
		return err
	}
	target, err := xmldoc.ParseFile(targetPath)
	if err != nil {
		return err
	}

	key := manifest.Key(rel)
	entries, reasons, err := extract.Diff(src, target, run.manifest.FileHashes(key))
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		logger.Debug().Msg("verified")
		return nil
	}

	if run.job.IsDebugMode {
		run.recordDebug(rel, reasons)
		logger.Debug().Int("nodes", len(entries)).Msg("needs fix")
		return nil
	}

	logger.Info().Int("nodes", len(entries)).Msg("fixing")
	translated, err := c.translate(ctx, run, entries, rel)
	if err != nil {
		return err
	}

	elements := extract.TargetElements(target)
	root := target.Root()
	written := make(map[string]string, len(entries))
	for _, e := range entries {
		text, ok := translated[e.Key]
		if !ok {
			continue
		}
		el := elements[e.Key]
		if el == nil {
			el = root.AppendElement(e.Key)
			elements[e.Key] = el
		}
		el.SetInnerXML(text)
		written[e.Key] = e.Item.Original
	}

	if err := c.write(target, targetPath); err != nil {
		return err
	}
	run.manifest.UpdateBatch(key, written)
	return nil
}

// ---------------------------------------------------------------------------
// New files
// ---------------------------------------------------------------------------

// translateNewFile writes a fresh translation of rel. The source document is
// used as the skeleton so comments and layout carry over; a file without
// annotated nodes is copied verbatim.
func (c *Coordinator) translateNewFile(ctx context.Context, run *languageRun, rel string) error {
	sourcePath := c.sourcePath(rel)
	targetPath := run.targetPath(rel)

	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	doc, err := xmldoc.ParseFile(sourcePath)
	if err != nil {
		return err
	}

	entries, err := extract.Collect(doc)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		if exists(targetPath) {
			return nil
		}
		return copyFile(sourcePath, targetPath)
	}

	translated, err := c.translate(ctx, run, entries, rel)
	if err != nil {
		return err
	}

	written := make(map[string]string, len(entries))
	for _, e := range entries {
		text, ok := translated[e.Key]
		if !ok {
			continue
		}
		e.Element.SetInnerXML(text)
		written[e.Key] = e.Item.Original
	}

	if err := c.write(doc, targetPath); err != nil {
		return err
	}
	run.manifest.UpdateBatch(manifest.Key(rel), written)
	return nil
}

// translate runs the scheduled entries of one file through the translator.
func (c *Coordinator) translate(ctx context.Context, run *languageRun, entries []extract.Entry, rel string) (map[string]string, error) {
	logger := logging.Ctx(ctx, "pipeline").With().Str("file", rel).Logger()
	return c.translator.TranslateEntries(ctx, entries, run.formal, c.sourcePath(rel), func(done, total int) {
		logger.Debug().Int("done", done).Int("total", total).Msg("nodes translated")
	})
}

// ---------------------------------------------------------------------------
// Info.xml
// ---------------------------------------------------------------------------

// ensureInfoFile writes Info.xml for a language when it is missing or when
// AlwaysCreateInfoFile is set. The native name comes from the oracle; when
// that fails the built-in registry is used instead.
func (c *Coordinator) ensureInfoFile(ctx context.Context, dir, formal, code string) error {
	path := filepath.Join(dir, InfoFileName)
	if !c.opts.AlwaysCreateInfoFile && exists(path) {
		return nil
	}

	native, err := c.oracle.NativeName(ctx, formal)
	if err != nil {
		native = langmeta.NativeName(code, formal)
		c.opts.warn("Could not get native name for %s (%v). Using '%s'.", formal, err, native)
	}

	doc := xmldoc.NewDocument("LanguageInfo")
	root := doc.Root()
	root.AppendElement("englishName").SetText(config.FolderName(formal))
	root.AppendElement("nativeName").SetText(native)
	root.AppendElement("cultureName").SetText(code)

	if err := doc.WriteFile(path); err != nil {
		return err
	}
	c.opts.log("- INFO:     Created Info.xml for %s", formal)
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	return out.Close()
}
