package translate

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ricave/ricave-translator/extract"
	"github.com/ricave/ricave-translator/placeholder"
)

// Translator turns scheduled nodes into finished translations: it flattens
// their segments, calls the oracle, repairs placeholder damage and puts the
// segments back together.
type Translator struct {
	oracle Oracle
	opts   Options
	now    func() time.Time
}

// NewTranslator returns a Translator backed by oracle.
func NewTranslator(oracle Oracle, opts Options) *Translator {
	return &Translator{oracle: oracle, opts: opts, now: time.Now}
}

// Incremental reports whether n items are dispatched in concurrent chunks.
func (t *Translator) Incremental(n int) bool {
	return n > t.opts.effectiveIncrementalThreshold()
}

// TranslateEntries returns node key → translated inner content for every
// entry. source names the template file and is used in messages and dumps.
//
// Above the incremental threshold the entries are split into chunks of
// BatchSize that are translated concurrently; onProgress then reports the
// number of finished entries after each chunk. Otherwise onProgress is
// called once when the whole file is done. onProgress may be nil.
func (t *Translator) TranslateEntries(ctx context.Context, entries []extract.Entry, languageName, source string, onProgress func(done, total int)) (map[string]string, error) {
	total := len(entries)
	if onProgress == nil {
		onProgress = func(int, int) {}
	}

	if !t.Incremental(total) {
		out, err := t.translateItems(ctx, entries, languageName, source)
		if err != nil {
			return nil, err
		}
		onProgress(total, total)
		return out, nil
	}

	t.opts.Logger.Debug().Str("file", source).Int("items", total).Msg("incremental mode")

	var (
		mu        sync.Mutex
		out       = make(map[string]string, total)
		processed atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.effectiveMaxConcurrent())

	size := t.opts.effectiveBatchSize()
	for start := 0; start < total; start += size {
		chunk := entries[start:min(start+size, total)]
		g.Go(func() error {
			got, err := t.translateItems(gctx, chunk, languageName, source)
			if err != nil {
				return err
			}
			mu.Lock()
			for k, v := range got {
				if _, ok := out[k]; !ok {
					out[k] = v
				}
			}
			mu.Unlock()
			onProgress(int(processed.Add(int64(len(chunk)))), total)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// translateItems runs flatten, oracle call, repair and reassembly for one
// group of entries.
func (t *Translator) translateItems(ctx context.Context, entries []extract.Entry, languageName, source string) (map[string]string, error) {
	var pairs []Pair
	expected := map[string][]string{}
	for _, e := range entries {
		for i, text := range e.Item.Texts {
			key := flatKey(e.Key, i)
			pairs = append(pairs, Pair{Key: key, Text: text})
			expected[key] = e.Item.Placeholders[i]
		}
	}

	translated, err := t.oracle.Translate(ctx, Request{Pairs: pairs, LanguageName: languageName, Source: source})
	if err != nil {
		return nil, err
	}

	if err := t.repair(ctx, translated, pairs, expected, languageName, source); err != nil {
		return nil, err
	}

	return reassemble(entries, translated), nil
}

// repair resubmits entries whose marker count is wrong or that the oracle
// left out, with the corrective prompt, for up to MaxFormattingRetries
// rounds. translated is updated in place.
func (t *Translator) repair(ctx context.Context, translated map[string]string, pairs []Pair, expected map[string][]string, languageName, source string) error {
	rounds := t.opts.effectiveMaxFormattingRetries()
	name := filepath.Base(source)

	toFix := misformatted(translated, pairs, expected)
	for round := 1; round <= rounds && len(toFix) > 0; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		t.opts.warn("File %s has %d formatting errors. Attempting fix %d of %d...", name, len(toFix), round, rounds)

		fixed, err := t.oracle.Translate(ctx, Request{
			Pairs:        toFix,
			LanguageName: languageName,
			Corrective:   true,
			Source:       source,
		})
		if err != nil {
			return err
		}
		for k, v := range fixed {
			translated[k] = v
		}

		toFix = misformatted(translated, pairs, expected)
	}

	if len(toFix) == 0 {
		return nil
	}

	msg := fmt.Sprintf("After %d attempts, %d items in %s still have formatting errors.", rounds, len(toFix), name)
	t.opts.Logger.Error().Str("file", source).Int("items", len(toFix)).Msg("formatting errors remain")

	type incident struct {
		OriginalText                    string   `json:"originalText"`
		IncorrectTranslation            string   `json:"incorrectTranslation"`
		ExpectedPlaceholders            []string `json:"expectedPlaceholders"`
		ActualPlaceholdersInTranslation []string `json:"actualPlaceholdersInTranslation"`
	}
	report := make(map[string]incident, len(toFix))
	for _, p := range toFix {
		report[p.Key] = incident{
			OriginalText:                    p.Text,
			IncorrectTranslation:            translated[p.Key],
			ExpectedPlaceholders:            expected[p.Key],
			ActualPlaceholdersInTranslation: placeholder.Markers(translated[p.Key]),
		}
	}

	dir := t.opts.effectiveDebugDir()
	path, err := writeDump(dir, source, "formatting_error.json", t.now(), report)
	if err != nil {
		t.opts.Logger.Error().Err(err).Msg("writing formatting dump")
		return &Error{Kind: KindFormatting, Msg: msg}
	}
	return &Error{
		Kind:     KindFormatting,
		DumpPath: path,
		Msg:      fmt.Sprintf("%s Debug info has been saved to the %s directory.", msg, dir),
	}
}

// misformatted returns the source pairs that are missing from translated or
// whose translation carries a different number of markers than the source
// had placeholders.
func misformatted(translated map[string]string, pairs []Pair, expected map[string][]string) []Pair {
	var out []Pair
	for _, p := range pairs {
		got, ok := translated[p.Key]
		if !ok || placeholder.Count(got) != len(expected[p.Key]) {
			out = append(out, p)
		}
	}
	return out
}

// reassemble restores placeholders and rebuilds list content. A node with
// any segment missing from translated is left out of the result.
func reassemble(entries []extract.Entry, translated map[string]string) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if !complete(e, translated) {
			continue
		}
		if !e.Item.IsList {
			out[e.Key] = placeholder.Restore(translated[flatKey(e.Key, 0)], e.Item.Placeholders[0])
			continue
		}
		var sb strings.Builder
		for i := range e.Item.Texts {
			text := translated[flatKey(e.Key, i)]
			sb.WriteString("<li>")
			sb.WriteString(placeholder.Restore(text, e.Item.Placeholders[i]))
			sb.WriteString("</li>")
		}
		out[e.Key] = sb.String()
	}
	return out
}

func complete(e extract.Entry, translated map[string]string) bool {
	for i := range e.Item.Texts {
		if _, ok := translated[flatKey(e.Key, i)]; !ok {
			return false
		}
	}
	return true
}

func flatKey(key string, i int) string {
	return fmt.Sprintf("%s_%d", key, i)
}
