package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricave/ricave-translator/extract"
	"github.com/ricave/ricave-translator/placeholder"
)

// fakeOracle answers every request through fn and records requests.
type fakeOracle struct {
	mu       sync.Mutex
	requests []Request
	fn       func(req Request) (map[string]string, error)
}

func (f *fakeOracle) Translate(_ context.Context, req Request) (map[string]string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.fn(req)
}

func (f *fakeOracle) corrective() []Request {
	var out []Request
	for _, r := range f.requests {
		if r.Corrective {
			out = append(out, r)
		}
	}
	return out
}

// upper "translates" by upper-casing everything but the markers.
func upper(req Request) (map[string]string, error) {
	out := map[string]string{}
	for _, p := range req.Pairs {
		out[p.Key] = strings.ReplaceAll(strings.ToUpper(p.Text), "__P", "__p")
	}
	return out, nil
}

func entry(key, content string) extract.Entry {
	return extract.Entry{Key: key, Item: extract.NewItem(content)}
}

func TestTranslateEntries_ScalarAndList(t *testing.T) {
	oracle := &fakeOracle{fn: upper}
	tr := NewTranslator(oracle, testOptions(t))

	entries := []extract.Entry{
		entry("Desc", "Pick up the <item/> now"),
		entry("Tips", "<li>Press [Key]</li><li>Rest</li>"),
	}

	var progress []int
	got, err := tr.TranslateEntries(context.Background(), entries, "German", "Items.xml", func(done, total int) {
		progress = append(progress, done, total)
	})
	require.NoError(t, err)

	assert.Equal(t, "PICK UP THE <item/> NOW", got["Desc"])
	assert.Equal(t, "<li>PRESS [Key]</li><li>REST</li>", got["Tips"])
	assert.Equal(t, []int{2, 2}, progress)

	require.Len(t, oracle.requests, 1)
	keys := []string{}
	for _, p := range oracle.requests[0].Pairs {
		keys = append(keys, p.Key)
	}
	assert.Equal(t, []string{"Desc_0", "Tips_0", "Tips_1"}, keys)
	assert.Empty(t, oracle.corrective(), "no repair round when markers match")
}

func TestTranslateEntries_RepairsLostMarkers(t *testing.T) {
	oracle := &fakeOracle{}
	oracle.fn = func(req Request) (map[string]string, error) {
		if req.Corrective {
			return upper(req)
		}
		return map[string]string{"Desc_0": "HEBE DEN GEGENSTAND AUF", "Plain_0": "EINFACH"}, nil
	}
	var warnings []string
	opts := testOptions(t)
	opts.OnWarn = func(format string, args ...any) { warnings = append(warnings, fmt.Sprintf(format, args...)) }
	tr := NewTranslator(oracle, opts)

	got, err := tr.TranslateEntries(context.Background(),
		[]extract.Entry{entry("Desc", "Pick up the <item/> now"), entry("Plain", "Plain")},
		"German", "Items.xml", nil)
	require.NoError(t, err)

	assert.Equal(t, "PICK UP THE <item/> NOW", got["Desc"])
	assert.Equal(t, "EINFACH", got["Plain"])

	fixes := oracle.corrective()
	require.Len(t, fixes, 1)
	assert.Equal(t, []Pair{{Key: "Desc_0", Text: "Pick up the __p0__ now"}}, fixes[0].Pairs)
	assert.Equal(t, []string{"File Items.xml has 1 formatting errors. Attempting fix 1 of 2..."}, warnings)
}

func TestTranslateEntries_OneResubmissionPerRound(t *testing.T) {
	rounds := 0
	oracle := &fakeOracle{}
	oracle.fn = func(req Request) (map[string]string, error) {
		if req.Corrective {
			rounds++
			if rounds == 2 {
				return upper(req)
			}
			return map[string]string{"Desc_0": "still broken"}, nil
		}
		return map[string]string{"Desc_0": "broken"}, nil
	}
	tr := NewTranslator(oracle, testOptions(t))

	got, err := tr.TranslateEntries(context.Background(), []extract.Entry{entry("Desc", "A <b>")}, "German", "a.xml", nil)
	require.NoError(t, err)
	assert.Equal(t, "A <b>", got["Desc"])
	assert.Len(t, oracle.corrective(), 2)
}

func TestTranslateEntries_FormattingErrorAfterRetries(t *testing.T) {
	oracle := &fakeOracle{fn: func(req Request) (map[string]string, error) {
		return map[string]string{"Desc_0": "no markers"}, nil
	}}
	opts := testOptions(t)
	opts.MaxFormattingRetries = 3
	tr := NewTranslator(oracle, opts)

	_, err := tr.TranslateEntries(context.Background(), []extract.Entry{entry("Desc", "Hit [Key] now")}, "German", "dir/Keys.xml", nil)
	require.Error(t, err)
	assert.Equal(t, KindFormatting, KindOf(err))
	assert.Contains(t, err.Error(), "After 3 attempts, 1 items in Keys.xml still have formatting errors.")
	assert.Len(t, oracle.corrective(), 3)

	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.DumpPath, "Keys_")
	assert.True(t, strings.HasSuffix(te.DumpPath, "_formatting_error.json"))

	data, err := os.ReadFile(te.DumpPath)
	require.NoError(t, err)
	var dump map[string]struct {
		OriginalText                    string   `json:"originalText"`
		IncorrectTranslation            string   `json:"incorrectTranslation"`
		ExpectedPlaceholders            []string `json:"expectedPlaceholders"`
		ActualPlaceholdersInTranslation []string `json:"actualPlaceholdersInTranslation"`
	}
	require.NoError(t, json.Unmarshal(data, &dump))
	assert.Equal(t, "Hit __p0__ now", dump["Desc_0"].OriginalText)
	assert.Equal(t, "no markers", dump["Desc_0"].IncorrectTranslation)
	assert.Equal(t, []string{"[Key]"}, dump["Desc_0"].ExpectedPlaceholders)
	assert.Empty(t, dump["Desc_0"].ActualPlaceholdersInTranslation)
}

func TestTranslateEntries_MissingKeysAreRetried(t *testing.T) {
	oracle := &fakeOracle{fn: func(req Request) (map[string]string, error) {
		if req.Corrective {
			return upper(req)
		}
		return map[string]string{"Tips_1": "ZWEI"}, nil
	}}
	tr := NewTranslator(oracle, testOptions(t))

	got, err := tr.TranslateEntries(context.Background(),
		[]extract.Entry{entry("Desc", "Pick up the <item/> now"), entry("Tips", "<li>one</li><li>two</li>")}, "German", "a.xml", nil)
	require.NoError(t, err)
	assert.Equal(t, "PICK UP THE <item/> NOW", got["Desc"])
	assert.Equal(t, "<li>ONE</li><li>ZWEI</li>", got["Tips"])

	require.Len(t, oracle.corrective(), 1)
	var keys []string
	for _, p := range oracle.corrective()[0].Pairs {
		keys = append(keys, p.Key)
	}
	assert.ElementsMatch(t, []string{"Desc_0", "Tips_0"}, keys)
}

func TestTranslateEntries_MissingKeysFailAfterRetries(t *testing.T) {
	oracle := &fakeOracle{fn: func(req Request) (map[string]string, error) {
		return map[string]string{"Tips_1": "ZWEI"}, nil
	}}
	opts := testOptions(t)
	opts.MaxFormattingRetries = 2
	tr := NewTranslator(oracle, opts)

	got, err := tr.TranslateEntries(context.Background(),
		[]extract.Entry{entry("Desc", "Pick up the <item/> now"), entry("Tips", "<li>one</li><li>two</li>")}, "German", "a.xml", nil)
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Equal(t, KindFormatting, KindOf(err))
	assert.Contains(t, err.Error(), "2 items in a.xml still have formatting errors")
	assert.Len(t, oracle.corrective(), 2)
}

func TestReassembleSkipsIncompleteNodes(t *testing.T) {
	entries := []extract.Entry{entry("Desc", "x"), entry("Tips", "<li>one</li><li>two</li>")}
	got := reassemble(entries, map[string]string{"Tips_1": "ZWEI"})
	assert.Empty(t, got)

	got = reassemble(entries, map[string]string{"Desc_0": "X", "Tips_0": "EINS", "Tips_1": "ZWEI"})
	assert.Equal(t, map[string]string{"Desc": "X", "Tips": "<li>EINS</li><li>ZWEI</li>"}, got)
}

func TestTranslateEntries_OracleErrorPropagates(t *testing.T) {
	boom := &Error{Kind: KindMalformed, Msg: "bad answer"}
	oracle := &fakeOracle{fn: func(Request) (map[string]string, error) { return nil, boom }}
	tr := NewTranslator(oracle, testOptions(t))

	_, err := tr.TranslateEntries(context.Background(), []extract.Entry{entry("A", "a")}, "German", "a.xml", nil)
	require.ErrorIs(t, err, boom)
}

func TestTranslateEntries_Incremental(t *testing.T) {
	var calls atomic.Int32
	oracle := &fakeOracle{fn: func(req Request) (map[string]string, error) {
		calls.Add(1)
		return upper(req)
	}}
	opts := testOptions(t)
	opts.IncrementalThreshold = 4
	opts.BatchSize = 2
	opts.MaxConcurrent = 2
	tr := NewTranslator(oracle, opts)

	var entries []extract.Entry
	for i := range 5 {
		entries = append(entries, entry(fmt.Sprintf("K%d", i), fmt.Sprintf("text %d [x]", i)))
	}
	require.True(t, tr.Incremental(len(entries)))

	var mu sync.Mutex
	var last, reports int
	got, err := tr.TranslateEntries(context.Background(), entries, "German", "big.xml", func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 5, total)
		last = max(last, done)
		reports++
	})
	require.NoError(t, err)

	assert.Len(t, got, 5)
	assert.Equal(t, "TEXT 4 [x]", got["K4"])
	assert.Equal(t, int32(3), calls.Load(), "chunks of two items")
	assert.Equal(t, 3, reports)
	assert.Equal(t, 5, last)
}

func TestEndToEndPlaceholderRoundTrip(t *testing.T) {
	oracle := &fakeOracle{fn: func(req Request) (map[string]string, error) {
		return map[string]string{"Desc_0": "Hebe den __p0__ jetzt auf"}, nil
	}}
	tr := NewTranslator(oracle, testOptions(t))

	e := entry("Desc", "Pick up the <item/> now")
	assert.Equal(t, []string{"Pick up the __p0__ now"}, e.Item.Texts)

	got, err := tr.TranslateEntries(context.Background(), []extract.Entry{e}, "German", "a.xml", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hebe den <item/> jetzt auf", got["Desc"])
	assert.Equal(t, 1, placeholder.Count(oracle.requests[0].Pairs[0].Text))
}
