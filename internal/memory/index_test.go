package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func seededIndex() *Index {
	ix := NewIndex()
	ix.AddMemory("d1", "golang concurrency patterns", Metadata{CreatedAt: base})
	ix.AddMemory("d2", "番茄工作法 专注 休息", Metadata{CreatedAt: base.Add(time.Minute)})
	ix.AddMemory("d3", "golang generics tutorial", Metadata{CreatedAt: base.Add(2 * time.Minute), Important: true})
	return ix
}

func ids(results []SearchResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.ID)
	}
	return out
}

func TestSearchHybridRanksKeywordMatches(t *testing.T) {
	ix := seededIndex()
	opts := DefaultSearchOptions()
	opts.IncludeImportant = false

	results := ix.Search("golang concurrency", opts)
	require.Len(t, results, 2)
	assert.Equal(t, []string{"d1", "d3"}, ids(results))
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, SourceKeyword, results[0].Source)
	assert.InDelta(t, 0.5, results[1].Score, 1e-9)
}

func TestSearchImportanceBoost(t *testing.T) {
	ix := seededIndex()

	results := ix.Search("golang", DefaultSearchOptions())
	require.Len(t, results, 2)
	assert.Equal(t, "d3", results[0].ID)
	assert.InDelta(t, 1.5, results[0].Score, 1e-9)

	opts := DefaultSearchOptions()
	opts.IncludeImportant = false
	results = ix.Search("golang", opts)
	require.Len(t, results, 2)
	assert.InDelta(t, results[0].Score, results[1].Score, 1e-9)
	assert.Equal(t, "d3", results[0].ID, "ties prefer the most recent write")
}

func TestSearchSemanticOnly(t *testing.T) {
	ix := seededIndex()
	opts := DefaultSearchOptions()
	opts.Strategy = StrategySemantic

	results := ix.Search("concurrency in golang", opts)
	require.NotEmpty(t, results)
	assert.Equal(t, "d1", results[0].ID)
	assert.Equal(t, SourceSemantic, results[0].Source)
	assert.Greater(t, results[0].Score, 0.0)
	assert.Less(t, results[0].Score, 1.0+1e-9)
}

func TestSearchChinese(t *testing.T) {
	ix := seededIndex()
	results := ix.Search("番茄", DefaultSearchOptions())
	require.NotEmpty(t, results)
	assert.Equal(t, "d2", results[0].ID)
}

func TestSearchTimeRangeAndLimit(t *testing.T) {
	ix := seededIndex()
	opts := DefaultSearchOptions()
	opts.TimeRange = &TimeRange{Start: base.Add(30 * time.Second), End: base.Add(time.Hour)}

	assert.Equal(t, []string{"d3"}, ids(ix.Search("golang", opts)))

	opts = DefaultSearchOptions()
	opts.Limit = 1
	assert.Len(t, ix.Search("golang", opts), 1)
}

func TestDeleteMemoryUpdatesIndexes(t *testing.T) {
	ix := seededIndex()
	require.Equal(t, Stats{TotalMemories: 3, KeywordCount: 20, ImportantCount: 1}, ix.Stats())

	assert.True(t, ix.DeleteMemory("d1"))
	assert.False(t, ix.DeleteMemory("d1"))
	assert.Empty(t, ix.Search("concurrency", DefaultSearchOptions()))
	assert.Equal(t, Stats{TotalMemories: 2, KeywordCount: 18, ImportantCount: 1}, ix.Stats())

	assert.True(t, ix.DeleteMemory("d3"))
	assert.Equal(t, 0, ix.Stats().ImportantCount)
}

func TestAddMemoryReplacesExistingID(t *testing.T) {
	ix := NewIndex()
	ix.AddMemory("x", "alpha beta", Metadata{})
	ix.AddMemory("x", "gamma", Metadata{})

	assert.Equal(t, 1, ix.Stats().TotalMemories)
	assert.Equal(t, 1, ix.Stats().KeywordCount)
	assert.Empty(t, ix.Search("alpha", DefaultSearchOptions()))
	assert.Equal(t, []string{"x"}, ids(ix.Search("gamma", DefaultSearchOptions())))
}

func TestClearAll(t *testing.T) {
	ix := seededIndex()
	ix.ClearAll()
	assert.Equal(t, Stats{}, ix.Stats())
	assert.Empty(t, ix.Search("golang", DefaultSearchOptions()))
}

func TestExportImport(t *testing.T) {
	src := seededIndex()
	exported := src.Export()
	require.Len(t, exported, 3)
	assert.Equal(t, "d1", exported[0].ID)

	dst := NewIndex()
	dst.AddMemory("stale", "stale entry", Metadata{})
	dst.Import(exported)

	assert.Equal(t, src.Stats(), dst.Stats())
	assert.Equal(t, ids(src.Search("golang", DefaultSearchOptions())), ids(dst.Search("golang", DefaultSearchOptions())))
}
