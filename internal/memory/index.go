package memory

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Strategy 选择检索方式。
type Strategy string

const (
	StrategyKeyword  Strategy = "keyword"
	StrategySemantic Strategy = "semantic"
	StrategyHybrid   Strategy = "hybrid"
)

// Source 标记结果来自哪一路检索。
type Source string

const (
	SourceKeyword  Source = "keyword"
	SourceSemantic Source = "semantic"
)

const (
	defaultSearchLimit = 10
	semanticTopK       = 20
	importanceBoost    = 1.5
)

// Metadata 是写入索引时附带的信息。
type Metadata struct {
	Important bool      `json:"important,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// TimeRange 限定检索的写入时间区间（闭区间）。
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// SearchOptions 控制一次检索。
type SearchOptions struct {
	Limit            int
	Strategy         Strategy
	TimeRange        *TimeRange
	IncludeImportant bool
}

// DefaultSearchOptions 返回混合检索、重要性加权、最多 10 条的默认选项。
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{Limit: defaultSearchLimit, Strategy: StrategyHybrid, IncludeImportant: true}
}

// SearchResult 是索引检索的单条结果。
type SearchResult struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Score    float64  `json:"score"`
	Source   Source   `json:"source"`
	Metadata Metadata `json:"metadata"`
}

// Stats 汇总索引规模。
type Stats struct {
	TotalMemories  int `json:"totalMemories"`
	KeywordCount   int `json:"keywordCount"`
	ImportantCount int `json:"importantCount"`
}

type document struct {
	id       string
	content  string
	terms    []string
	metadata Metadata
}

// Index 是进程内共享的混合检索索引：关键词倒排、TF-IDF、时间与重要性索引。
// 所有状态由同一把锁保护，因为 TF-IDF 打分依赖全局文档频率。
type Index struct {
	mu        sync.RWMutex
	docs      map[string]*document
	keywords  map[string]map[string]struct{}
	docFreq   map[string]int
	written   map[string]time.Time
	important map[string]struct{}
	now       func() time.Time
}

// NewIndex 创建空索引。
func NewIndex() *Index {
	return &Index{
		docs:      make(map[string]*document),
		keywords:  make(map[string]map[string]struct{}),
		docFreq:   make(map[string]int),
		written:   make(map[string]time.Time),
		important: make(map[string]struct{}),
		now:       time.Now,
	}
}

// AddMemory 将内容写入所有索引。相同 id 重复写入时先移除旧内容。
func (ix *Index) AddMemory(id, content string, meta Metadata) {
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = ix.now()
	}
	terms := uniqueTokens(Tokenize(content))

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, exists := ix.docs[id]; exists {
		ix.removeLocked(id)
	}

	ix.docs[id] = &document{id: id, content: content, terms: terms, metadata: meta}
	for _, term := range terms {
		ix.docFreq[term]++
		set, ok := ix.keywords[term]
		if !ok {
			set = make(map[string]struct{})
			ix.keywords[term] = set
		}
		set[id] = struct{}{}
	}
	ix.written[id] = meta.CreatedAt
	if meta.Important {
		ix.important[id] = struct{}{}
	}
}

// DeleteMemory 从所有索引中移除记忆并回退文档频率。
func (ix *Index) DeleteMemory(id string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.docs[id]; !ok {
		return false
	}
	ix.removeLocked(id)
	return true
}

func (ix *Index) removeLocked(id string) {
	doc := ix.docs[id]
	for _, term := range doc.terms {
		if ix.docFreq[term] <= 1 {
			delete(ix.docFreq, term)
		} else {
			ix.docFreq[term]--
		}
		if set, ok := ix.keywords[term]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(ix.keywords, term)
			}
		}
	}
	delete(ix.docs, id)
	delete(ix.written, id)
	delete(ix.important, id)
}

// ClearAll 清空全部索引。
func (ix *Index) ClearAll() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.docs = make(map[string]*document)
	ix.keywords = make(map[string]map[string]struct{})
	ix.docFreq = make(map[string]int)
	ix.written = make(map[string]time.Time)
	ix.important = make(map[string]struct{})
}

// Stats 返回索引统计信息。
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return Stats{
		TotalMemories:  len(ix.docs),
		KeywordCount:   len(ix.keywords),
		ImportantCount: len(ix.important),
	}
}

// Search 执行混合检索：关键词得分为命中词数 / 查询词数，语义得分为 TF-IDF 余弦相似度。
// 结果按 id 去重保留最高分，降序排列后截断到 Limit。
func (ix *Index) Search(query string, opts SearchOptions) []SearchResult {
	if opts.Limit <= 0 {
		opts.Limit = defaultSearchLimit
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyHybrid
	}
	queryTokens := Tokenize(query)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var results []SearchResult
	if opts.Strategy == StrategyKeyword || opts.Strategy == StrategyHybrid {
		results = append(results, ix.keywordSearchLocked(queryTokens)...)
	}
	if opts.Strategy == StrategySemantic || opts.Strategy == StrategyHybrid {
		results = append(results, ix.semanticSearchLocked(queryTokens)...)
	}

	best := make(map[string]SearchResult, len(results))
	for _, r := range results {
		if opts.TimeRange != nil {
			at := ix.written[r.ID]
			if at.Before(opts.TimeRange.Start) || at.After(opts.TimeRange.End) {
				continue
			}
		}
		if opts.IncludeImportant {
			if _, ok := ix.important[r.ID]; ok {
				r.Score *= importanceBoost
			}
		}
		if existing, ok := best[r.ID]; !ok || r.Score > existing.Score {
			best[r.ID] = r
		}
	}

	unique := make([]SearchResult, 0, len(best))
	for _, r := range best {
		unique = append(unique, r)
	}
	sort.SliceStable(unique, func(i, j int) bool {
		if unique[i].Score == unique[j].Score {
			return ix.written[unique[i].ID].After(ix.written[unique[j].ID])
		}
		return unique[i].Score > unique[j].Score
	})
	if len(unique) > opts.Limit {
		unique = unique[:opts.Limit]
	}
	return unique
}

func (ix *Index) keywordSearchLocked(queryTokens []string) []SearchResult {
	terms := uniqueTokens(queryTokens)
	if len(terms) == 0 {
		return nil
	}
	hits := make(map[string]int)
	for _, term := range terms {
		for id := range ix.keywords[term] {
			hits[id]++
		}
	}
	results := make([]SearchResult, 0, len(hits))
	for id, count := range hits {
		doc := ix.docs[id]
		results = append(results, SearchResult{
			ID:       id,
			Content:  doc.content,
			Score:    float64(count) / float64(len(terms)),
			Source:   SourceKeyword,
			Metadata: doc.metadata,
		})
	}
	return results
}

func (ix *Index) semanticSearchLocked(queryTokens []string) []SearchResult {
	if len(queryTokens) == 0 || len(ix.docs) == 0 {
		return nil
	}
	queryVec := ix.tfidfLocked(queryTokens)

	results := make([]SearchResult, 0, len(ix.docs))
	for id, doc := range ix.docs {
		score := cosine(queryVec, ix.tfidfLocked(doc.terms))
		if score <= 0 {
			continue
		}
		results = append(results, SearchResult{
			ID:       id,
			Content:  doc.content,
			Score:    score,
			Source:   SourceSemantic,
			Metadata: doc.metadata,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > semanticTopK {
		results = results[:semanticTopK]
	}
	return results
}

// tfidfLocked 计算 tf = 词频 / 词数，idf = ln(文档总数 / df)，未出现的词 df 视为 1。
func (ix *Index) tfidfLocked(tokens []string) map[string]float64 {
	freq := make(map[string]int, len(tokens))
	for _, t := range tokens {
		freq[t]++
	}
	total := float64(len(ix.docs))
	vec := make(map[string]float64, len(freq))
	for term, n := range freq {
		df := ix.docFreq[term]
		if df == 0 {
			df = 1
		}
		tf := float64(n) / float64(len(tokens))
		vec[term] = tf * math.Log(total/float64(df))
	}
	return vec
}

func cosine(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for k, va := range a {
		dot += va * b[k]
		normA += va * va
	}
	for _, vb := range b {
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Export 导出全部记忆，按写入时间升序。
func (ix *Index) Export() []Record {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]Record, 0, len(ix.docs))
	for id, doc := range ix.docs {
		out = append(out, Record{
			ID:        id,
			Content:   doc.content,
			Timestamp: doc.metadata.CreatedAt,
			Layer:     LayerSemantic,
			Important: doc.metadata.Important,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Import 清空索引后重新写入给定记录。
func (ix *Index) Import(records []Record) {
	ix.ClearAll()
	for _, rec := range records {
		ix.AddMemory(rec.ID, rec.Content, Metadata{Important: rec.Important, CreatedAt: rec.Timestamp})
	}
}
