package lexical

import "math"

// BM25 is an in-memory Okapi BM25 index over a fixed document set. It is
// built per request from the candidate chunks and discarded afterwards.
type BM25 struct {
	docFreq  map[string]int
	termFreq []map[string]int
	lengths  []int
	avgLen   float64
	k1       float64
	b        float64
}

// NewBM25 indexes the term lists of each document.
func NewBM25(docs [][]string) *BM25 {
	idx := &BM25{
		docFreq:  make(map[string]int),
		termFreq: make([]map[string]int, len(docs)),
		lengths:  make([]int, len(docs)),
		k1:       1.6,
		b:        0.75,
	}
	total := 0
	for i, terms := range docs {
		tf := make(map[string]int, len(terms))
		for _, t := range terms {
			tf[t]++
		}
		for t := range tf {
			idx.docFreq[t]++
		}
		idx.termFreq[i] = tf
		idx.lengths[i] = len(terms)
		total += len(terms)
	}
	if len(docs) > 0 {
		idx.avgLen = float64(total) / float64(len(docs))
	}
	return idx
}

// IDF returns the smoothed inverse document frequency of term, always > 0.
func (idx *BM25) IDF(term string) float64 {
	n := float64(len(idx.lengths))
	df := float64(idx.docFreq[term])
	return math.Log((n-df+0.5)/(df+0.5) + 1)
}

// Score returns the raw BM25 score of document i for the distinct query terms.
func (idx *BM25) Score(i int, query []string) float64 {
	if i < 0 || i >= len(idx.termFreq) || idx.avgLen == 0 {
		return 0
	}
	tfs := idx.termFreq[i]
	docLen := float64(idx.lengths[i])
	score := 0.0
	for _, term := range Unique(query) {
		tf := float64(tfs[term])
		if tf == 0 {
			continue
		}
		numerator := tf * (idx.k1 + 1)
		denominator := tf + idx.k1*(1-idx.b+idx.b*(docLen/idx.avgLen))
		score += idx.IDF(term) * (numerator / denominator)
	}
	return score
}

// MaxScore is an upper bound of Score for query: every term saturated.
func (idx *BM25) MaxScore(query []string) float64 {
	max := 0.0
	for _, term := range Unique(query) {
		max += idx.IDF(term) * (idx.k1 + 1)
	}
	return max
}

// Coverage is the IDF-weighted share of distinct query terms present in
// document i, in [0,1].
func (idx *BM25) Coverage(i int, query []string) float64 {
	if i < 0 || i >= len(idx.termFreq) {
		return 0
	}
	var hit, all float64
	for _, term := range Unique(query) {
		w := idx.IDF(term)
		all += w
		if idx.termFreq[i][term] > 0 {
			hit += w
		}
	}
	if all == 0 {
		return 0
	}
	return hit / all
}
