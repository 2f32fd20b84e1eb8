package detect

import (
	"math"
	"sort"
)

// LabelledTicket is a previously reviewed ticket used as context when a new
// one is flagged.
type LabelledTicket struct {
	TicketID string
	Summary  string
	Label    string
}

// SimilarTicket is a LabelledTicket with its cosine similarity to the query.
type SimilarTicket struct {
	LabelledTicket
	Score float64
}

type sparseVec = map[int]float64

// SimilarityIndex is a TF-IDF index over labelled ticket text. It is
// immutable once built.
type SimilarityIndex struct {
	vocab map[string]int
	idf   []float64
	docs  []sparseVec
	items []LabelledTicket
}

// BuildSimilarityIndex indexes items. texts[i] is the text for items[i]; it
// is usually summary + description.
func BuildSimilarityIndex(items []LabelledTicket, texts []string) *SimilarityIndex {
	if len(items) == 0 || len(items) != len(texts) {
		return &SimilarityIndex{vocab: make(map[string]int)}
	}

	vocab := make(map[string]int)
	tokenized := make([][]string, len(texts))
	for i, text := range texts {
		tokenized[i] = tokenize(text)
		for _, tok := range tokenized[i] {
			if _, ok := vocab[tok]; !ok {
				vocab[tok] = len(vocab)
			}
		}
	}

	df := make([]int, len(vocab))
	docs := make([]sparseVec, len(items))
	n := float64(len(items))
	for i, tokens := range tokenized {
		tf := make(map[int]int)
		for _, tok := range tokens {
			tf[vocab[tok]]++
		}
		vec := make(sparseVec, len(tf))
		for idx, count := range tf {
			vec[idx] = float64(count)
			df[idx]++
		}
		docs[i] = vec
	}

	idf := make([]float64, len(vocab))
	for i, d := range df {
		if d > 0 {
			idf[i] = math.Log(n/float64(d)) + 1.0
		}
	}
	for _, vec := range docs {
		for idx := range vec {
			vec[idx] *= idf[idx]
		}
	}

	return &SimilarityIndex{vocab: vocab, idf: idf, docs: docs, items: items}
}

func (idx *SimilarityIndex) Len() int {
	return len(idx.items)
}

func (idx *SimilarityIndex) queryVec(query string) sparseVec {
	tf := make(map[int]int)
	for _, tok := range tokenize(query) {
		if i, ok := idx.vocab[tok]; ok {
			tf[i]++
		}
	}
	vec := make(sparseVec, len(tf))
	for i, count := range tf {
		vec[i] = float64(count) * idx.idf[i]
	}
	return vec
}

// TopK returns up to k indexed tickets most similar to query, best first.
// Tickets with zero similarity are never returned; skipID excludes the
// query ticket itself.
func (idx *SimilarityIndex) TopK(query, skipID string, k int) []SimilarTicket {
	if len(idx.items) == 0 || k <= 0 {
		return nil
	}
	qvec := idx.queryVec(query)
	if len(qvec) == 0 {
		return nil
	}

	var results []SimilarTicket
	for i, dvec := range idx.docs {
		if skipID != "" && idx.items[i].TicketID == skipID {
			continue
		}
		if sim := cosineSim(qvec, dvec); sim > 0 {
			results = append(results, SimilarTicket{LabelledTicket: idx.items[i], Score: sim})
		}
	}
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func cosineSim(a, b sparseVec) float64 {
	var dot, normA, normB float64
	for i, va := range a {
		if vb, ok := b[i]; ok {
			dot += va * vb
		}
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
