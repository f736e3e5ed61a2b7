package qdrant

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"
)

type sparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

const (
	docSaturationK   = 1.2
	querySaturationK = 1.2
	headingBoost     = 1.5
	maxSparseTerms   = 256
)

// encodeSparseDocument weights passage terms with BM25-style saturation. Heading
// values (citation title, section) count extra.
func encodeSparseDocument(text string, headings ...string) sparseVector {
	termFreq := make(map[uint32]float64, 64)
	appendTermFreq(termFreq, tokenizeLexical(text), 1.0)
	for _, heading := range headings {
		appendTermFreq(termFreq, tokenizeLexical(heading), headingBoost)
	}
	return termFreqToSparse(termFreq, docSaturationK)
}

func encodeSparseQuery(query string) sparseVector {
	termFreq := make(map[uint32]float64, 32)
	appendTermFreq(termFreq, tokenizeLexical(query), 1.0)
	return termFreqToSparse(termFreq, querySaturationK)
}

func appendTermFreq(dst map[uint32]float64, tokens []string, weight float64) {
	for _, token := range tokens {
		if token == "" {
			continue
		}
		dst[hashToken(token)] += weight
	}
}

func termFreqToSparse(tf map[uint32]float64, k float64) sparseVector {
	if len(tf) == 0 {
		return sparseVector{}
	}
	indices := make([]uint32, 0, len(tf))
	for idx := range tf {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	if len(indices) > maxSparseTerms {
		indices = indices[:maxSparseTerms]
	}

	values := make([]float32, 0, len(indices))
	for _, idx := range indices {
		freq := tf[idx]
		weight := (freq * (k + 1.0)) / (freq + k)
		if math.IsNaN(weight) || math.IsInf(weight, 0) {
			weight = 0
		}
		values = append(values, float32(weight))
	}
	return sparseVector{Indices: indices, Values: values}
}

func hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	sum := h.Sum32()
	if sum == 0 {
		return 1
	}
	return sum
}

// tokenizeLexical lowercases and splits on anything that is not an ASCII letter
// or digit. Codes written with a hyphen or underscore ("WC-1001", "K_013")
// also yield their joined form ("wc1001") so code lookups match either spelling.
func tokenizeLexical(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, 24)
	for _, word := range strings.FieldsFunc(s, isWordBreak) {
		parts := strings.FieldsFunc(strings.ToLower(word), func(r rune) bool { return !isASCIIAlnum(r) })
		out = append(out, parts...)
		if len(parts) > 1 && isCode(word) {
			out = append(out, strings.Join(parts, ""))
		}
	}
	return out
}

func isWordBreak(r rune) bool {
	return r != '-' && r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func isASCIIAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

func isCode(word string) bool {
	var letters, digits bool
	for _, r := range strings.ToLower(word) {
		switch {
		case r >= 'a' && r <= 'z':
			letters = true
		case r >= '0' && r <= '9':
			digits = true
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return letters && digits
}
