package index

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/aihpi/workshop-video-search/internal/pipeline"
)

// queryTerms splits a keyword query into distinct lower-case terms.
func queryTerms(q string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range strings.Fields(strings.ToLower(q)) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// likePattern escapes % and _ so the term matches literally with ESCAPE '\'.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}

// scoreText is the fraction of terms present in text, plus a small bonus per
// additional occurrence.
func scoreText(text string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	matched, extra := 0, 0
	for _, t := range terms {
		if n := strings.Count(lower, t); n > 0 {
			matched++
			extra += n - 1
		}
	}
	return float64(matched)/float64(len(terms)) + 0.01*float64(extra)
}

func rankHits(hits []Hit, terms []string, limit int) []Hit {
	out := hits[:0]
	for _, h := range hits {
		h.Score = scoreText(h.Text, terms)
		if h.Score > 0 {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].VideoID != out[j].VideoID {
			return out[i].VideoID < out[j].VideoID
		}
		return out[i].Start < out[j].Start
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// scoredFrames keeps the limit frames most similar to query. Frames with a
// different dimension are ignored.
type scoredFrames struct {
	query []float32
	limit int
	hits  []FrameHit
}

func (s *scoredFrames) add(row frameRow, embedding []float32) {
	if len(embedding) != len(s.query) {
		return
	}
	s.hits = append(s.hits, FrameHit{
		VideoID:   row.VideoID,
		SegmentID: row.SegmentID,
		Timestamp: row.Timestamp,
		Path:      row.Path,
		Score:     cosine(s.query, embedding),
	})
}

func (s *scoredFrames) result() []FrameHit {
	sort.SliceStable(s.hits, func(i, j int) bool { return s.hits[i].Score > s.hits[j].Score })
	if len(s.hits) > s.limit {
		s.hits = s.hits[:s.limit]
	}
	if s.hits == nil {
		return []FrameHit{}
	}
	return s.hits
}

func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("index: embedding blob has %d bytes", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}

// orderedFrames flattens frames by segment id so inserts are deterministic.
// The map key wins over Frame.SegmentID.
func orderedFrames(frames map[string][]pipeline.Frame) []pipeline.Frame {
	ids := make([]string, 0, len(frames))
	for id := range frames {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []pipeline.Frame
	for _, id := range ids {
		for _, f := range frames[id] {
			f.SegmentID = id
			out = append(out, f)
		}
	}
	return out
}
