package pipeline

import (
	"fmt"
	"strings"
)

// Aggregation controls how sub-word records are combined.
type Aggregation string

const (
	AggregationNone   Aggregation = "none"
	AggregationSimple Aggregation = "simple"
	AggregationFirst  Aggregation = "first"
)

func ParseAggregation(s string) (Aggregation, error) {
	switch Aggregation(strings.ToLower(strings.TrimSpace(s))) {
	case "", AggregationNone:
		return AggregationNone, nil
	case AggregationSimple:
		return AggregationSimple, nil
	case AggregationFirst:
		return AggregationFirst, nil
	default:
		return "", fmt.Errorf("unknown aggregation strategy %q", s)
	}
}

func aggregate(text []rune, records []Record, strategy Aggregation) []Record {
	switch strategy {
	case AggregationSimple:
		return groupEntities(text, records)
	case AggregationFirst:
		return firstPerWord(text, records)
	default:
		return records
	}
}

// splitTag splits a BIO label. Labels without a B- or I- prefix come back
// with an empty prefix.
func splitTag(label string) (prefix, tag string) {
	if len(label) > 2 && label[1] == '-' && (label[0] == 'B' || label[0] == 'I') {
		return label[:1], label[2:]
	}
	return "", label
}

// groupEntities merges runs of B-/I- tokens of the same type into one group
// scored by the mean of its members. Labels without a BIO prefix only absorb
// their own continuation pieces.
func groupEntities(text []rune, records []Record) []Record {
	out := make([]Record, 0, len(records))
	var cur *Record
	count := 0
	flush := func() {
		if cur == nil {
			return
		}
		cur.Score /= float64(count)
		cur.Word = substring(text, cur.Start, cur.End)
		out = append(out, *cur)
		cur = nil
		count = 0
	}
	for _, r := range records {
		prefix, tag := splitTag(r.Entity)
		continues := cur != nil && cur.EntityGroup == tag &&
			(prefix == "I" || (prefix == "" && r.Subword))
		if !continues {
			flush()
			cur = &Record{EntityGroup: tag, Score: r.Score, Start: r.Start, End: r.End}
			count = 1
			continue
		}
		cur.End = r.End
		cur.Score += r.Score
		count++
	}
	flush()
	return out
}

// firstPerWord collapses continuation pieces into the word they belong to.
// The word keeps the label, score and index of its first piece.
func firstPerWord(text []rune, records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Subword && len(out) > 0 {
			last := &out[len(out)-1]
			last.End = r.End
			last.Word = substring(text, last.Start, last.End)
			continue
		}
		r.Subword = false
		if w := substring(text, r.Start, r.End); w != "" {
			r.Word = w
		}
		out = append(out, r)
	}
	return out
}

func filterLabels(records []Record, ignore map[string]struct{}) []Record {
	if len(ignore) == 0 {
		return records
	}
	out := records[:0]
	for _, r := range records {
		if _, skip := ignore[r.Label()]; skip {
			continue
		}
		out = append(out, r)
	}
	return out
}

// substring slices text by character offsets, clamping out-of-range values.
func substring(text []rune, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(text) {
		end = len(text)
	}
	if start >= end {
		return ""
	}
	return string(text[start:end])
}
