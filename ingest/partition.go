package ingest

// Range is one closed block interval processed as a unit of work.
type Range struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// Blocks returns how many blocks the range covers.
func (r Range) Blocks() uint64 { return r.To - r.From + 1 }

// Partition splits the closed interval [from, to] into consecutive
// non-overlapping ranges of at most chunkSize blocks. The ranges cover
// the interval exactly and in order. An inverted interval yields nil.
func Partition(from, to, chunkSize uint64) []Range {
	if to < from {
		return nil
	}
	if chunkSize == 0 {
		chunkSize = 1
	}
	var ranges []Range
	for start := from; ; {
		end := to
		if to-start >= chunkSize {
			end = start + chunkSize - 1
		}
		ranges = append(ranges, Range{From: start, To: end})
		if end == to {
			return ranges
		}
		start = end + 1
	}
}
