package indexer

import "fmt"

// BlockRange is an inclusive range of block numbers.
type BlockRange struct {
	From uint64
	To   uint64
}

// Resume drops the blocks up to and including lastProcessed. It reports
// false when nothing is left to process.
func (r BlockRange) Resume(lastProcessed uint64) (BlockRange, bool) {
	switch {
	case lastProcessed < r.From:
		return r, true
	case lastProcessed >= r.To:
		return BlockRange{}, false
	}
	return BlockRange{From: lastProcessed + 1, To: r.To}, true
}

// Batches cuts the range into consecutive pieces of at most size blocks.
func (r BlockRange) Batches(size uint64) ([]BlockRange, error) {
	if size == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if r.To < r.From {
		return nil, fmt.Errorf("block range %d-%d ends before it starts", r.From, r.To)
	}

	var out []BlockRange
	for start := r.From; ; start += size {
		end := r.To
		if r.To-start >= size {
			end = start + size - 1
		}
		out = append(out, BlockRange{From: start, To: end})
		if end == r.To {
			return out, nil
		}
	}
}
