package chat

import "sort"

// Merge combines two message batches into one deduplicated, ordered log.
// Deduplication is by message ID with the incoming copy winning (full object,
// not just status), which is how a pending local entry is upgraded once the
// server echo carries the same id. Ordering is Seq ascending with CreatedAt as
// tie-break; pending messages carry a provisional Seq equal to their CreatedAt
// and therefore stay at the live tail until reconciled.
//
// Merge is pure: inputs are never mutated and the result is a fresh slice.
func Merge(existing, incoming []Message) []Message {
	byID := make(map[string]int, len(existing)+len(incoming))
	merged := make([]Message, 0, len(existing)+len(incoming))

	for _, m := range existing {
		if i, ok := byID[m.ID]; ok {
			merged[i] = m
			continue
		}
		byID[m.ID] = len(merged)
		merged = append(merged, m)
	}
	for _, m := range incoming {
		if i, ok := byID[m.ID]; ok {
			merged[i] = m
			continue
		}
		byID[m.ID] = len(merged)
		merged = append(merged, m)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Seq != merged[j].Seq {
			return merged[i].Seq < merged[j].Seq
		}
		return merged[i].CreatedAt < merged[j].CreatedAt
	})
	return merged
}

// maxSeq returns the highest seq in the batch, or 0 for an empty batch.
func maxSeq(msgs []Message) int64 {
	var max int64
	for _, m := range msgs {
		if m.Seq > max {
			max = m.Seq
		}
	}
	return max
}
