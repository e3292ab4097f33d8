package swath

import "sort"

// ParamHistory is the time-ordered runtime-parameter history for one
// file. Snapshots supersede earlier ones going forward in time, never
// retroactively, so lookups are by as-of timestamp.
type ParamHistory struct {
	records []ParameterRecord
}

// Append adds a snapshot, keeping the history sorted by validity start.
// Appends in stream order are the common case and cost nothing.
func (h *ParamHistory) Append(r ParameterRecord) {
	h.records = append(h.records, r)
	n := len(h.records)
	if n > 1 && h.records[n-2].TimeUs > r.TimeUs {
		sort.SliceStable(h.records, func(i, j int) bool {
			return h.records[i].TimeUs < h.records[j].TimeUs
		})
	}
}

// AsOf returns the snapshot in force at the given time: the latest
// record whose validity started at or before it.
func (h *ParamHistory) AsOf(timeUs int64) (ParameterRecord, bool) {
	idx := sort.Search(len(h.records), func(i int) bool {
		return h.records[i].TimeUs > timeUs
	})
	if idx == 0 {
		return ParameterRecord{}, false
	}
	return h.records[idx-1], true
}

// Records returns the full history in time order.
func (h *ParamHistory) Records() []ParameterRecord {
	return h.records
}
