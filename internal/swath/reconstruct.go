package swath

// maxPartitions bounds the completion bitmap. Both formats split a ping
// into at most a handful of datagrams; anything larger is corrupt.
const maxPartitions = 64

type inflightPing struct {
	count   int
	seen    uint64
	nseen   int
	parts   [][]Beam
	info    PingInfo
	hasInfo bool
	offset  int64
	record  int
}

// Reconstructor merges ping partitions sharing an identity into
// completed logical pings. Arrival order of partitions is irrelevant;
// duplicates are discarded with a warning and an identity is never
// reopened once complete. It also tracks the attitude and position
// stream so legacy pings, whose records carry neither inline, can be
// stamped with the observation current at ping time.
type Reconstructor struct {
	file     string
	inflight map[PingIdentity]*inflightPing
	order    []PingIdentity
	done     map[PingIdentity]struct{}
	lastAtt  *AttitudeSample
	lastPos  *PositionFix
}

func NewReconstructor(file string) *Reconstructor {
	return &Reconstructor{
		file:     file,
		inflight: make(map[PingIdentity]*inflightPing),
		done:     make(map[PingIdentity]struct{}),
	}
}

// ObserveAttitude records an attitude sample. Samples arrive in stream
// order, so the latest observed is the one current at ping time.
func (r *Reconstructor) ObserveAttitude(s AttitudeSample) {
	r.lastAtt = &s
}

// ObservePosition records a navigation fix.
func (r *Reconstructor) ObservePosition(p PositionFix) {
	r.lastPos = &p
}

// Add accepts one partition. It returns any pings completed by this
// partition together with diagnostics for discarded input.
func (r *Reconstructor) Add(part *PingPartition, recordIndex int, offset int64) ([]LogicalPing, []Diagnostic) {
	var diags []Diagnostic
	if part.Count < 1 || part.Count > maxPartitions {
		diags = append(diags, NewDiagnostic(r.file, recordIndex, offset, MalformedPayload, ERROR,
			"ping %d: partition count %d out of range", part.ID.Counter, part.Count))
		return nil, diags
	}
	if part.Index < 0 || part.Index >= part.Count {
		diags = append(diags, NewDiagnostic(r.file, recordIndex, offset, MalformedPayload, ERROR,
			"ping %d: partition index %d outside 0..%d", part.ID.Counter, part.Index, part.Count-1))
		return nil, diags
	}
	if _, ok := r.done[part.ID]; ok {
		diags = append(diags, NewDiagnostic(r.file, recordIndex, offset, DuplicatePartition, WARN,
			"ping %d: partition %d/%d arrived after ping was complete", part.ID.Counter, part.Index+1, part.Count))
		return nil, diags
	}

	f, ok := r.inflight[part.ID]
	if !ok {
		f = &inflightPing{
			count:  part.Count,
			parts:  make([][]Beam, part.Count),
			offset: offset,
			record: recordIndex,
		}
		r.inflight[part.ID] = f
		r.order = append(r.order, part.ID)
	}
	if part.Count != f.count {
		diags = append(diags, NewDiagnostic(r.file, recordIndex, offset, MalformedPayload, ERROR,
			"ping %d: partition declares count %d, earlier partitions declared %d", part.ID.Counter, part.Count, f.count))
		return nil, diags
	}
	bit := uint64(1) << uint(part.Index)
	if f.seen&bit != 0 {
		diags = append(diags, NewDiagnostic(r.file, recordIndex, offset, DuplicatePartition, WARN,
			"ping %d: partition %d/%d seen twice", part.ID.Counter, part.Index+1, part.Count))
		return nil, diags
	}
	f.seen |= bit
	f.nseen++
	f.parts[part.Index] = part.Beams
	if !f.hasInfo || part.Index == 0 {
		f.info = part.Info
		f.hasInfo = true
	}

	if f.nseen < f.count {
		return nil, diags
	}
	ping := r.assemble(part.ID, f, false)
	delete(r.inflight, part.ID)
	r.done[part.ID] = struct{}{}
	return []LogicalPing{ping}, diags
}

// Flush emits pings still awaiting partitions when the stream ends.
// Partial beam data is worth more than silence here, so each is
// assembled from whatever arrived and flagged incomplete.
func (r *Reconstructor) Flush() ([]LogicalPing, []Diagnostic) {
	var pings []LogicalPing
	var diags []Diagnostic
	for _, id := range r.order {
		f, ok := r.inflight[id]
		if !ok {
			continue
		}
		diags = append(diags, NewDiagnostic(r.file, f.record, f.offset, IncompletePing, WARN,
			"ping %d: stream ended with %d of %d partitions", id.Counter, f.nseen, f.count))
		pings = append(pings, r.assemble(id, f, true))
		delete(r.inflight, id)
		r.done[id] = struct{}{}
	}
	r.order = r.order[:0]
	return pings, diags
}

func (r *Reconstructor) assemble(id PingIdentity, f *inflightPing, incomplete bool) LogicalPing {
	total := 0
	for _, p := range f.parts {
		total += len(p)
	}
	beams := make([]Beam, 0, total)
	for _, p := range f.parts {
		beams = append(beams, p...)
	}

	info := f.info
	if !info.HasAttitude && r.lastAtt != nil {
		info.HeaveM = r.lastAtt.HeaveM
		info.RollDeg = r.lastAtt.RollDeg
		info.PitchDeg = r.lastAtt.PitchDeg
		if info.HeadingDeg == 0 {
			info.HeadingDeg = r.lastAtt.HeadingDeg
		}
	}
	if !info.HasPosition && r.lastPos != nil {
		info.Latitude = r.lastPos.Latitude
		info.Longitude = r.lastPos.Longitude
	}

	return LogicalPing{
		ID:           id,
		Latitude:     info.Latitude,
		Longitude:    info.Longitude,
		HeadingDeg:   info.HeadingDeg,
		HeaveM:       info.HeaveM,
		RollDeg:      info.RollDeg,
		PitchDeg:     info.PitchDeg,
		SoundSpeedMS: info.SoundSpeedMS,
		TxDepthM:     info.TxDepthM,
		PingMode:     info.PingMode,
		PulseForm:    info.PulseForm,
		SwathMode:    info.SwathMode,
		FrequencyHz:  info.FrequencyHz,
		Beams:        beams,
		Incomplete:   incomplete,
	}
}
