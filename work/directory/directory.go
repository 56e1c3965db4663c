package directory

import (
	"sync/atomic"
	"time"

	"chanrelay/work/types"
)

// Generation is an immutable snapshot of the channel table. Once published it
// is never modified, so readers may hold on to it without locking.
type Generation struct {
	Seq     uint64
	BuiltAt time.Time
	records []types.ChannelRecord
	byID    map[int64]int
	byName  map[string][]int
}

// Len returns the number of records in the generation.
func (g *Generation) Len() int {
	return len(g.records)
}

// Records returns a copy of the records in insertion order.
func (g *Generation) Records() []types.ChannelRecord {
	return append([]types.ChannelRecord(nil), g.records...)
}

// GetByID returns the record with the given id.
func (g *Generation) GetByID(id int64) (types.ChannelRecord, bool) {
	i, ok := g.byID[id]
	if !ok {
		return types.ChannelRecord{}, false
	}
	return g.records[i], true
}

// GetByName returns every record carrying name, in insertion order.
func (g *Generation) GetByName(name string) []types.ChannelRecord {
	idx := g.byName[name]
	if len(idx) == 0 {
		return nil
	}
	out := make([]types.ChannelRecord, len(idx))
	for i, j := range idx {
		out[i] = g.records[j]
	}
	return out
}

// ListGrouped returns one entry per distinct name in order of first
// appearance. The representative is the first record inserted under that name.
func (g *Generation) ListGrouped() []types.GroupedChannel {
	out := make([]types.GroupedChannel, 0, len(g.byName))
	for i, rec := range g.records {
		idx := g.byName[rec.Name]
		if idx[0] != i {
			continue
		}
		out = append(out, types.GroupedChannel{ChannelRecord: rec, ServerCount: len(idx)})
	}
	return out
}

// Stage is a generation under construction. It is owned by one builder and is
// invisible to readers until published.
type Stage struct {
	dir *Directory
	gen *Generation
}

// Add assigns rec a fresh id, composes its headers and appends it to the stage.
// The stored record is returned.
func (s *Stage) Add(rec types.ChannelRecord) types.ChannelRecord {
	rec.ID = s.dir.nextID.Add(1)
	rec.Headers = types.HeadersFor(rec.Cookie, rec.UserAgent)

	g := s.gen
	g.byID[rec.ID] = len(g.records)
	g.byName[rec.Name] = append(g.byName[rec.Name], len(g.records))
	g.records = append(g.records, rec)
	return rec
}

// Len returns the number of records staged so far.
func (s *Stage) Len() int {
	return len(s.gen.records)
}

// Directory holds the published generation. Reads never block and always see
// a complete generation.
type Directory struct {
	current atomic.Pointer[Generation]
	nextID  atomic.Int64
	nextSeq atomic.Uint64
}

// New returns a Directory holding an empty generation 0.
func New() *Directory {
	d := &Directory{}
	d.current.Store(newGeneration(0))
	return d
}

func newGeneration(seq uint64) *Generation {
	return &Generation{
		Seq:    seq,
		byID:   make(map[int64]int),
		byName: make(map[string][]int),
	}
}

// Stage begins a new generation isolated from readers.
func (d *Directory) Stage() *Stage {
	return &Stage{dir: d, gen: newGeneration(d.nextSeq.Add(1))}
}

// Publish atomically replaces the current generation with the staged one.
// The stage must not be used afterwards.
func (d *Directory) Publish(s *Stage) *Generation {
	g := s.gen
	g.BuiltAt = time.Now()
	s.gen = nil
	d.current.Store(g)
	return g
}

// Current returns the published generation.
func (d *Directory) Current() *Generation {
	return d.current.Load()
}

// GetByID looks id up in the current generation.
func (d *Directory) GetByID(id int64) (types.ChannelRecord, bool) {
	return d.Current().GetByID(id)
}

// GetByName looks name up in the current generation.
func (d *Directory) GetByName(name string) []types.ChannelRecord {
	return d.Current().GetByName(name)
}

// ListGrouped lists the current generation grouped by name.
func (d *Directory) ListGrouped() []types.GroupedChannel {
	return d.Current().ListGrouped()
}
