// Package introspect exposes a point-in-time snapshot of manager-wide
// counters as a raw byte layout, and converts the same snapshot into a
// google/pprof profile for external tooling.
//
// The byte-layout half is grounded on biscuit's stat.Stat_t
// (src/stat/stat.go): a struct of plain-old-data fields exposed to a
// caller as raw bytes via unsafe.Pointer rather than through an
// encoding package, for a cheap copy-out of a fixed-size record. The
// pprof half is new surface area the distilled spec doesn't ask for
// but SPEC_FULL.md adds so google/pprof (present in the teacher's own
// go.mod as its compiler's symbolizer dependency) has a concrete home
// in this domain instead of only existing to serve biscuit's forked
// toolchain.
package introspect

import (
	"unsafe"

	"github.com/google/pprof/profile"
)

// Snapshot is a fixed-size, point-in-time copy of the manager's
// counters. All fields are plain integers so Bytes can hand out a raw
// view without an encoder.
type Snapshot struct {
	TotalPages     int64
	FreePages      int64
	ClustersRun    int64
	PagesSelected  int64
	PagesVetoed    int64
	PagesReclaimed int64
	NotTrackedHits int64
	AllocBlockedNs int64
	ReclaimNs      int64
}

// Bytes exposes the snapshot's fields as a raw byte slice, in struct
// layout order. The caller must not hold onto the slice past the
// Snapshot's lifetime, since it aliases the struct's own memory.
func (s *Snapshot) Bytes() []uint8 {
	const sz = unsafe.Sizeof(*s)
	sl := (*[sz]uint8)(unsafe.Pointer(s))
	return sl[:]
}

// Profile converts the snapshot into a minimal pprof profile with one
// sample per counted phase, so the manager's activity can be inspected
// with standard pprof tooling (`go tool pprof`) without a live HTTP
// endpoint.
func (s *Snapshot) Profile() *profile.Profile {
	countType := &profile.ValueType{Type: "count", Unit: "count"}
	nsType := &profile.ValueType{Type: "time", Unit: "nanoseconds"}

	mkFn := func(id uint64, name string) *profile.Function {
		return &profile.Function{ID: id, Name: name, SystemName: name}
	}
	mkLoc := func(id uint64, fn *profile.Function) *profile.Location {
		return &profile.Location{ID: id, Line: []profile.Line{{Function: fn, Line: 1}}}
	}

	phases := []struct {
		name  string
		count int64
	}{
		{"select", s.PagesSelected},
		{"veto", s.PagesVetoed},
		{"reclaim", s.PagesReclaimed},
		{"not_tracked_retry", s.NotTrackedHits},
	}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{countType},
	}
	for i, ph := range phases {
		id := uint64(i + 1)
		fn := mkFn(id, "reclaim."+ph.name)
		loc := mkLoc(id, fn)
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{ph.count},
		})
	}

	p.SampleType = append(p.SampleType, nsType)
	for _, sample := range p.Sample {
		sample.Value = append(sample.Value, 0)
	}
	p.Sample = append(p.Sample, &profile.Sample{
		Location: []*profile.Location{p.Location[len(p.Location)-1]},
		Value:    []int64{0, s.ReclaimNs},
		Label:    map[string][]string{"phase": {"reclaim_total"}},
	})

	return p
}
