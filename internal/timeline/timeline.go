// Package timeline reconstructs historical DER state from live and archived
// database records into regularly-sampled data streams.
package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/banksia-harness/banksia/internal/store"
	"github.com/banksia-harness/banksia/pkg/types"
)

// farFuture closes intervals that have no natural end, such as a live
// default control.
const farFuture = int64(1) << 62

// candidate is one record competing to supply a sample value. When several
// candidates cover the same instant the highest priority wins; ties fall to
// the latest archive time, then the latest changed time.
type candidate struct {
	priority    int
	archiveUnix int64
	changedUnix int64

	importLimit     *float64
	exportLimit     *float64
	loadLimit       *float64
	generationLimit *float64
}

// Record priorities. An archived version of a record reflects what the
// client actually observed at the time, so it outranks the live row; a
// deletion archive only fills instants nothing else covers.
const (
	priorityDeletion = 1
	priorityLive     = 2
	priorityArchive  = 3
)

func beats(a, b candidate) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	if a.archiveUnix != b.archiveUnix {
		return a.archiveUnix > b.archiveUnix
	}
	return a.changedUnix > b.changedUnix
}

// Engine builds timelines from a database session.
type Engine struct {
	log *slog.Logger
}

// New returns a timeline Engine.
func New(log *slog.Logger) *Engine {
	return &Engine{log: log}
}

// Generate samples DER controls, default controls and readings for the site
// at every interval in [start, end]. Streams with no values at all are
// omitted; a site with no activity yields an empty stream list.
func (g *Engine) Generate(ctx context.Context, sess store.Session, siteID int64, start, end time.Time, intervalSeconds int) (*types.Timeline, error) {
	if intervalSeconds <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %d", intervalSeconds)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("timeline end %s precedes start %s", end, start)
	}
	sampleCount := int(end.Sub(start)/time.Second)/intervalSeconds + 1

	var streams []types.TimelineDataStream

	controls, err := sess.ControlsWithArchive(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("loading control records: %w", err)
	}
	for _, groupID := range controlGroupIDs(controls) {
		candidates, intervals := controlCandidates(controls, groupID)
		prefix := fmt.Sprintf("Control /derp/%d", groupID)
		streams = append(streams, limitStreams(prefix, candidates, intervals, start, intervalSeconds, sampleCount, false)...)
	}

	defaults, err := sess.DefaultControlsWithArchive(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("loading default control records: %w", err)
	}
	candidates, intervals := defaultCandidates(defaults)
	streams = append(streams, limitStreams("Default", candidates, intervals, start, intervalSeconds, sampleCount, true)...)

	readingStreams, err := g.readingStreams(ctx, sess, siteID, start, intervalSeconds, sampleCount)
	if err != nil {
		return nil, err
	}
	streams = append(streams, readingStreams...)

	kept := streams[:0]
	for _, s := range streams {
		if s.HasValues() {
			kept = append(kept, s)
		}
	}
	g.log.Debug("timeline generated", "site", siteID, "samples", sampleCount, "streams", len(kept))

	return &types.Timeline{
		Start:           start,
		IntervalSeconds: intervalSeconds,
		Streams:         kept,
	}, nil
}

// controlGroupIDs returns the distinct control group IDs in ascending order.
// Each group carries its own set of limit channels, so streams are built per
// group rather than over the combined rows.
func controlGroupIDs(rows []store.ControlRecord) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, row := range rows {
		if !seen[row.GroupID] {
			seen[row.GroupID] = true
			ids = append(ids, row.GroupID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// controlCandidates derives one candidate and effective interval per control
// row in the given group. Superseded live rows are skipped entirely; their
// history is carried by archive rows.
func controlCandidates(rows []store.ControlRecord, groupID int64) ([]candidate, []Interval) {
	var candidates []candidate
	var intervals []Interval
	for _, row := range rows {
		if row.GroupID != groupID {
			continue
		}
		startUnix := row.StartTime.Unix()
		endUnix := startUnix + int64(row.DurationSeconds)
		c := candidate{
			changedUnix:     row.ChangedTime.Unix(),
			importLimit:     row.ImportLimitW,
			exportLimit:     row.ExportLimitW,
			loadLimit:       row.LoadLimitW,
			generationLimit: row.GenerationLimitW,
		}

		switch {
		case row.Archived && row.DeletedTime != nil:
			c.priority = priorityDeletion
			c.archiveUnix = timeUnix(row.ArchiveTime)
			endUnix = min64(endUnix, row.DeletedTime.Unix())
		case row.Archived:
			c.priority = priorityArchive
			c.archiveUnix = timeUnix(row.ArchiveTime)
			endUnix = min64(endUnix, c.archiveUnix)
		case row.Superseded:
			continue
		default:
			c.priority = priorityLive
		}

		intervals = append(intervals, Interval{Start: startUnix, End: endUnix, Ref: len(candidates)})
		candidates = append(candidates, c)
	}
	return candidates, intervals
}

// defaultCandidates derives candidates for default controls. Defaults have
// no duration: a live row applies from its change onward, an archived row
// until it was archived.
func defaultCandidates(rows []store.DefaultControlRecord) ([]candidate, []Interval) {
	var candidates []candidate
	var intervals []Interval
	for _, row := range rows {
		startUnix := row.ChangedTime.Unix()
		endUnix := farFuture
		c := candidate{
			priority:        priorityLive,
			changedUnix:     startUnix,
			importLimit:     row.ImportLimitW,
			exportLimit:     row.ExportLimitW,
			loadLimit:       row.LoadLimitW,
			generationLimit: row.GenerationLimitW,
		}
		if row.Archived {
			c.priority = priorityArchive
			c.archiveUnix = timeUnix(row.ArchiveTime)
			endUnix = c.archiveUnix
		}

		intervals = append(intervals, Interval{Start: startUnix, End: endUnix, Ref: len(candidates)})
		candidates = append(candidates, c)
	}
	return candidates, intervals
}

// limitStreams samples the four limit fields off the winning candidate at
// each instant. Export and generation limits are negated so charts show
// them below the axis.
func limitStreams(prefix string, candidates []candidate, intervals []Interval, start time.Time, intervalSeconds, sampleCount int, dashed bool) []types.TimelineDataStream {
	tree := NewTree(intervals)

	fields := []struct {
		label  string
		pick   func(candidate) *float64
		negate bool
	}{
		{prefix + " import limit (W)", func(c candidate) *float64 { return c.importLimit }, false},
		{prefix + " export limit (W)", func(c candidate) *float64 { return c.exportLimit }, true},
		{prefix + " load limit (W)", func(c candidate) *float64 { return c.loadLimit }, false},
		{prefix + " generation limit (W)", func(c candidate) *float64 { return c.generationLimit }, true},
	}

	streams := make([]types.TimelineDataStream, len(fields))
	for i, f := range fields {
		streams[i] = types.TimelineDataStream{
			Label:   f.label,
			Values:  make([]*int, sampleCount),
			Stepped: true,
			Dashed:  dashed,
		}
	}

	for n := 0; n < sampleCount; n++ {
		at := start.Unix() + int64(n*intervalSeconds)
		var winner *candidate
		tree.Stab(at, func(iv Interval) {
			c := candidates[iv.Ref]
			if winner == nil || beats(c, *winner) {
				winner = &c
			}
		})
		if winner == nil {
			continue
		}
		for i, f := range fields {
			if v := f.pick(*winner); v != nil {
				sample := int(math.Round(*v))
				if f.negate {
					sample = -sample
				}
				streams[i].Values[n] = &sample
			}
		}
	}
	return streams
}

// readingStreams samples submitted readings. Zero-duration readings cover no
// instant and are dropped.
func (g *Engine) readingStreams(ctx context.Context, sess store.Session, siteID int64, start time.Time, intervalSeconds, sampleCount int) ([]types.TimelineDataStream, error) {
	sources := []struct {
		label    string
		location store.ReadingLocation
		uom      int
	}{
		{"Site active power (W)", store.SiteReading, store.UomRealPowerWatt},
		{"Site reactive power (var)", store.SiteReading, store.UomReactivePowerVar},
		{"Site voltage (V)", store.SiteReading, store.UomVoltage},
		{"DER active power (W)", store.DeviceReading, store.UomRealPowerWatt},
		{"DER reactive power (var)", store.DeviceReading, store.UomReactivePowerVar},
		{"DER voltage (V)", store.DeviceReading, store.UomVoltage},
	}

	var streams []types.TimelineDataStream
	for _, src := range sources {
		readingTypes, err := sess.ReadingTypes(ctx, siteID, src.location, src.uom, store.KindPower, store.QualifierAverage)
		if err != nil {
			return nil, fmt.Errorf("loading reading types: %w", err)
		}

		type sample struct {
			value     int
			startUnix int64
		}
		var samples []sample
		var intervals []Interval
		for _, rt := range readingTypes {
			readings, err := sess.Readings(ctx, rt.ReadingTypeID)
			if err != nil {
				return nil, fmt.Errorf("loading readings for type %d: %w", rt.ReadingTypeID, err)
			}
			scale := math.Pow(10, float64(rt.PowerOfTenMultiplier))
			for _, r := range readings {
				if r.TimePeriodSeconds <= 0 {
					continue
				}
				startUnix := r.TimePeriodStart.Unix()
				intervals = append(intervals, Interval{
					Start: startUnix,
					End:   startUnix + int64(r.TimePeriodSeconds),
					Ref:   len(samples),
				})
				samples = append(samples, sample{
					value:     int(math.Round(float64(r.Value) * scale)),
					startUnix: startUnix,
				})
			}
		}

		tree := NewTree(intervals)
		stream := types.TimelineDataStream{
			Label:  src.label,
			Values: make([]*int, sampleCount),
		}
		for n := 0; n < sampleCount; n++ {
			at := start.Unix() + int64(n*intervalSeconds)
			var best *sample
			tree.Stab(at, func(iv Interval) {
				s := samples[iv.Ref]
				if best == nil || s.startUnix > best.startUnix {
					best = &s
				}
			})
			if best != nil {
				v := best.value
				stream.Values[n] = &v
			}
		}
		streams = append(streams, stream)
	}
	return streams, nil
}

func timeUnix(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.Unix()
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
