// Package propagation estimates how sound energy travels from sources to
// listeners through a scene. Discrete paths (direct, diffracted,
// transmitted) are solved deterministically; reverberation is estimated
// with two ray passes: specular paths traced from every source and
// detected at listener spheres, and diffuse paths traced from every
// listener and connected to the sources.
package propagation

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Faultbox/rlr-audio/internal/ir"
)

// Engine runs propagation and keeps the smoothing state between runs. It
// is not safe for concurrent Runs.
type Engine struct {
	log  *zap.Logger
	runs uint64

	history map[pairID]*history
}

type pairID struct {
	listener, source int
}

// history is the smoothed reverberation of one pair and the positions it
// was last computed for.
type history struct {
	echogram *ir.Echogram
	listener r3.Vec
	source   r3.Vec
}

// New creates an engine logging to log.
func New(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{log: log, history: make(map[pairID]*history)}
}

// Reset drops all smoothing state.
func (e *Engine) Reset() {
	e.history = make(map[pairID]*history)
	e.runs = 0
}

// job is one unit of parallel work: a ray batch of the source or listener
// pass, or with both negative the discrete paths of pair.
type job struct {
	pair     int // listener*sources + source
	source   int
	listener int
	first    int // first ray of the batch
	count    int
}

// Run propagates every source to every listener. The result does not
// depend on set.Threads. On cancellation nothing is kept and the context
// error is returned.
func (e *Engine) Run(ctx context.Context, set Settings, in Input) (*Result, error) {
	start := time.Now()
	if in.Scene == nil {
		in.Scene = &Scene{}
	}
	if set.TemporalCoherence {
		set.Seed += e.runs
	}
	tr := newTracer(&set, in.Scene)
	nl, ns, nb := len(in.Listeners), len(in.Sources), len(set.Bands)

	jobs := plan(set, nl, ns)
	pairs := make([]Pair, nl*ns)
	batches := make([]*batch, len(jobs))

	err := parallel(ctx, set.Threads, len(jobs), func(i int) {
		j := jobs[i]
		switch {
		case j.source >= 0:
			batches[i] = tr.traceSource(j.source, in.Sources[j.source], in.Listeners, j.first, j.count)
		case j.listener >= 0:
			batches[i] = tr.traceListener(j.listener, in.Listeners[j.listener], in.Sources, j.first, j.count)
		default:
			l, s := in.Listeners[j.pair/ns], in.Sources[j.pair%ns]
			p := &pairs[j.pair]
			p.Breakdown = newBreakdown(nb)
			p.Arrivals = tr.discrete(s, l, &p.Breakdown)
		}
	})
	if err != nil {
		e.log.Debug("propagation cancelled", zap.Error(err))
		return nil, fmt.Errorf("propagation: %w", err)
	}

	res := &Result{Pairs: make([][]Pair, nl)}
	for li := range res.Pairs {
		res.Pairs[li] = pairs[li*ns : (li+1)*ns]
	}
	if set.Indirect {
		e.merge(set, in, res, batches)
	}
	e.smooth(set, in, res)
	e.runs++

	if res.Rays > 0 {
		res.RayEfficiency = float64(res.ContributingRays) / float64(res.Rays)
	}
	if res.IndirectRays > 0 {
		res.IndirectRayEfficiency = float64(res.IndirectContributing) / float64(res.IndirectRays)
	}
	e.log.Debug("propagation finished",
		zap.Int("listeners", nl),
		zap.Int("sources", ns),
		zap.Int("jobs", len(jobs)),
		zap.Int("rays", res.Rays),
		zap.Float64("ray_efficiency", res.RayEfficiency),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// plan lists the jobs of a run in merge order: discrete pairs, source
// batches, listener batches.
func plan(set Settings, nl, ns int) []job {
	var jobs []job
	for p := 0; p < nl*ns; p++ {
		jobs = append(jobs, job{pair: p, source: -1, listener: -1})
	}
	if !set.Indirect || nl == 0 || ns == 0 {
		return jobs
	}
	split := func(rays int, mk func(first, count int) job) {
		for first := 0; first < rays; first += batchSize {
			jobs = append(jobs, mk(first, min(batchSize, rays-first)))
		}
	}
	for s := 0; s < ns; s++ {
		split(set.SourceRays, func(first, count int) job {
			return job{source: s, listener: -1, first: first, count: count}
		})
	}
	for l := 0; l < nl; l++ {
		split(set.IndirectRays, func(first, count int) job {
			return job{source: -1, listener: l, first: first, count: count}
		})
	}
	return jobs
}

// merge folds the batch outputs into per-pair echograms in job order, so
// the floating-point summation order is fixed.
func (e *Engine) merge(set Settings, in Input, res *Result, batches []*batch) {
	nb := len(set.Bands)
	ns := len(in.Sources)
	for li := range res.Pairs {
		for si := range res.Pairs[li] {
			res.Pairs[li][si].Echogram = ir.NewEchogram(set.Bins, nb, set.IndirectOrder, set.BinSeconds)
		}
	}
	scratch := make([]float64, ir.ChannelsForOrder(set.IndirectOrder))
	for _, b := range batches {
		if b == nil {
			continue
		}
		res.Rays += b.rays
		res.ContributingRays += b.contributing
		for _, ev := range b.events {
			p := &res.Pairs[ev.listener][ev.source]
			energy := b.energyOf(ev, nb)
			dir := arrivalDirection(in.Listeners[ev.listener], ev.dir)
			if !p.Echogram.AddDirection(ev.time, energy, dir, scratch) {
				continue
			}
			switch ev.class {
			case classSpecular:
				add(p.Breakdown.Specular, energy)
			case classDiffuse:
				add(p.Breakdown.Diffuse, energy)
			}
		}
	}
	listenerRays := set.IndirectRays * len(in.Listeners)
	if ns > 0 && listenerRays > 0 {
		res.IndirectRays = listenerRays
		for _, b := range batches[len(batches)-listenerJobs(set, len(in.Listeners)):] {
			res.IndirectContributing += b.contributing
		}
	}
}

func listenerJobs(set Settings, nl int) int {
	return nl * ((set.IndirectRays + batchSize - 1) / batchSize)
}

// smooth blends each echogram with its history when temporal coherence is
// on. The history restarts when an entity moved beyond its radius or the
// histogram shape changed.
func (e *Engine) smooth(set Settings, in Input, res *Result) {
	if !set.TemporalCoherence {
		e.history = make(map[pairID]*history)
		return
	}
	beta := 1.0
	if set.UpdateDt > 0 && set.CoherenceTime > 0 {
		beta = 1 - math.Exp(-set.UpdateDt/set.CoherenceTime)
	}
	e.prune(in)
	for li, l := range in.Listeners {
		for si, s := range in.Sources {
			p := &res.Pairs[li][si]
			if p.Echogram == nil {
				continue
			}
			id := pairID{listener: l.ID, source: s.ID}
			h, ok := e.history[id]
			moved := ok && (r3.Norm(r3.Sub(h.listener, l.Position)) > l.Radius ||
				r3.Norm(r3.Sub(h.source, s.Position)) > s.Radius)
			if !ok || moved || h.echogram.Blend(p.Echogram, beta) != nil {
				h = &history{echogram: p.Echogram.Clone()}
				e.history[id] = h
			}
			h.listener, h.source = l.Position, s.Position
			p.Echogram = h.echogram.Clone()
		}
	}
}

// parallel calls fn(i) for i in [0, n) on up to threads goroutines and
// stops handing out work once ctx is done.
func parallel(ctx context.Context, threads, n int, fn func(i int)) error {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	threads = max(1, min(threads, n))

	var wg sync.WaitGroup
	next := make(chan int)
	wg.Add(threads)
	for w := 0; w < threads; w++ {
		go func() {
			defer wg.Done()
			for i := range next {
				fn(i)
			}
		}()
	}

	var err error
feed:
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		case next <- i:
		}
	}
	close(next)
	wg.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// prune drops the history of pairs whose listener or source is gone.
func (e *Engine) prune(in Input) {
	listeners := make(map[int]bool, len(in.Listeners))
	for _, l := range in.Listeners {
		listeners[l.ID] = true
	}
	sources := make(map[int]bool, len(in.Sources))
	for _, s := range in.Sources {
		sources[s.ID] = true
	}
	for id := range e.history {
		if !listeners[id.listener] || !sources[id.source] {
			delete(e.history, id)
		}
	}
}
