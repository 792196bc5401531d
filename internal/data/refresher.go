package data

import (
	"log/slog"
	"sync/atomic"

	"github.com/thiagokokada/vcslog/internal/eventloop"
	"github.com/thiagokokada/vcslog/internal/graph"
	"github.com/thiagokokada/vcslog/internal/vcs"
)

// VisiblePackRefresher keeps a visible pack up to date with the published data pack and
// the current filters, sort order and commit count stage.
type VisiblePackRefresher struct {
	data   *LogData
	worker *eventloop.Loop
	sub    *Subscription

	// Owned by the worker.
	pack         *DataPack
	filters      vcs.FilterCollection
	sort         graph.SortType
	stage        CommitCountStage
	initialStage CommitCountStage

	request atomic.Uint64
	current atomic.Pointer[VisiblePack]

	// Owned by the publication loop.
	listeners []func(*VisiblePack)
}

func NewVisiblePackRefresher(d *LogData, sort graph.SortType, filters vcs.FilterCollection, stage CommitCountStage) *VisiblePackRefresher {
	r := &VisiblePackRefresher{
		data:         d,
		worker:       eventloop.New("visible"),
		filters:      filters,
		sort:         sort,
		stage:        stage,
		initialStage: stage,
	}
	r.sub = d.Subscribe(r.dataPackChanged)
	return r
}

// OnVisiblePackChanged registers fn to be called on the publication loop with the current
// visible pack, if any, and then with every new one.
func (r *VisiblePackRefresher) OnVisiblePackChanged(fn func(*VisiblePack)) {
	r.data.loop.Post(func() {
		r.listeners = append(r.listeners, fn)
		if current := r.current.Load(); current != nil {
			fn(current)
		}
	})
}

// Current returns the latest visible pack, or nil before the first build.
func (r *VisiblePackRefresher) Current() *VisiblePack {
	return r.current.Load()
}

// SetFilters replaces the filters and restarts from the initial stage.
func (r *VisiblePackRefresher) SetFilters(filters vcs.FilterCollection) {
	r.schedule(func() {
		r.filters = filters
		r.stage = r.initialStage
	})
}

func (r *VisiblePackRefresher) SetSort(sort graph.SortType) {
	r.schedule(func() { r.sort = sort })
}

// MoreCommitsNeeded moves to the next commit count stage when the current visible pack
// says more matches may exist.
func (r *VisiblePackRefresher) MoreCommitsNeeded() {
	r.schedule(func() {
		if current := r.current.Load(); current != nil && !current.CanRequestMore() {
			return
		}
		r.stage = r.stage.Next()
	})
}

func (r *VisiblePackRefresher) dataPackChanged(pack *DataPack) {
	r.schedule(func() {
		if r.pack == nil || pack.Seq() >= r.pack.Seq() {
			r.pack = pack
		}
	})
}

// schedule applies update on the worker and rebuilds. Updates always run; only the latest
// scheduled rebuild does the work.
func (r *VisiblePackRefresher) schedule(update func()) {
	id := r.request.Add(1)
	r.worker.Post(func() {
		update()
		if id != r.request.Load() {
			return
		}
		r.rebuild()
	})
}

func (r *VisiblePackRefresher) rebuild() {
	if r.pack == nil {
		return
	}
	vp, err := r.data.builder.Build(r.data.ctx, r.pack, r.sort, r.filters, r.stage)
	if err != nil {
		slog.Debug("visible pack build canceled", slog.Any("error", err))
		return
	}
	r.current.Store(vp)
	slog.Debug("visible pack rebuilt",
		slog.Int("rows", vp.Graph().Len()),
		slog.Bool("can_request_more", vp.CanRequestMore()),
	)
	r.data.loop.Post(func() {
		for _, fn := range r.listeners {
			fn(vp)
		}
	})
}

func (r *VisiblePackRefresher) Close() {
	r.data.Unsubscribe(r.sub)
	r.worker.Close()
}
