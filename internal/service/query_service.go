// Package service provides the viewport query engine over a parcel collection.
package service

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/agromap/server/internal/cache"
	"github.com/agromap/server/internal/metrics"
	"github.com/agromap/server/internal/parcels"
	"github.com/agromap/server/pkg/colormap"
)

const (
	DefaultSeed             uint64 = 42
	DefaultPrecision               = 4
	DefaultMaxFeatures             = 1000
	DefaultMaxFeaturesLimit        = 20000
	DefaultQueryCacheSize          = 256

	paletteSize   = 15
	topCategories = 10
)

// QueryServiceConfig contains query service configuration.
type QueryServiceConfig struct {
	DatasetID  string
	Title      string
	Collection *parcels.Collection
	// Cache memoizes results. A 256-entry LRU is used when nil.
	Cache cache.QueryCache[Key, *Result]
	// Seed drives the level-of-detail sampling.
	Seed uint64
	// Precision is the number of decimals viewports are rounded to (default 4).
	Precision        int
	MaxFeaturesLimit int
	// Properties lists the attributes emitted per parcel; all when empty.
	Properties []string
	Logger     *zap.Logger
}

// QueryService answers viewport queries for one dataset. It is safe for concurrent use.
type QueryService struct {
	datasetID  string
	title      string
	coll       *parcels.Collection
	cache      cache.QueryCache[Key, *Result]
	group      singleflight.Group
	seed       uint64
	precision  int
	limit      int
	properties []string
	log        *zap.Logger

	palette map[string]string
}

// Result is the answer to one query. Results are shared through the cache and must not be modified.
type Result struct {
	Viewport    Viewport
	MaxFeatures int
	// Parcels is the returned subset, ascending by parcel index.
	Parcels []*parcels.Parcel
	// Matched counts every parcel intersecting the viewport, before sampling.
	Matched  int
	Returned int
	Sampled  bool
	// Counts and ClassificationCounts are computed over all matched parcels.
	Counts               map[string]int
	ClassificationCounts map[string]int
	Elapsed              time.Duration
}

// CategoryCount is one entry of a frequency table.
type CategoryCount = parcels.CategoryCount

// GlobalStats describes the whole dataset.
type GlobalStats struct {
	TotalParcels            int             `json:"total_parcels"`
	DistinctCategories      int             `json:"total_crops"`
	DistinctClassifications int             `json:"total_categories"`
	TopCategories           []CategoryCount `json:"top_crops"`
	Bounds                  [4]float64      `json:"bounds"`
}

// NewQueryService creates a new query service.
func NewQueryService(cfg QueryServiceConfig) (*QueryService, error) {
	datasetID := cfg.DatasetID
	if datasetID == "" {
		datasetID = "default"
	}

	qc := cfg.Cache
	if qc == nil {
		c, err := cache.NewQueryCache[Key, *Result](cache.PolicyLRU, DefaultQueryCacheSize)
		if err != nil {
			return nil, err
		}
		qc = c
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = DefaultSeed
	}
	precision := cfg.Precision
	if precision <= 0 {
		precision = DefaultPrecision
	}
	limit := cfg.MaxFeaturesLimit
	if limit <= 0 {
		limit = DefaultMaxFeaturesLimit
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &QueryService{
		datasetID:  datasetID,
		title:      cfg.Title,
		coll:       cfg.Collection,
		cache:      qc,
		seed:       seed,
		precision:  precision,
		limit:      limit,
		properties: cfg.Properties,
		log:        log.With(zap.String("dataset", datasetID)),
	}
	s.palette = buildPalette(s.coll.Summary().CategoryCounts)
	metrics.DatasetParcels.WithLabelValues(datasetID).Set(float64(s.coll.Len()))
	return s, nil
}

func (s *QueryService) DatasetID() string               { return s.datasetID }
func (s *QueryService) Title() string                   { return s.title }
func (s *QueryService) Collection() *parcels.Collection { return s.coll }
func (s *QueryService) Properties() []string            { return s.properties }

// Query returns the parcels visible in v, at most maxFeatures of them.
// It never fails: invalid viewports and empty datasets give an empty result.
func (s *QueryService) Query(v Viewport, maxFeatures int) *Result {
	res, _ := s.Execute(Request{Viewport: v, MaxFeatures: maxFeatures})
	return res
}

// Execute runs a query and reports whether it was answered from the cache.
func (s *QueryService) Execute(req Request) (*Result, bool) {
	metrics.QueriesTotal.WithLabelValues(s.datasetID).Inc()

	key := s.KeyFor(req)
	// Rounding can turn a slightly inverted viewport into a valid line.
	if !req.Viewport.Valid() || !key.Viewport().Valid() || s.coll.Len() == 0 || (key.Filtered && key.Categories == "") {
		metrics.EmptyQueriesTotal.WithLabelValues(s.datasetID).Inc()
		s.log.Debug("empty viewport query",
			zap.Stringer("viewport", req.Viewport),
			zap.Int("parcels", s.coll.Len()))
		return emptyResult(key), false
	}

	if res, ok := s.cache.Get(key); ok {
		metrics.QueryCacheHitsTotal.WithLabelValues(s.datasetID).Inc()
		return res, true
	}
	metrics.QueryCacheMissesTotal.WithLabelValues(s.datasetID).Inc()

	v, _, shared := s.group.Do(key.String(), func() (interface{}, error) {
		res := s.compute(key)
		s.cache.Add(key, res)
		return res, nil
	})
	res := v.(*Result)
	if shared {
		s.log.Debug("coalesced viewport query", zap.Stringer("viewport", res.Viewport))
	}
	return res, false
}

// KeyFor returns the cache key of req after rounding and clamping.
func (s *QueryService) KeyFor(req Request) Key {
	v := req.Viewport.Round(s.precision)
	k := Key{
		North:       v.North,
		South:       v.South,
		East:        v.East,
		West:        v.West,
		MaxFeatures: s.clampMaxFeatures(req.MaxFeatures),
	}
	if req.Categories != nil {
		k.Filtered = true
		k.Categories = filterKey(req.Categories)
	}
	return k
}

// clampMaxFeatures caps at the configured limit; negative values mean zero.
func (s *QueryService) clampMaxFeatures(n int) int {
	if n < 0 {
		return 0
	}
	if n > s.limit {
		return s.limit
	}
	return n
}

func emptyResult(key Key) *Result {
	return &Result{
		Viewport:             key.Viewport(),
		MaxFeatures:          key.MaxFeatures,
		Parcels:              []*parcels.Parcel{},
		Counts:               map[string]int{},
		ClassificationCounts: map[string]int{},
	}
}

func (s *QueryService) compute(key Key) *Result {
	start := time.Now()

	matched := s.coll.Intersecting(key.Viewport().Bound())
	if key.Filtered {
		allowed := filterSet(key.Categories)
		kept := matched[:0:0]
		for _, p := range matched {
			if _, ok := allowed[p.Category]; ok {
				kept = append(kept, p)
			}
		}
		matched = kept
	}

	res := emptyResult(key)
	res.Matched = len(matched)
	res.Counts = parcels.CountCategories(matched)
	res.ClassificationCounts = parcels.CountClassifications(matched)

	res.Parcels = deterministicSample(matched, key.MaxFeatures, s.seed)
	if res.Parcels == nil {
		res.Parcels = []*parcels.Parcel{}
	}
	res.Returned = len(res.Parcels)
	res.Sampled = res.Returned < res.Matched
	res.Elapsed = time.Since(start)

	metrics.QueryDurationMs.WithLabelValues(s.datasetID).Observe(float64(res.Elapsed.Microseconds()) / 1000)
	metrics.MatchedParcels.WithLabelValues(s.datasetID).Observe(float64(res.Matched))
	s.log.Debug("viewport query",
		zap.Stringer("viewport", res.Viewport),
		zap.Int("matched", res.Matched),
		zap.Int("returned", res.Returned),
		zap.Duration("elapsed", res.Elapsed))
	return res
}

// Stats returns whole-dataset statistics.
func (s *QueryService) Stats() GlobalStats {
	sum := s.coll.Summary()
	b := s.coll.Bounds()
	return GlobalStats{
		TotalParcels:            sum.Total,
		DistinctCategories:      len(sum.CategoryCounts),
		DistinctClassifications: len(sum.ClassificationCounts),
		TopCategories:           parcels.TopN(sum.CategoryCounts, topCategories),
		Bounds:                  [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]},
	}
}

// Palette maps the most frequent categories to their display colors.
func (s *QueryService) Palette() map[string]string {
	out := make(map[string]string, len(s.palette))
	for k, v := range s.palette {
		out[k] = v
	}
	return out
}

// ColorFor returns the display color of a category.
func (s *QueryService) ColorFor(category string) string {
	if c, ok := s.palette[category]; ok {
		return c
	}
	return colormap.Hex(colormap.Fallback)
}

func buildPalette(counts map[string]int) map[string]string {
	top := parcels.TopN(counts, paletteSize)
	out := make(map[string]string, len(top))
	for i, c := range top {
		out[c.Name] = colormap.Hex(colormap.Crops.AtIndex(i))
	}
	return out
}

// CacheStats reports query cache counters when the cache exposes them.
func (s *QueryService) CacheStats() (cache.QueryStats, bool) {
	if c, ok := s.cache.(interface{ Stats() cache.QueryStats }); ok {
		return c.Stats(), true
	}
	return cache.QueryStats{}, false
}
