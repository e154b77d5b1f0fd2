// Package api provides HTTP handlers for the parcel server.
package api

import (
	"context"
	"encoding/json"
	"image/color"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/agromap/server/internal/cache"
	"github.com/agromap/server/internal/metrics"
	"github.com/agromap/server/internal/parcels"
	"github.com/agromap/server/internal/render"
	"github.com/agromap/server/internal/service"
	"github.com/agromap/server/pkg/colormap"
)

const (
	cropDistributionSize     = 15
	categoryDistributionSize = 10
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *DatasetRegistry
	CORSOrigins []string
	// Responses caches encoded features and previews. Optional.
	Responses *cache.Manager
	Renderer  *render.PreviewRenderer
	// DefaultMaxFeatures applies when a request has no max_features.
	DefaultMaxFeatures int
	Logger             *zap.Logger
}

type handlers struct {
	responses  *cache.Manager
	renderer   *render.PreviewRenderer
	defaultMax int
	log        *zap.Logger
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &handlers{
		responses:  cfg.Responses,
		renderer:   cfg.Renderer,
		defaultMax: cfg.DefaultMaxFeatures,
		log:        log,
	}
	if h.renderer == nil {
		h.renderer = render.NewPreviewRenderer(render.Config{})
	}
	if h.defaultMax == 0 {
		h.defaultMax = service.DefaultMaxFeatures
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"X-Cache", "X-Request-Id"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	// Global datasets endpoint (not dataset-scoped)
	r.Get("/api/datasets", datasetsHandler(cfg.Registry))

	datasetRoutes := func(r chi.Router) {
		r.Get("/api/features", h.features)
		r.Post("/api/features", h.features)
		r.Get("/api/stats", statsHandler)
		r.Get("/api/metadata", metadataHandler)
		r.Get("/preview.png", h.preview)
		r.Post("/preview.png", h.preview)
	}

	// Dataset-scoped routes: /d/{dataset}/...
	r.Route("/d/{dataset}", func(r chi.Router) {
		r.Use(datasetMiddleware(cfg.Registry))
		datasetRoutes(r)
	})

	// Default dataset aliases: /api/features, /api/stats, ...
	r.Group(func(r chi.Router) {
		r.Use(defaultDatasetMiddleware(cfg.Registry))
		datasetRoutes(r)
	})

	return r
}

// requestLogger logs each request with zap and counts it by route pattern.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

// Context key for dataset service
type ctxKey string

const datasetServiceKey ctxKey = "datasetService"

// datasetMiddleware resolves the dataset from URL and injects the query service into context.
func datasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			datasetID := chi.URLParam(r, "dataset")
			svc := registry.Get(datasetID)
			if svc == nil {
				writeError(w, http.StatusNotFound, "dataset not found: "+datasetID)
				return
			}
			ctx := context.WithValue(r.Context(), datasetServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func defaultDatasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			svc := registry.Default()
			if svc == nil {
				writeError(w, http.StatusNotFound, "no default dataset")
				return
			}
			ctx := context.WithValue(r.Context(), datasetServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getDatasetService(r *http.Request) *service.QueryService {
	if svc, ok := r.Context().Value(datasetServiceKey).(*service.QueryService); ok {
		return svc
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// datasetsHandler returns the list of available datasets.
func datasetsHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"default":  registry.DefaultDatasetID(),
			"datasets": registry.Datasets(),
			"title":    registry.Title(),
		})
	}
}

type featuresResponse struct {
	Type     string             `json:"type"`
	Features []*geojson.Feature `json:"features"`
	Stats    featureStats       `json:"stats"`
}

type featureStats struct {
	TotalParcels         int            `json:"total_parcels"`
	Returned             int            `json:"returned"`
	Sampled              bool           `json:"sampled"`
	QueryTime            float64        `json:"query_time"`
	BBox                 string         `json:"bbox"`
	CropDistribution     map[string]int `json:"crop_distribution"`
	CategoryDistribution map[string]int `json:"category_distribution"`
}

func (h *handlers) features(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	req, err := parseRequest(r, h.defaultMax)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := svc.KeyFor(req)
	cacheable := h.responses != nil && req.Viewport.Valid() && key.Viewport().Valid()
	rk := cache.ResponseKey("features", svc.DatasetID(), key.String())
	if cacheable {
		if data, ok := h.responses.GetResponse(rk); ok {
			writeCached(w, "application/json", data, true)
			return
		}
	}

	res, _ := svc.Execute(req)
	data, err := json.Marshal(encodeFeatures(res, svc.Properties()))
	if err != nil {
		h.log.Error("encode features", zap.Error(err), zap.String("dataset", svc.DatasetID()))
		writeError(w, http.StatusInternalServerError, "failed to encode features")
		return
	}
	data = append(data, '\n')

	if cacheable {
		if err := h.responses.SetResponse(rk, data); err != nil {
			h.log.Debug("response not cached", zap.Error(err), zap.Int("bytes", len(data)))
		}
	}
	writeCached(w, "application/json", data, false)
}

func writeCached(w http.ResponseWriter, contentType string, data []byte, hit bool) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.Write(data)
}

func encodeFeatures(res *service.Result, properties []string) featuresResponse {
	fs := make([]*geojson.Feature, len(res.Parcels))
	for i, p := range res.Parcels {
		f := geojson.NewFeature(p.Geometry)
		f.ID = p.ID
		f.Properties = selectProperties(p, properties)
		fs[i] = f
	}
	return featuresResponse{
		Type:     "FeatureCollection",
		Features: fs,
		Stats: featureStats{
			TotalParcels:         res.Matched,
			Returned:             res.Returned,
			Sampled:              res.Sampled,
			QueryTime:            math.Round(res.Elapsed.Seconds()*1000) / 1000,
			BBox:                 res.Viewport.String(),
			CropDistribution:     topCounts(res.Counts, cropDistributionSize),
			CategoryDistribution: topCounts(res.ClassificationCounts, categoryDistributionSize),
		},
	}
}

func selectProperties(p *parcels.Parcel, keep []string) geojson.Properties {
	if len(keep) == 0 {
		props := make(geojson.Properties, len(p.Properties))
		for k, v := range p.Properties {
			props[k] = v
		}
		return props
	}
	props := make(geojson.Properties, len(keep))
	for _, k := range keep {
		if v, ok := p.Properties[k]; ok {
			props[k] = v
		}
	}
	return props
}

func topCounts(counts map[string]int, n int) map[string]int {
	top := parcels.TopN(counts, n)
	out := make(map[string]int, len(top))
	for _, c := range top {
		out[c.Name] = c.Count
	}
	return out
}

func (h *handlers) preview(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	req, err := parseRequest(r, h.defaultMax)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	size, err := parseIntParam(r.URL.Query(), "size", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	size = h.renderer.Size(size)

	key := svc.KeyFor(req)
	cacheable := h.responses != nil && req.Viewport.Valid() && key.Viewport().Valid()
	rk := cache.ResponseKey("preview", svc.DatasetID(), key.String(), size)
	if cacheable {
		if data, ok := h.responses.GetResponse(rk); ok {
			writeCached(w, "image/png", data, true)
			return
		}
	}

	res, _ := svc.Execute(req)
	data, err := h.renderer.Render(res.Viewport.Bound(), res.Parcels, size, colorFunc(svc))
	if err != nil {
		h.log.Error("render preview", zap.Error(err), zap.String("dataset", svc.DatasetID()))
		writeError(w, http.StatusInternalServerError, "failed to render preview")
		return
	}

	if cacheable {
		if err := h.responses.SetResponse(rk, data); err != nil {
			h.log.Debug("preview not cached", zap.Error(err), zap.Int("bytes", len(data)))
		}
	}
	writeCached(w, "image/png", data, false)
}

func colorFunc(svc *service.QueryService) render.ColorFunc {
	colors := make(map[string]color.Color)
	return func(category string) color.Color {
		if c, ok := colors[category]; ok {
			return c
		}
		var c color.Color = colormap.Fallback
		if rgba, err := colormap.ParseHex(svc.ColorFor(category)); err == nil {
			c = rgba
		}
		colors[category] = c
		return c
	}
}

func statsHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	writeJSON(w, http.StatusOK, svc.Stats())
}

func metadataHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	coll := svc.Collection()
	b := coll.Bounds()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":                       svc.DatasetID(),
		"title":                    svc.Title(),
		"parcels":                  coll.Len(),
		"source_epsg":              coll.SourceEPSG(),
		"category_attribute":       coll.CategoryAttribute(),
		"classification_attribute": coll.ClassificationAttribute(),
		"id_attribute":             coll.IDAttribute(),
		"properties":               svc.Properties(),
		"bounds":                   [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]},
		"palette":                  svc.Palette(),
	})
}
