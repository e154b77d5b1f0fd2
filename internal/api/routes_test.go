package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/agromap/server/internal/cache"
	"github.com/agromap/server/internal/parcels"
	"github.com/agromap/server/internal/render"
	"github.com/agromap/server/internal/service"
)

var crops = []string{"Maize", "Wheat", "Olive"}

// setupRouter serves ten 0.1° parcels along the equator at x = 0..9 as dataset "test".
func setupRouter(t *testing.T) http.Handler {
	t.Helper()

	fs := make([]*geojson.Feature, 10)
	for i := range fs {
		x := float64(i)
		f := geojson.NewFeature(orb.Polygon{{{x, 0}, {x + 0.1, 0}, {x + 0.1, 0.1}, {x, 0.1}, {x, 0}}})
		f.Properties["crop"] = crops[i%3]
		f.Properties["group"] = "G" + crops[i%3][:1]
		f.Properties["name"] = fmt.Sprintf("p%d", i)
		f.Properties["owner"] = "hidden"
		fs[i] = f
	}
	coll, err := parcels.FromFeatures(fs, 4326, parcels.Options{
		CategoryAttribute:       "crop",
		ClassificationAttribute: "group",
		IDAttribute:             "name",
	})
	if err != nil {
		t.Fatalf("failed to build collection: %v", err)
	}

	svc, err := service.NewQueryService(service.QueryServiceConfig{
		DatasetID:        "test",
		Title:            "Test parcels",
		Collection:       coll,
		MaxFeaturesLimit: 100,
		Properties:       []string{"crop", "name"},
	})
	if err != nil {
		t.Fatalf("failed to create query service: %v", err)
	}

	cacheManager, err := cache.NewManager(cache.Config{
		ResponseCacheSizeMB: 16,
		ResponseTTL:         time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to initialize cache: %v", err)
	}
	t.Cleanup(func() { cacheManager.Close() })

	registry := NewDatasetRegistry("test", []string{"test"}, "")
	registry.Register("test", svc)

	return NewRouter(RouterConfig{
		Registry:    registry,
		CORSOrigins: []string{"*"},
		Responses:   cacheManager,
		Renderer:    render.NewPreviewRenderer(render.Config{PreviewSize: 128, MaxPreviewSize: 256}),
	})
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type featuresBody struct {
	Type     string `json:"type"`
	Features []struct {
		ID         string                 `json:"id"`
		Properties map[string]interface{} `json:"properties"`
	} `json:"features"`
	Stats featureStats `json:"stats"`
}

func decodeFeatures(t *testing.T, rec *httptest.ResponseRecorder) featuresBody {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body featuresBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body
}

const threeParcels = "north=0.5&south=-0.5&east=2.5&west=-0.5"

func TestHealthEndpoint(t *testing.T) {
	rec := do(t, setupRouter(t), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("unexpected health response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestDatasetsEndpoint(t *testing.T) {
	rec := do(t, setupRouter(t), http.MethodGet, "/api/datasets", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Default  string        `json:"default"`
		Datasets []DatasetInfo `json:"datasets"`
		Title    string        `json:"title"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Default != "test" {
		t.Errorf("expected default 'test', got %q", body.Default)
	}
	if len(body.Datasets) != 1 || body.Datasets[0].Name != "Test parcels" || body.Datasets[0].Parcels != 10 {
		t.Errorf("unexpected datasets: %+v", body.Datasets)
	}
}

func TestFeaturesEndpoint(t *testing.T) {
	router := setupRouter(t)

	for _, path := range []string{"/api/features?", "/d/test/api/features?"} {
		t.Run(path, func(t *testing.T) {
			body := decodeFeatures(t, do(t, router, http.MethodGet, path+threeParcels, ""))

			if body.Type != "FeatureCollection" {
				t.Errorf("unexpected type %q", body.Type)
			}
			if len(body.Features) != 3 {
				t.Fatalf("expected 3 features, got %d", len(body.Features))
			}
			if body.Features[0].ID != "p0" {
				t.Errorf("expected first id p0, got %q", body.Features[0].ID)
			}
			for _, f := range body.Features {
				if _, ok := f.Properties["owner"]; ok {
					t.Errorf("unlisted property leaked: %v", f.Properties)
				}
				if _, ok := f.Properties["crop"]; !ok {
					t.Errorf("listed property missing: %v", f.Properties)
				}
			}

			st := body.Stats
			if st.TotalParcels != 3 || st.Returned != 3 || st.Sampled {
				t.Errorf("unexpected stats: %+v", st)
			}
			if st.BBox != "0.5000,-0.5000,2.5000,-0.5000" {
				t.Errorf("unexpected bbox %q", st.BBox)
			}
			if len(st.CropDistribution) != 3 || st.CropDistribution["Maize"] != 1 {
				t.Errorf("unexpected crop distribution: %v", st.CropDistribution)
			}
			if st.CategoryDistribution["GW"] != 1 {
				t.Errorf("unexpected category distribution: %v", st.CategoryDistribution)
			}
		})
	}
}

func TestFeaturesEndpoint_Sampled(t *testing.T) {
	body := decodeFeatures(t, do(t, setupRouter(t), http.MethodGet, "/api/features?max_features=1&"+threeParcels, ""))

	if len(body.Features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(body.Features))
	}
	if body.Stats.TotalParcels != 3 || !body.Stats.Sampled {
		t.Errorf("stats should describe the matched population: %+v", body.Stats)
	}
	total := 0
	for _, n := range body.Stats.CropDistribution {
		total += n
	}
	if total != 3 {
		t.Errorf("crop distribution should cover all matches, got %d", total)
	}
}

func TestFeaturesEndpoint_ResponseCache(t *testing.T) {
	router := setupRouter(t)
	target := "/api/features?" + threeParcels

	first := do(t, router, http.MethodGet, target, "")
	if got := first.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("expected MISS, got %q", got)
	}
	second := do(t, router, http.MethodGet, target, "")
	if got := second.Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("expected HIT, got %q", got)
	}
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Error("cached body differs from the computed one")
	}
}

func TestFeaturesEndpoint_CategoryFilter(t *testing.T) {
	router := setupRouter(t)

	body := decodeFeatures(t, do(t, router, http.MethodGet, "/api/features?categories=Wheat&"+threeParcels, ""))
	if body.Stats.TotalParcels != 1 || body.Stats.CropDistribution["Wheat"] != 1 {
		t.Errorf("unexpected filtered stats: %+v", body.Stats)
	}

	body = decodeFeatures(t, do(t, router, http.MethodPost, "/api/features?"+threeParcels, `{"categories":["Olive","Maize"]}`))
	if body.Stats.TotalParcels != 2 {
		t.Errorf("expected 2 matches, got %d", body.Stats.TotalParcels)
	}

	body = decodeFeatures(t, do(t, router, http.MethodGet, "/api/features?categories=&"+threeParcels, ""))
	if body.Stats.TotalParcels != 0 || len(body.Features) != 0 {
		t.Errorf("empty filter should match nothing: %+v", body.Stats)
	}
}

func TestFeaturesEndpoint_InvalidViewportIsEmpty(t *testing.T) {
	router := setupRouter(t)

	for _, target := range []string{
		"/api/features?north=-1&south=1&east=5&west=0",
		// inverted by less than the rounding step
		"/api/features?north=0.00001&south=0.00004&east=2.5&west=-0.5",
	} {
		for i := 0; i < 2; i++ {
			rec := do(t, router, http.MethodGet, target, "")
			if got := rec.Header().Get("X-Cache"); got != "MISS" {
				t.Errorf("%s: invalid viewport must not be cached, X-Cache=%q", target, got)
			}
			body := decodeFeatures(t, rec)
			if body.Stats.TotalParcels != 0 || len(body.Features) != 0 {
				t.Errorf("%s: inverted viewport should be empty: %+v", target, body.Stats)
			}
		}
	}
}

func TestBadRequests(t *testing.T) {
	router := setupRouter(t)

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"non-numeric bound", "/api/features?north=abc&south=0&east=1&west=0", http.StatusBadRequest},
		{"missing bound", "/api/features?north=1&south=0&east=1", http.StatusBadRequest},
		{"non-integer cap", "/api/features?max_features=lots&" + threeParcels, http.StatusBadRequest},
		{"non-integer size", "/preview.png?size=big&" + threeParcels, http.StatusBadRequest},
		{"unknown dataset", "/d/nope/api/features?" + threeParcels, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodGet, tt.target, "")
			if rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rec.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
				t.Errorf("expected a JSON error body, got %q", rec.Body.String())
			}
		})
	}
}

func TestStatsEndpoint(t *testing.T) {
	rec := do(t, setupRouter(t), http.MethodGet, "/d/test/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var st service.GlobalStats
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if st.TotalParcels != 10 || st.DistinctCategories != 3 || st.DistinctClassifications != 3 {
		t.Errorf("unexpected stats: %+v", st)
	}
	if len(st.TopCategories) != 3 || st.TopCategories[0].Name != "Maize" {
		t.Errorf("unexpected top crops: %+v", st.TopCategories)
	}
}

func TestMetadataEndpoint(t *testing.T) {
	rec := do(t, setupRouter(t), http.MethodGet, "/api/metadata", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var md struct {
		ID                string            `json:"id"`
		Parcels           int               `json:"parcels"`
		CategoryAttribute string            `json:"category_attribute"`
		Palette           map[string]string `json:"palette"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &md); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if md.ID != "test" || md.Parcels != 10 || md.CategoryAttribute != "crop" {
		t.Errorf("unexpected metadata: %+v", md)
	}
	if md.Palette["Maize"] != "#FF6B6B" {
		t.Errorf("unexpected palette: %v", md.Palette)
	}
}

func TestPreviewEndpoint(t *testing.T) {
	router := setupRouter(t)

	rec := do(t, router, http.MethodGet, "/d/test/preview.png?size=120&north=0.5&south=-0.5&east=2.5&west=-0.5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %q", ct)
	}
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("invalid PNG: %v", err)
	}
	// 3° wide by 1° tall
	if b := img.Bounds(); b.Dx() != 120 || b.Dy() != 40 {
		t.Errorf("unexpected preview size %v", b)
	}

	again := do(t, router, http.MethodGet, "/d/test/preview.png?size=120&north=0.5&south=-0.5&east=2.5&west=-0.5", "")
	if got := again.Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("expected cached preview, got %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := setupRouter(t)
	do(t, router, http.MethodGet, "/api/features?"+threeParcels, "")

	rec := do(t, router, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	for _, name := range []string{"parcels_http_requests_total", "parcels_queries_total"} {
		if !strings.Contains(rec.Body.String(), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
