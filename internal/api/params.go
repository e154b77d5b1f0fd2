package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/agromap/server/internal/service"
)

// parseViewport reads north, south, east and west. All four are required
// and must be finite numbers; their ordering is checked by the query engine.
func parseViewport(query url.Values) (service.Viewport, error) {
	var v service.Viewport
	for _, p := range []struct {
		name string
		dst  *float64
	}{
		{"north", &v.North},
		{"south", &v.South},
		{"east", &v.East},
		{"west", &v.West},
	} {
		raw := strings.TrimSpace(query.Get(p.name))
		if raw == "" {
			return v, fmt.Errorf("missing required query param: %s", p.name)
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return v, fmt.Errorf("invalid %s: %q", p.name, raw)
		}
		*p.dst = f
	}
	return v, nil
}

// parseIntParam returns def when the parameter is absent.
func parseIntParam(query url.Values, name string, def int) (int, error) {
	raw := strings.TrimSpace(query.Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return n, nil
}

// parseRequest builds a query request from URL parameters, and from the body
// for POST requests carrying a category filter.
func parseRequest(r *http.Request, defaultMaxFeatures int) (service.Request, error) {
	query := r.URL.Query()

	v, err := parseViewport(query)
	if err != nil {
		return service.Request{}, err
	}
	maxFeatures, err := parseIntParam(query, "max_features", defaultMaxFeatures)
	if err != nil {
		return service.Request{}, err
	}

	var (
		categoryFilter []string
		hasFilter      bool
	)
	if r.Method == http.MethodPost {
		categoryFilter, hasFilter, err = parseCategoryFilterBody(r)
		if err != nil {
			return service.Request{}, err
		}
	} else {
		categoryFilter, hasFilter = parseCategoryFilter(query)
	}
	if !hasFilter {
		categoryFilter = nil
	}

	return service.Request{Viewport: v, MaxFeatures: maxFeatures, Categories: categoryFilter}, nil
}

func parseCategoryFilter(query url.Values) ([]string, bool) {
	rawValues, present := query["categories"]
	if !present {
		return nil, false
	}

	// Support repeated query parameters:
	//   ?categories=Maize&categories=Wheat
	if len(rawValues) > 1 {
		out := make([]string, 0, len(rawValues))
		for _, v := range rawValues {
			v = strings.TrimSpace(v)
			if v != "" {
				out = append(out, v)
			}
		}
		return out, true
	}

	raw := strings.TrimSpace(rawValues[0])
	if raw == "" {
		// Explicit "filter to none".
		return make([]string, 0), true
	}

	// JSON array, e.g. ["Maize","Durum wheat, spring"] (allows commas in values).
	if strings.HasPrefix(raw, "[") {
		var categories []string
		if err := json.Unmarshal([]byte(raw), &categories); err == nil {
			if categories == nil {
				return make([]string, 0), true
			}
			return categories, true
		}
	}

	// Comma-separated list, e.g. Maize,Wheat
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out, true
}

const maxCategoryFilterBodyBytes = 1 << 20 // 1 MiB

func parseCategoryFilterBody(r *http.Request) ([]string, bool, error) {
	if r.Body == nil {
		return nil, false, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCategoryFilterBodyBytes+1))
	if err != nil {
		return nil, false, err
	}
	if len(body) > maxCategoryFilterBodyBytes {
		return nil, false, errors.New("category filter body too large")
	}

	raw := bytes.TrimSpace(body)
	if len(raw) == 0 {
		return nil, false, nil
	}

	// Object payload: {"categories":[...]}.
	if raw[0] == '{' {
		var payload struct {
			Categories json.RawMessage `json:"categories"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, false, fmt.Errorf("invalid category filter: %w", err)
		}
		rc := bytes.TrimSpace(payload.Categories)
		if len(rc) == 0 || bytes.Equal(rc, []byte("null")) {
			return nil, false, nil
		}
		var categories []string
		if err := json.Unmarshal(rc, &categories); err != nil {
			return nil, false, fmt.Errorf("invalid category filter: %w", err)
		}
		if categories == nil {
			categories = make([]string, 0)
		}
		return categories, true, nil
	}

	// Form-encoded bodies:
	//   categories=Maize&categories=Wheat
	//   categories=["Maize","Wheat"]
	if bytes.Contains(raw, []byte("=")) && raw[0] != '[' {
		if q, err := url.ParseQuery(string(raw)); err == nil {
			filter, ok := parseCategoryFilter(q)
			return filter, ok, nil
		}
	}

	filter, ok := parseCategoryFilter(url.Values{"categories": {string(raw)}})
	return filter, ok, nil
}
