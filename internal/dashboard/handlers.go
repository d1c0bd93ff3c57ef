package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medical-deserts/apl-dashboard/internal/filter"
	"github.com/medical-deserts/apl-dashboard/internal/geodata"
	"github.com/medical-deserts/apl-dashboard/internal/indicator"
)

// defaultVariant is shown when the map request names none.
const defaultVariant = "all"

// queryKeys maps each filter field to its query parameter.
var queryKeys = map[filter.Field]string{
	filter.City:       "city",
	filter.Department: "department",
	filter.Region:     "region",
}

// pathParam returns the decoded URL parameter. chi routes on RawPath when
// the request has one, so only then are the parameters still escaped.
// Otherwise they come from the already decoded Path and a literal "%" in a
// column name must be left alone.
func pathParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return v
	}
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func selectionFromQuery(r *http.Request) filter.Selection {
	q := r.URL.Query()
	sel := filter.Reset()
	for _, f := range filter.Fields {
		sel = sel.With(f, strings.TrimSpace(q.Get(queryKeys[f])))
	}
	return sel
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// legendSteps is the number of intervals in the map legend.
const legendSteps = 4

type legendStop struct {
	Value float64 `json:"value"`
	Color string  `json:"color"`
}

// legend samples the color scale at evenly spaced values over its range.
func (s *Server) legend() []legendStop {
	lo, hi := s.scale.Range()
	out := make([]legendStop, 0, legendSteps+1)
	for i := 0; i <= legendSteps; i++ {
		v := lo + (hi-lo)*float64(i)/legendSteps
		out = append(out, legendStop{Value: v, Color: s.scale.Color(v)})
	}
	return out
}

func (s *Server) handleVariants(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"variants":   s.catalog.Variants,
		"statuses":   s.catalog.Statuses,
		"thresholds": s.catalog.Thresholds,
		"scale":      s.catalog.Scale,
		"legend":     s.legend(),
	})
}

type statusBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
	Color string `json:"color,omitempty"`
}

type statusChart struct {
	Variant string         `json:"variant,omitempty"`
	Title   string         `json:"title,omitempty"`
	Column  string         `json:"column"`
	Total   int            `json:"total"`
	Buckets []statusBucket `json:"buckets"`
	Error   string         `json:"error,omitempty"`
}

func (s *Server) chart(sc indicator.StatusCount) statusChart {
	c := statusChart{Column: sc.Column, Total: sc.Total(), Buckets: make([]statusBucket, len(sc.Buckets))}
	for i, b := range sc.Buckets {
		c.Buckets[i] = statusBucket{Label: b.Label, Count: b.Count, Color: s.catalog.StatusColor(b.Label)}
	}
	return c
}

// handleStatusAll returns one pie chart per variant. A variant whose column
// is missing carries an error while the others still render.
func (s *Server) handleStatusAll(w http.ResponseWriter, r *http.Request) {
	_, tbl, err := s.dataset(r.Context())
	if err != nil {
		s.writeLoadError(w, err)
		return
	}
	sel := selectionFromQuery(r)
	if !sel.IsEmpty() {
		tbl = filter.Apply(tbl, sel)
	}

	results, err := indicator.CountVariants(r.Context(), tbl, s.catalog.Variants)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
		return
	}

	charts := make([]statusChart, len(results))
	for i, res := range results {
		c := statusChart{Column: res.Variant.StatusColumn, Buckets: []statusBucket{}}
		if res.Err == nil {
			c = s.chart(res.Counts)
		} else {
			c.Error = res.Err.Error()
		}
		c.Variant = res.Variant.Tag
		c.Title = res.Variant.Title
		charts[i] = c
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"selection": sel,
		"count":     tbl.Len(),
		"charts":    charts,
	})
}

func (s *Server) handleStatusColumn(w http.ResponseWriter, r *http.Request) {
	_, tbl, err := s.dataset(r.Context())
	if err != nil {
		s.writeLoadError(w, err)
		return
	}
	sel := selectionFromQuery(r)
	if !sel.IsEmpty() {
		tbl = filter.Apply(tbl, sel)
	}

	sc, err := indicator.CountByCategory(tbl, pathParam(r, "column"))
	if err != nil {
		writeColumnError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.chart(sc))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	_, tbl, err := s.dataset(r.Context())
	if err != nil {
		s.writeLoadError(w, err)
		return
	}
	sum, err := indicator.NumericSummary(tbl, pathParam(r, "column"))
	if err != nil {
		writeColumnError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func writeColumnError(w http.ResponseWriter, err error) {
	if errors.Is(err, indicator.ErrColumnNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	zap.L().Error("dashboard: aggregate", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

// handleMap returns the choropleth layer for one variant: every matching
// feature with its value, status and fill color from the continuous scale.
// A feature with a value but no stored status is classified from the value.
func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("variant")
	if tag == "" {
		tag = defaultVariant
	}
	v, ok := s.catalog.Variant(tag)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown variant: "+tag)
		return
	}

	ds, tbl, err := s.dataset(r.Context())
	if err != nil {
		s.writeLoadError(w, err)
		return
	}
	if err := indicator.RequireColumn(tbl, v.ValueColumn); err != nil {
		writeColumnError(w, err)
		return
	}

	sel := selectionFromQuery(r)
	layer := ds
	if !sel.IsEmpty() {
		layer = subset(ds, sel)
	}

	w.Header().Set("Content-Type", "application/geo+json")
	err = geodata.EncodeGeoJSON(w, layer, func(f geodata.Feature) map[string]any {
		props := map[string]any{
			geodata.ColumnCity:       f.Record.City,
			geodata.ColumnDepartment: f.Record.Department,
			geodata.ColumnRegion:     f.Record.Region,
			"value":                  nil,
			"status":                 f.Record.Attributes[v.StatusColumn],
			"fill":                   nil,
		}
		if val, ok := f.Record.Float(v.ValueColumn); ok {
			props["value"] = val
			props["fill"] = s.scale.Color(val)
			if props["status"] == nil {
				props["status"] = s.catalog.Classify(val)
			}
		}
		return props
	})
	if err != nil {
		zap.L().Error("dashboard: encode map", zap.String("variant", tag), zap.Error(err))
	}
}

// subset returns a dataset view holding only the features matching sel.
func subset(ds *geodata.Dataset, sel filter.Selection) *geodata.Dataset {
	out := *ds
	out.Features = make([]geodata.Feature, 0, len(ds.Features))
	for _, f := range ds.Features {
		if filter.Matches(f.Record, sel) {
			out.Features = append(out.Features, f)
		}
	}
	return &out
}

// handleOptions lists the dropdown values of a field. Predicates on the
// other fields narrow the list; the field's own predicate is ignored.
func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	field, err := filter.ParseField(pathParam(r, "field"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown filter field: "+pathParam(r, "field"))
		return
	}
	_, tbl, err := s.dataset(r.Context())
	if err != nil {
		s.writeLoadError(w, err)
		return
	}

	sel := selectionFromQuery(r).With(field, "")
	if !sel.IsEmpty() {
		tbl = filter.Apply(tbl, sel)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"field":  queryKeys[field],
		"values": filter.Options(tbl, field),
	})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	s.writeRecords(w, r, selectionFromQuery(r))
}

type recordsResponse struct {
	Count     int              `json:"count"`
	Selection filter.Selection `json:"selection"`
	Table     *geodata.Table   `json:"table"`
}

// writeRecords sends the rows matching sel as JSON, CSV or XLSX. An empty
// match is a valid result with count 0.
func (s *Server) writeRecords(w http.ResponseWriter, r *http.Request, sel filter.Selection) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatCSV && format != FormatXLSX {
		writeError(w, http.StatusBadRequest, "unsupported format: "+format)
		return
	}

	_, tbl, err := s.dataset(r.Context())
	if err != nil {
		s.writeLoadError(w, err)
		return
	}
	out := filter.Apply(tbl, sel)

	switch format {
	case FormatCSV:
		w.Header().Set("Content-Type", contentTypeCSV)
		w.Header().Set("Content-Disposition", `attachment; filename="apl.csv"`)
		err = writeCSV(w, out)
	case FormatXLSX:
		w.Header().Set("Content-Type", contentTypeXLSX)
		w.Header().Set("Content-Disposition", `attachment; filename="apl.xlsx"`)
		err = writeXLSX(w, out)
	default:
		writeJSON(w, http.StatusOK, recordsResponse{Count: out.Len(), Selection: sel, Table: out})
	}
	if err != nil {
		zap.L().Error("dashboard: export records", zap.String("format", format), zap.Error(err))
	}
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sel, _ := s.sessions.Get(sessionID(w, r))
	writeJSON(w, http.StatusOK, sel)
}

// handleSessionPut replaces the session's selection with the request body.
func (s *Server) handleSessionPut(w http.ResponseWriter, r *http.Request) {
	id := sessionID(w, r)

	var sel filter.Selection
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sel); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sel.City = strings.TrimSpace(sel.City)
	sel.Department = strings.TrimSpace(sel.Department)
	sel.Region = strings.TrimSpace(sel.Region)

	s.sessions.Set(id, sel)
	writeJSON(w, http.StatusOK, sel)
}

func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	id := sessionID(w, r)
	s.sessions.Reset(id)
	writeJSON(w, http.StatusOK, filter.Reset())
}

func (s *Server) handleSessionRecords(w http.ResponseWriter, r *http.Request) {
	sel, _ := s.sessions.Get(sessionID(w, r))
	s.writeRecords(w, r, sel)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"url":   s.opts.DatasetURL,
		"stats": s.loader.Cache().Stats(),
	}
	if b := s.loader.Breakers(); b != nil {
		resp["breakers"] = b.Snapshots()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCacheInvalidate drops the cached dataset so the next request
// fetches it again. A tripped source breaker is closed as well. With
// ?all=true every cached dataset is dropped, not only the configured one.
func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	cache := s.loader.Cache()
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))

	var ok bool
	if all {
		ok = cache.Stats().Entries > 0
		cache.Purge()
	} else {
		ok = cache.Invalidate(s.opts.DatasetURL)
	}
	resp := map[string]any{
		"url":         s.opts.DatasetURL,
		"invalidated": ok,
		"purged":      all,
	}
	if b := s.loader.Breakers(); b != nil {
		resp["breaker_reset"] = b.Reset(s.opts.DatasetURL)
	}
	zap.L().Info("dashboard: cache invalidated",
		zap.String("url", s.opts.DatasetURL),
		zap.Bool("was_cached", ok),
	)
	writeJSON(w, http.StatusOK, resp)
}
