package http

import (
	"net/http"

	"vaxdash/internal/core"
	"vaxdash/internal/log"
	"vaxdash/internal/pipeline"
)

// maxLocationRows caps the HTML location table; the JSON API is unbounded.
const maxLocationRows = 200

type continentsView struct {
	Rows      []core.ContinentMonthTotal
	Continent string
	From      string
	To        string
	Names     []string
}

type locationsView struct {
	Rows     []core.CumulativeLocationMonthTotal
	Total    int
	Location string
	From     string
	To       string
}

type indexView struct {
	Report     core.RunSummary
	Empty      bool
	Months     []core.MonthKey
	Continents continentsView
	Locations  locationsView
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	if s.templates == nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Templates not loaded", log.FieldPath, r.URL.Path)
		InternalServerError("templates not loaded").Write(w)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		log.NewStructuredLogger(log.FromContext(r.Context())).
			LogError(r.Context(), "Template execution failed", err, log.ComponentHTTP, log.OpRender, log.LogFields{"template": name})
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if resp := RequireGET(r); resp != nil {
		resp.Write(w)
		return
	}

	rep, err := s.reports.Build(r.Context())
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Report build failed", log.FieldError, err)
		InternalServerError("The report could not be built. Check the data source.").Write(w)
		return
	}

	locations := rep.Locations
	total := len(locations)
	if total > maxLocationRows {
		locations = locations[:maxLocationRows]
	}
	s.render(w, r, "index.html", indexView{
		Report: rep.Summary(),
		Empty:  rep.IsEmpty(),
		Months: rep.Months(),
		Continents: continentsView{
			Rows:  rep.Continents,
			Names: pipeline.ContinentNames(),
		},
		Locations: locationsView{Rows: locations, Total: total},
	})
}

func (s *Server) handleContinentsPartial(w http.ResponseWriter, r *http.Request) {
	if resp := RequireGET(r); resp != nil {
		resp.Write(w)
		return
	}
	q := r.URL.Query()
	f, err := ParseContinentFilter(q)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	rows, err := s.reports.Continents(r.Context(), f)
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Continent rows failed", log.FieldError, err)
		InternalServerError("Continent totals are unavailable").Write(w)
		return
	}
	s.render(w, r, "continents.html", continentsView{
		Rows:      rows,
		Continent: f.Continent,
		From:      q.Get("from"),
		To:        q.Get("to"),
		Names:     pipeline.ContinentNames(),
	})
}

func (s *Server) handleLocationsPartial(w http.ResponseWriter, r *http.Request) {
	if resp := RequireGET(r); resp != nil {
		resp.Write(w)
		return
	}
	q := r.URL.Query()
	f, err := ParseLocationFilter(q)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	rows, err := s.reports.Locations(r.Context(), f)
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Location rows failed", log.FieldError, err)
		InternalServerError("Location totals are unavailable").Write(w)
		return
	}
	total := len(rows)
	if total > maxLocationRows {
		rows = rows[:maxLocationRows]
	}
	s.render(w, r, "locations.html", locationsView{
		Rows:     rows,
		Total:    total,
		Location: f.Location,
		From:     q.Get("from"),
		To:       q.Get("to"),
	})
}
