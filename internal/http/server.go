package http

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"sync"
	"time"

	"vaxdash/internal/amqp"
	"vaxdash/internal/core"
	"vaxdash/internal/log"
	"vaxdash/internal/metrics"
	"vaxdash/internal/middleware/ratelimit"
	"vaxdash/internal/middleware/security"
	"vaxdash/internal/middleware/trace"
	"vaxdash/internal/services"
	appweb "vaxdash/web"
)

// Latency recorder names exposed on /api/stats.
const (
	MetricHTTPRequests = "http_requests"
	MetricReportBuild  = "report_build"
)

// RefreshPublisher hands refresh requests to the worker.
type RefreshPublisher interface {
	PublishRefresh(ctx context.Context, msg *amqp.ReportRefreshMessage) error
}

// RunLister lists persisted report runs and loads one by ID.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]core.RunSummary, error)
	ReportByID(ctx context.Context, runID string) (core.Report, error)
}

// ReadyFunc reports whether a dependency can serve requests.
type ReadyFunc func(ctx context.Context) error

// Options wires the server to the report service and its optional
// collaborators.
type Options struct {
	Addr    string
	Reports *services.ReportService
	Logger  *log.Logger
	Metrics *metrics.Registry

	// Publisher is nil when no broker is configured; refreshes then rebuild inline.
	Publisher RefreshPublisher
	Runs      RunLister
	Ready     ReadyFunc
	RateLimit ratelimit.Config
	// TrustedProxies are CIDRs whose forwarding headers are honoured, in
	// addition to loopback and private ranges.
	TrustedProxies []string
}

// Server embeds http.Server and owns the middleware state.
type Server struct {
	http.Server

	reports   *services.ReportService
	logger    *log.Logger
	metrics   *metrics.Registry
	publisher RefreshPublisher
	runs      RunLister
	ready     ReadyFunc

	templates *template.Template
	limiter   *ratelimit.Limiter
	detector  *security.Detector
	tracer    *trace.Middleware
	started   time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run server.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.New(log.DefaultConfig())
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}
	logger := opts.Logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		reports:   opts.Reports,
		logger:    logger,
		metrics:   opts.Metrics,
		publisher: opts.Publisher,
		runs:      opts.Runs,
		ready:     opts.Ready,
		limiter:   ratelimit.NewLimiter(opts.RateLimit),
		detector:  security.NewDetector(),
		started:   time.Now(),
	}
	for _, cidr := range opts.TrustedProxies {
		if err := s.detector.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", log.FieldError, err)
		}
	}
	s.tracer = trace.NewMiddleware(logger, s.detector.ExtractClientIP, opts.Metrics.Recorder(MetricHTTPRequests))

	t, err := template.New("").Funcs(templateFuncs()).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		logger.Warn("Failed parsing templates", log.FieldError, err)
	}
	s.templates = t

	mux := http.NewServeMux()

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("/static/", security.StaticAssets(3600)(static))
	} else {
		logger.Warn("Failed to mount embedded static FS", log.FieldError, err)
	}

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	mux.HandleFunc("/ui/continents", s.handleContinentsPartial)
	mux.HandleFunc("/ui/locations", s.handleLocationsPartial)

	api := func(h http.HandlerFunc) http.Handler { return security.NoStore(h) }
	mux.Handle("/api/locations", api(s.handleAPILocations))
	mux.Handle("/api/continents", api(s.handleAPIContinents))
	mux.Handle("/api/report", api(s.handleAPIReport))
	mux.Handle("/api/runs", api(s.handleAPIRuns))
	mux.Handle("/api/runs/{id}", api(s.handleAPIRun))
	mux.Handle("/api/stats", api(s.handleAPIStats))
	mux.Handle("/api/refresh", api(s.withRateLimit(s.handleRefresh)))

	s.Handler = chain(mux,
		s.tracer.Middleware,
		s.detector.Middleware,
		security.Headers(security.DefaultHeadersConfig()),
	)
	s.Addr = opts.Addr
	s.ReadHeaderTimeout = 10 * time.Second
	return s
}

// chain applies middleware so that the first one listed runs first.
func chain(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// withRateLimit limits POSTs per client; other methods pass through to the
// handler's own method check.
func (s *Server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	limited := s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, s.detector.ExtractClientIP(r),
			log.FieldPath, r.URL.Path,
			log.FieldComponent, log.ComponentRateLimit)
		ErrorResponse(http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.").Write(w)
	})(next)

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next(w, r)
			return
		}
		limited.ServeHTTP(w, r)
	}
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"count": func(v any) string {
			switch n := v.(type) {
			case int:
				return formatCount(int64(n))
			case int64:
				return formatCount(n)
			default:
				return ""
			}
		},
	}
}

// formatCount renders n with thousands separators, e.g. 1,234,567.
func formatCount(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := false
	if n < 0 {
		neg = true
		s = s[1:]
	}
	out := make([]byte, 0, len(s)+len(s)/3)
	for i := range len(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}

// Shutdown stops the rate limiter and drains the HTTP server. Safe to call
// more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
