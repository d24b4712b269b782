// Package server implements the HTTP surface (§6): GET /wiki/{title},
// GET /search, GET /source/{title}, GET /eval, GET /metrics. Request
// parsing, status-code mapping and content-type header conventions follow
// the prior http.ServeMux-based server this replaces; routing here uses
// httprouter for its path-param support (/wiki/:title).
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/klauspost/compress/gzip"

	"github.com/wikireader/wikireader/internal/expand"
	"github.com/wikireader/wikireader/internal/index"
	"github.com/wikireader/wikireader/internal/logging"
	"github.com/wikireader/wikireader/internal/metrics"
	"github.com/wikireader/wikireader/internal/render"
	"github.com/wikireader/wikireader/internal/wiki"
)

// Options configures one Server.
type Options struct {
	Index    *index.Store
	Expander *expand.Expander
	Renderer *render.Renderer
	NSMap    *wiki.NamespaceMap

	// SearchLimit bounds how many matches /search returns. 0 uses DefaultSearchLimit.
	SearchLimit int
}

const DefaultSearchLimit = 20

// Server holds the shared dependencies the HTTP handlers need.
type Server struct {
	idx         *index.Store
	expander    *expand.Expander
	renderer    *render.Renderer
	nsmap       *wiki.NamespaceMap
	searchLimit int
}

func New(opts Options) *Server {
	limit := opts.SearchLimit
	if limit == 0 {
		limit = DefaultSearchLimit
	}
	return &Server{
		idx:         opts.Index,
		expander:    opts.Expander,
		renderer:    opts.Renderer,
		nsmap:       opts.NSMap,
		searchLimit: limit,
	}
}

// Handler builds the full routed, gzip-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/wiki/:title", s.handleWiki)
	router.GET("/search", s.handleSearch)
	router.GET("/source/:title", s.handleSource)
	router.GET("/eval", s.handleEvalForm)
	router.POST("/eval", s.handleEvalRender)
	router.Handler(http.MethodGet, "/metrics", metrics.Handler())
	return withGzip(withLogging(router))
}

// ListenAndServe starts the HTTP surface on addr (e.g. "localhost:3000"),
// logging once before blocking.
func (s *Server) ListenAndServe(addr string) error {
	logging.Infof("started listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Debugf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

// gzipResponseWriter routes every body Write through the gzip.Writer that
// withGzip creates up front; a response with no body still gets an empty
// gzip stream.
type gzipResponseWriter struct {
	http.ResponseWriter
	gz *gzip.Writer
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	return w.gz.Write(b)
}

func withGzip(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !acceptsGzip(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		next.ServeHTTP(&gzipResponseWriter{ResponseWriter: w, gz: gz}, r)
	})
}

func acceptsGzip(r *http.Request) bool {
	for _, enc := range r.Header.Values("Accept-Encoding") {
		if strings.Contains(enc, "gzip") {
			return true
		}
	}
	return false
}
