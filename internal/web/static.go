package web

import (
	"bytes"
	"compress/gzip"
	"embed"
	"html/template"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/vadiminshakov/coinverse/internal/domain"
)

//go:embed static/index.html
var staticFS embed.FS

var indexTemplate = template.Must(template.New("index.html").Funcs(template.FuncMap{
	"price":     FormatPrice,
	"marketCap": FormatMarketCap,
	"change":    FormatChange,
	"rising": func(p *float64) bool {
		return p != nil && *p >= 0
	},
}).ParseFS(staticFS, "static/index.html"))

type indexRow struct {
	domain.Coin
	Marker domain.Direction
}

type indexData struct {
	Loading  bool
	Rows     []indexRow
	Skeleton []int
}

// handleIndex renders the first paint of the table; the page script then
// follows the stream.
func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	snap := s.table.Snapshot()

	data := indexData{Loading: snap.Loading}
	if snap.Loading && len(snap.Coins) == 0 {
		data.Skeleton = make([]int, 10)
	}
	for _, c := range snap.Coins {
		data.Rows = append(data.Rows, indexRow{Coin: c, Marker: snap.Markers[c.ID]})
	}

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, data); err != nil {
		s.logger.Error("render index", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func gzipHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Vary", "Accept-Encoding")

		gz := gzip.NewWriter(w)
		defer gz.Close()

		next.ServeHTTP(&gzipResponseWriter{ResponseWriter: w, writer: gz}, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	writer *gzip.Writer
}

func (w *gzipResponseWriter) WriteHeader(statusCode int) {
	w.Header().Del("Content-Length")
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	return w.writer.Write(b)
}
