package api

import (
	"net/http"

	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/imagecache"
)

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	servePath, contentType, err := s.resolveRequestFile(path, r.URL.Query().Get("convert"))
	if err != nil {
		writeResolveError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	http.ServeFile(w, r, servePath)
}

func (s *Server) handleFileCheck(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	resolved, err := s.Resolver.Resolve(path)
	if err != nil {
		writeResolveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exists": true, "path": resolved})
}

func (s *Server) handleCacheImage(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	variant := imagecache.VariantOriginal
	if r.URL.Query().Get("variant") == "jpg" || r.URL.Query().Get("convert") == "jpg" {
		variant = imagecache.VariantJPG
	}

	resolved, err := s.Resolver.Resolve(path)
	if err != nil {
		writeResolveError(w, err)
		return
	}

	entry, err := s.Cache.Get(resolved, variant)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", entry.ContentType)
	http.ServeFile(w, r, entry.CachePath)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Cache.Stats())
}

func (s *Server) handleCacheCleanup(w http.ResponseWriter, r *http.Request) {
	removed := s.Cache.Cleanup()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "removed": removed})
}
