package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/config"
)

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Config.Get())
}

func (s *Server) handleConfigPut(w http.ResponseWriter, r *http.Request) {
	// Patch semantics: unnamed fields keep their active values.
	candidate := *s.Config.Get()
	if err := json.NewDecoder(r.Body).Decode(&candidate); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config JSON: "+err.Error())
		return
	}

	if err := s.Config.Update(&candidate); err != nil {
		writeConfigError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "config": s.Config.Get()})
}

func (s *Server) handleConfigSectionGet(w http.ResponseWriter, r *http.Request) {
	section, err := s.Config.Section(chi.URLParam(r, "section"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, section)
}

func (s *Server) handleConfigSectionPut(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.Config.UpdateSection(chi.URLParam(r, "section"), raw); err != nil {
		writeConfigError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if err := s.Config.Reload(); err != nil {
		writeConfigError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "config": s.Config.Get()})
}

func (s *Server) handleConfigValidate(w http.ResponseWriter, r *http.Request) {
	candidate := *s.Config.Get()
	if err := json.NewDecoder(r.Body).Decode(&candidate); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config JSON: "+err.Error())
		return
	}

	violations := config.Validate(&candidate)
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":      len(violations) == 0,
		"violations": violations,
	})
}

func (s *Server) handleConfigReset(w http.ResponseWriter, r *http.Request) {
	if err := s.Config.Reset(); err != nil {
		writeConfigError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "config": s.Config.Get()})
}

func writeConfigError(w http.ResponseWriter, err error) {
	var ve *config.ErrValidation
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      "validation failed",
			"violations": ve.Violations,
		})
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}
