package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"homeguard/internal/model"
	"homeguard/internal/rules"
)

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter rules.Filter
	if v := q.Get("enabled"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(w, "invalid enabled filter")
			return
		}
		filter.Enabled = &b
	}
	filter.ConditionType = model.ConditionType(q.Get("type"))
	filter.ActionType = model.ActionType(q.Get("action"))
	filter.Name = q.Get("name")

	list := s.rules.List(filter)
	snap := s.rules.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules":    list,
		"count":    len(list),
		"version":  snap.Version,
		"degraded": snap.Degraded,
	})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.rules.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule model.Rule
	if err := decodeBody(w, r, &rule); err != nil {
		badRequest(w, "invalid rule body")
		return
	}
	id, err := s.rules.Add(r.Context(), rule)
	if err != nil {
		writeError(w, err)
		return
	}
	created, err := s.rules.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.logger != nil {
		s.logger.Info("rule created", "rule_id", id, "by", actor(r))
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var patch rules.Patch
	if err := decodeBody(w, r, &patch); err != nil {
		badRequest(w, "invalid patch body")
		return
	}
	id := chi.URLParam(r, "id")
	updated, err := s.rules.Update(r.Context(), id, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.logger != nil {
		s.logger.Info("rule updated", "rule_id", id, "by", actor(r))
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.rules.Remove(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if s.logger != nil {
		s.logger.Info("rule removed", "rule_id", id, "by", actor(r))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		updated, err := s.rules.SetEnabled(r.Context(), chi.URLParam(r, "id"), enabled)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

type templateView struct {
	Key       string          `json:"key"`
	Name      string          `json:"name"`
	Condition model.Condition `json:"condition"`
	Actions   []model.Action  `json:"actions"`
}

func (s *Server) handleListTemplates(w http.ResponseWriter, _ *http.Request) {
	list := rules.Templates()
	out := make([]templateView, 0, len(list))
	for _, t := range list {
		out = append(out, templateView{Key: t.Key, Name: t.Name, Condition: t.Condition, Actions: t.Actions})
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": out})
}

func (s *Server) handleApplyTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID          string            `json:"id"`
		Sensitivity model.Sensitivity `json:"sensitivity"`
	}
	if err := decodeOptional(w, r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	rule, err := s.rules.ApplyTemplate(r.Context(), chi.URLParam(r, "key"), req.ID, req.Sensitivity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
