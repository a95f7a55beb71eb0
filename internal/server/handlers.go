package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cameronsjo/rigging/internal/compose"
	"github.com/cameronsjo/rigging/internal/manifest"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

// CreatedProfile is the body of a successful profile create.
type CreatedProfile struct {
	ID      string            `json:"id"`
	Profile *manifest.Profile `json:"profile"`
}

// CommitResponse is a composition result plus the composite it saved.
type CommitResponse struct {
	*compose.Result
	Composite *manifest.CompositeResource `json:"composite,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// decodeJSON reads a JSON body. Numbers are kept as json.Number so that
// integers survive into the document model.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return manifest.NewValidationError("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

func category(r *http.Request) (manifest.Category, error) {
	return manifest.ParseCategory(chi.URLParam(r, "category"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]manifest.Category{"categories": manifest.ApplicationOrder})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req compose.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Preview(r.Context(), req))
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req compose.CommitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, saved, err := s.svc.Commit(r.Context(), req)
	resp := CommitResponse{Result: res, Composite: saved}
	switch {
	case err != nil:
		writeJSON(w, statusFor(err), resp)
	case !res.Success:
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	cat, err := category(r)
	if err != nil {
		writeError(w, err)
		return
	}
	profiles, err := s.svc.ListProfiles(r.Context(), cat, r.URL.Query().Get("namespace"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	cat, err := category(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var p manifest.Profile
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.svc.CreateProfile(r.Context(), cat, &p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedProfile{ID: created.ID, Profile: created})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	cat, err := category(r)
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := s.svc.GetProfile(r.Context(), cat, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	cat, err := category(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var p manifest.Profile
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.svc.UpdateProfile(r.Context(), cat, chi.URLParam(r, "id"), &p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handlePatchProfile(w http.ResponseWriter, r *http.Request) {
	cat, err := category(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var patch compose.ProfilePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.svc.PatchProfile(r.Context(), cat, chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	cat, err := category(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.DeleteProfile(r.Context(), cat, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListComposites(w http.ResponseWriter, r *http.Request) {
	composites, err := s.svc.ListComposites(r.Context(), r.URL.Query().Get("namespace"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, composites)
}

func (s *Server) handleSaveComposite(w http.ResponseWriter, r *http.Request) {
	var c manifest.CompositeResource
	if err := decodeJSON(w, r, &c); err != nil {
		writeError(w, err)
		return
	}
	saved, err := s.svc.SaveComposite(r.Context(), &c)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if saved.Version == 1 {
		status = http.StatusCreated
	}
	writeJSON(w, status, saved)
}

func (s *Server) handleGetComposite(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.GetComposite(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleRenderComposite(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Render(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeleteComposite(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteComposite(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDependents(w http.ResponseWriter, r *http.Request) {
	refs, err := s.svc.Dependents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refs)
}
