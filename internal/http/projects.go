package httpx

import (
	"net/http"
	"strings"

	"github.com/splax/pagesmith/internal/apperr"
	"github.com/splax/pagesmith/internal/service/generate"
	"github.com/splax/pagesmith/internal/service/project"
)

const generationHistoryLimit = 20

type generateRequest struct {
	Prompt  string `json:"prompt"`
	Preview bool   `json:"preview"`
	generate.Options
}

func (r *Router) handleGenerate(w http.ResponseWriter, req *http.Request) {
	var payload generateRequest
	if !decodeJSON(w, req, &payload, false) {
		return
	}
	if strings.TrimSpace(payload.Prompt) == "" {
		writeAppError(w, apperr.New(apperr.KindInvalid, "prompt is required"))
		return
	}
	if payload.Preview {
		res, err := r.generate.Preview(req.Context(), payload.Prompt, payload.Options)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	res, err := r.generate.Generate(req.Context(), payload.Prompt, payload.Options)
	if err != nil {
		writeAppError(w, err)
		return
	}
	status := http.StatusCreated
	if payload.ProjectID != "" {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (r *Router) handleListProjects(w http.ResponseWriter, req *http.Request) {
	limit, offset := pagination(req)
	projects, err := r.projects.List(req.Context(), limit, offset)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (r *Router) handleGetProject(w http.ResponseWriter, req *http.Request) {
	p, err := r.projects.Get(req.Context(), req.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (r *Router) handleUpdateProject(w http.ResponseWriter, req *http.Request) {
	var payload project.UpdateInput
	if !decodeJSON(w, req, &payload, false) {
		return
	}
	p, err := r.projects.Update(req.Context(), req.PathValue("id"), payload)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (r *Router) handleDeleteProject(w http.ResponseWriter, req *http.Request) {
	if err := r.projects.Delete(req.Context(), req.PathValue("id")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleProjectStats(w http.ResponseWriter, req *http.Request) {
	stats, err := r.projects.Stats(req.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (r *Router) handleGenerations(w http.ResponseWriter, req *http.Request) {
	entries, err := r.projects.Generations(req.Context(), req.PathValue("id"), generationHistoryLimit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	res, err := r.deploy.Deploy(req.Context(), req.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (r *Router) handleRollback(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		DeploymentID string `json:"deployment_id"`
	}
	if !decodeJSON(w, req, &payload, true) {
		return
	}
	res, err := r.deploy.Rollback(req.Context(), req.PathValue("id"), strings.TrimSpace(payload.DeploymentID))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request) {
	history, err := r.deploy.History(req.Context(), req.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	status, err := r.deploy.Status(req.Context(), req.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (r *Router) handleDomain(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Hostname string `json:"hostname"`
	}
	if !decodeJSON(w, req, &payload, false) {
		return
	}
	binding, err := r.deploy.SetupDomain(req.Context(), req.PathValue("id"), payload.Hostname)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, binding)
}

func (r *Router) handleUndeploy(w http.ResponseWriter, req *http.Request) {
	if err := r.deploy.Undeploy(req.Context(), req.PathValue("id")); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "undeployed"})
}
