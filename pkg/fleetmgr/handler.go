// Copyright (c) 2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fleetmgr

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/fleetop/fleetop/pkg/fleetmgr/orchestrator"
	"github.com/fleetop/fleetop/pkg/fleetmgr/reconciler"

	log "github.com/sirupsen/logrus"
)

const (
	_statusPath      = "/v1/fleet/status"
	_deploymentsPath = "/v1/deployments"
	_currentPath     = "/v1/deployments/current"
)

// Handler exposes the controller on the ops mux. It only reads
// snapshots and calls the orchestrator; it never touches the fleet
// state directly.
type Handler struct {
	rec      *reconciler.Reconciler
	orch     *orchestrator.Orchestrator
	defaults DeploymentConfig
}

// NewHandler creates the ops HTTP handler. Plans submitted without
// batch size or grace period pick them up from the defaults.
func NewHandler(
	rec *reconciler.Reconciler,
	orch *orchestrator.Orchestrator,
	defaults DeploymentConfig) *Handler {
	return &Handler{rec: rec, orch: orch, defaults: defaults}
}

// RegisterOn mounts the handler's routes on the mux.
func (h *Handler) RegisterOn(mux *http.ServeMux) {
	mux.HandleFunc(_statusPath, h.fleetStatus)
	mux.HandleFunc(_currentPath, h.currentDeployment)
	mux.HandleFunc(_deploymentsPath, h.deployments)
	mux.HandleFunc(_deploymentsPath+"/", h.deploymentByID)
}

func (h *Handler) fleetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.rec.Snapshot())
}

func (h *Handler) currentDeployment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	d := h.orch.Active()
	if d == nil {
		http.Error(w, "no deployment", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, d.Status())
}

func (h *Handler) deployments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	plan := orchestrator.Plan{
		BatchSize:              h.defaults.BatchSize,
		HealthCheckGracePeriod: h.defaults.HealthCheckGracePeriod,
		RollbackOnFailure:      h.defaults.RollbackOnFailure,
	}
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		http.Error(w, "malformed plan: "+err.Error(), http.StatusBadRequest)
		return
	}

	snap := h.rec.Snapshot()
	d, err := h.orch.Start(&plan, snap.Version)
	if err != nil {
		switch err.(type) {
		case *orchestrator.InvalidPlanError:
			http.Error(w, err.Error(), http.StatusBadRequest)
		case *orchestrator.DeploymentInProgressError:
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	log.WithFields(log.Fields{
		"deployment_id":  d.ID(),
		"target_version": plan.TargetVersion,
	}).Info("Deployment started via API")
	writeJSON(w, http.StatusAccepted, d.Status())
}

func (h *Handler) deploymentByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, _deploymentsPath+"/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "bad deployment id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodDelete:
		if err := h.orch.Cancel(id); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	case http.MethodGet:
		d := h.orch.Active()
		if d == nil || d.ID() != id {
			http.Error(w, "deployment not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, d.Status())
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("Could not write response body")
	}
}
