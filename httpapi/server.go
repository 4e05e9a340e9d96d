// Copyright 2025 Centerline
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpapi is the thin HTTP façade over the orchestration core.
// It carries no business logic: routing, JSON codec, and CORS only.
// Authentication is out of scope; the owner id arrives as a pass-through
// header from the upstream gateway.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"centerline/core/orchestrator"
	"centerline/core/shared/logger"
	"centerline/core/store"
)

// Request headers the façade understands.
const (
	HeaderTenant = "X-Centerline-Tenant"
	HeaderOwner  = "X-Owner-ID"
)

// Server exposes the core-facing contract over HTTP.
type Server struct {
	orch   *orchestrator.Orchestrator
	router *mux.Router
	cors   *cors.Cors
	log    *logger.Logger
}

// NewServer creates a Server and registers its routes.
func NewServer(orch *orchestrator.Orchestrator) *Server {
	s := &Server{
		orch:   orch,
		router: mux.NewRouter(),
		cors: cors.New(cors.Options{
			AllowedOrigins:   []string{"*"}, // Configure for production
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}),
		log: logger.New("httpapi"),
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	s.router.HandleFunc("/v1/prompt", s.handlePrompt).Methods("POST")
	s.router.HandleFunc("/v1/conversations", s.handleListConversations).Methods("GET")
	s.router.HandleFunc("/v1/conversations/{id}/messages", s.handleListMessages).Methods("GET")
	s.router.HandleFunc("/v1/conversations/{id}", s.handleDeleteConversation).Methods("DELETE")

	return s
}

// Handler returns the CORS-wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.cors.Handler(s.router)
}

type promptRequest struct {
	TenantID       string `json:"tenant_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	OwnerID        string `json:"owner_id,omitempty"`
	Prompt         string `json:"prompt"`
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = r.Header.Get(HeaderTenant)
	}
	ownerID := req.OwnerID
	if ownerID == "" {
		ownerID = r.Header.Get(HeaderOwner)
	}

	msg, err := s.orch.HandlePrompt(r.Context(), orchestrator.PromptRequest{
		TenantID:       tenantID,
		ConversationID: req.ConversationID,
		OwnerID:        ownerID,
		Prompt:         req.Prompt,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	ownerID := r.Header.Get(HeaderOwner)
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "missing "+HeaderOwner+" header")
		return
	}

	page, err := s.orch.ListConversations(r.Context(),
		r.Header.Get(HeaderTenant), ownerID, r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	ownerID := r.Header.Get(HeaderOwner)
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "missing "+HeaderOwner+" header")
		return
	}

	messages, err := s.orch.ListMessages(r.Context(),
		r.Header.Get(HeaderTenant), mux.Vars(r)["id"], ownerID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	ownerID := r.Header.Get(HeaderOwner)
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "missing "+HeaderOwner+" header")
		return
	}

	err := s.orch.DeleteConversation(r.Context(),
		r.Header.Get(HeaderTenant), mux.Vars(r)["id"], ownerID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := s.orch.HealthSnapshot(r.Context())

	status := http.StatusOK
	for _, healthy := range snapshot.Tenants {
		if !healthy {
			status = http.StatusServiceUnavailable
			break
		}
	}

	writeJSON(w, status, snapshot)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, orchestrator.ErrOwnerMismatch):
		writeError(w, http.StatusForbidden, "conversation belongs to another owner")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Headers are already written; nothing more to do.
		return
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
