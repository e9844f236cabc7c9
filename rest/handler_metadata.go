package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/flowgate/model"
)

func (s *Server) HandleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var def model.WorkflowDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid workflow definition")
		return
	}
	defer r.Body.Close()
	saved, err := s.services.Metadata.SaveWorkflow(r.Context(), &def)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, saved)
}

func (s *Server) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	version := 0
	if v := r.URL.Query().Get("version"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondWithError(w, http.StatusBadRequest, "version must be a positive number")
			return
		}
		version = n
	}
	def, err := s.services.Metadata.GetWorkflow(r.Context(), id, version)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, def)
}

func (s *Server) HandleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var cfg model.WebhookConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid webhook config")
		return
	}
	defer r.Body.Close()
	saved, err := s.services.Metadata.SaveWebhook(r.Context(), &cfg)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, saved)
}

func (s *Server) HandleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var sched model.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid schedule")
		return
	}
	defer r.Body.Close()
	saved, err := s.services.Metadata.SaveSchedule(r.Context(), &sched)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, saved)
}
