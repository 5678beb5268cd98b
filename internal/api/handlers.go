package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/authgate/authgate/internal/manager"
	"github.com/authgate/authgate/model"
)

func (s *Server) getServices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.Services())
}

func (s *Server) postServices(w http.ResponseWriter, r *http.Request) {
	var create model.CreateService
	if err := json.NewDecoder(r.Body).Decode(&create); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	service, err := s.manager.CreateService(create)
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, service)
}

func (s *Server) getService(w http.ResponseWriter, r *http.Request) {
	service, err := s.manager.Service(chi.URLParam(r, "service"))
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, service)
}

func (s *Server) deleteService(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteService(chi.URLParam(r, "service")); err != nil {
		s.writeManagerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.manager.Users(chi.URLParam(r, "service"))
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, users)
}

func (s *Server) postUsers(w http.ResponseWriter, r *http.Request) {
	var create model.CreateUser
	if err := json.NewDecoder(r.Body).Decode(&create); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := s.manager.CreateUser(chi.URLParam(r, "service"), create)
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, user)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.manager.User(chi.URLParam(r, "service"), chi.URLParam(r, "user"))
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteUser(chi.URLParam(r, "service"), chi.URLParam(r, "user")); err != nil {
		s.writeManagerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getUserStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.manager.UserStats(chi.URLParam(r, "service"), chi.URLParam(r, "user"))
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) getUserEndpointStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.manager.UserEndpointStats(chi.URLParam(r, "service"), chi.URLParam(r, "user"))
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.GlobalStats())
}

func (s *Server) postShutdown(w http.ResponseWriter, r *http.Request) {
	s.log.Infow("shutdown requested", "remote", r.RemoteAddr)
	w.WriteHeader(http.StatusNoContent)
	if s.shutdown != nil {
		go s.shutdown()
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorw("write response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, model.ErrorResponse{Message: err.Error()})
}

// writeManagerError maps manager errors onto API status codes.
func (s *Server) writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case manager.IsConflict(err):
		s.writeError(w, http.StatusConflict, err)
	case manager.IsNotFound(err):
		s.writeError(w, http.StatusNotFound, err)
	case manager.IsConf(err):
		s.writeError(w, http.StatusBadRequest, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}
