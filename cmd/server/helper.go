package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/strategy-advisor/internal/engine"
	"github.com/yourorg/strategy-advisor/internal/model"
	"github.com/yourorg/strategy-advisor/internal/store"
)

// writeJSON sends a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).Warn("failed to encode response")
	}
}

// writeError sends a JSON error body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.catalog.Current()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "running",
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"strategies":     len(snap.Definitions),
		"circuits":       s.breaker.States(),
	})
}

// handlePutProfile creates or replaces a user's profile. The body carries the
// profile record; the revision field is the expected revision for the
// conditional write, zero meaning "create".
func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	var p model.UserProfile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "malformed profile body: "+err.Error())
		return
	}
	p.UserID = userID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.UpdatedAt = time.Now().UTC()

	rev, err := s.profiles.Put(r.Context(), p)
	if err != nil {
		var vErr *model.ValidationError
		var cErr *store.ConflictError
		switch {
		case errors.As(err, &vErr):
			writeError(w, http.StatusBadRequest, vErr.Error())
		case errors.As(err, &cErr):
			writeError(w, http.StatusConflict, cErr.Error())
		default:
			logrus.WithError(err).WithField("user_id", userID).Error("profile write failed")
			writeError(w, http.StatusInternalServerError, "profile write failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  userID,
		"revision": rev,
	})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	p, err := s.profiles.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		logrus.WithError(err).WithField("user_id", userID).Error("profile read failed")
		writeError(w, http.StatusInternalServerError, "profile read failed")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	if err := s.profiles.Delete(r.Context(), userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		logrus.WithError(err).WithField("user_id", userID).Error("profile delete failed")
		writeError(w, http.StatusInternalServerError, "profile delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetRecommendations returns the user's current recommendation set. An
// empty entry list is a valid answer meaning no strategy suits the user right
// now; 202 means the first recompute is still in flight.
func (s *Server) handleGetRecommendations(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	set, err := s.engine.GetRecommendations(r.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "profile not found")
		case errors.Is(err, engine.ErrPending):
			writeError(w, http.StatusAccepted, "recommendations are being computed, retry shortly")
		default:
			logrus.WithError(err).WithField("user_id", userID).Error("recommendation read failed")
			writeError(w, http.StatusInternalServerError, "recommendation read failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, set)
}

// handleGetAudit exposes the constraint-skip records of the user's last pass,
// answering "why is strategy X not in my set".
func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	skipped := s.engine.Audit(userID)
	if skipped == nil {
		skipped = []model.SkipRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"skipped": skipped,
	})
}

// handlePostSignals accepts a raw signal batch, mainly for operational
// backfills and testing; production batches arrive through the configured
// sources.
func (s *Server) handlePostSignals(w http.ResponseWriter, r *http.Request) {
	var batch model.RawBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "malformed signal batch: "+err.Error())
		return
	}
	if batch.Instrument == "" {
		writeError(w, http.StatusBadRequest, "instrument is required")
		return
	}
	if batch.ObservedAt.IsZero() {
		batch.ObservedAt = time.Now().UTC()
	}
	if batch.Source == "" {
		batch.Source = "manual"
	}

	if err := s.ingest(r.Context(), batch); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"instrument": batch.Instrument,
		"status":     "accepted",
	})
}
