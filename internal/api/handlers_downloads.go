/**
 * @description
 * This file contains HTTP handlers for the offline download endpoints.
 * Conflict outcomes (upgrade_required, already_exists, limit_reached) carry a
 * machine-readable error_code so clients can branch to the right flow instead
 * of parsing message strings.
 */
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cinelux/entitlement-service/internal/app"
	"github.com/cinelux/entitlement-service/internal/store"
)

// handleCreateDownload admits a new offline download for the authenticated user.
func (h *Handler) handleCreateDownload(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "", "Could not get user ID from context")
		return
	}

	var req struct {
		MediaID string `json:"media_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "", "Invalid request body")
		return
	}
	mediaID, err := uuid.Parse(req.MediaID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "", "Invalid media ID format")
		return
	}

	download, err := h.service.RequestDownload(r.Context(), userID, mediaID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrUpgradeRequired):
			h.writeError(w, http.StatusForbidden, "upgrade_required", "Your plan does not include offline downloads")
		case errors.Is(err, app.ErrDownloadExists):
			h.writeError(w, http.StatusConflict, "already_exists", "This title is already downloaded")
		case errors.Is(err, app.ErrDownloadLimitReached):
			h.writeError(w, http.StatusConflict, "limit_reached", "Download limit reached; delete a download to free a slot")
		case errors.Is(err, app.ErrRateLimited):
			h.writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many download requests")
		case errors.Is(err, store.ErrMediaNotFound):
			h.writeError(w, http.StatusNotFound, "", "Media not found")
		default:
			log.Printf("level=warn component=api endpoint=create_download outcome=failed user_id=%s media_id=%s err=%v", userID, mediaID, err)
			h.writeError(w, http.StatusInternalServerError, "", "Failed to create download")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, download)
}

// handleListDownloads returns the user's non-expired downloads and quota stats.
func (h *Handler) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "", "Could not get user ID from context")
		return
	}

	list, err := h.service.ListDownloads(r.Context(), userID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=list_downloads outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "", "Failed to list downloads")
		return
	}

	h.writeJSON(w, http.StatusOK, list)
}

// handleDeleteDownload removes a download the user owns.
func (h *Handler) handleDeleteDownload(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "", "Could not get user ID from context")
		return
	}

	downloadID, err := uuid.Parse(chi.URLParam(r, "download_id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "", "Invalid download ID format")
		return
	}

	result, err := h.service.DeleteDownload(r.Context(), userID, downloadID)
	if err != nil {
		if errors.Is(err, store.ErrDownloadNotFound) {
			h.writeError(w, http.StatusNotFound, "", "Download not found")
			return
		}
		log.Printf("level=warn component=api endpoint=delete_download outcome=failed user_id=%s download_id=%s err=%v", userID, downloadID, err)
		h.writeError(w, http.StatusInternalServerError, "", "Failed to delete download")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}
