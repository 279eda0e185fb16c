// grants.go — выдача и отзыв временного доступа.
package handlers

import (
	"net/http"
	"time"

	apierrors "github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/api/errors"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/domain/model"
)

type grantRequest struct {
	Grantee         string `json:"grantee"`
	DurationSeconds int64  `json:"duration_seconds"`
}

type grantResponse struct {
	CID       string    `json:"cid"`
	Grantee   string    `json:"grantee"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GrantTimedAccess — POST /api/v1/files/{cid}/grants.
func (h *APIHandler) GrantTimedAccess(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req grantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	grant, err := h.registry.GrantTimedAccess(r.Context(), caller,
		pathParam(r, "cid"), model.Identity(req.Grantee), req.DurationSeconds)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, grantResponse{
		CID:       grant.CID,
		Grantee:   grant.Grantee.String(),
		ExpiresAt: grant.ExpiresAt,
	})
}

// RevokeAccess — DELETE /api/v1/files/{cid}/grants/{grantee}.
func (h *APIHandler) RevokeAccess(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	err := h.registry.RevokeAccess(r.Context(), caller,
		pathParam(r, "cid"), model.Identity(pathParam(r, "grantee")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
