// requests.go — запросы доступа к файлам SHARE_ON_REQUEST и решения владельца.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/api/errors"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/domain/model"
)

type decisionRequest struct {
	Approve *bool `json:"approve"`
}

type accessRequestResponse struct {
	Index       int64      `json:"index"`
	CID         string     `json:"cid"`
	Owner       string     `json:"owner"`
	Requester   string     `json:"requester"`
	Approved    bool       `json:"approved"`
	Decided     bool       `json:"decided"`
	RequestedAt time.Time  `json:"requested_at"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
}

type accessRequestListResponse struct {
	Items []accessRequestResponse `json:"items"`
}

func toAccessRequestResponse(req *model.AccessRequest) accessRequestResponse {
	return accessRequestResponse{
		Index:       req.Index,
		CID:         req.CID,
		Owner:       req.Owner.String(),
		Requester:   req.Requester.String(),
		Approved:    req.Approved,
		Decided:     req.Decided,
		RequestedAt: req.RequestedAt,
		DecidedAt:   req.DecidedAt,
	}
}

// RequestAccess — POST /api/v1/files/{cid}/access-requests.
func (h *APIHandler) RequestAccess(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	req, err := h.registry.RequestAccess(r.Context(), caller, pathParam(r, "cid"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccessRequestResponse(req))
}

// GetAccessRequests — GET /api/v1/access-requests?owner=.
func (h *APIHandler) GetAccessRequests(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	reqs, err := h.registry.GetAccessRequests(r.Context(), identityParam(r, "owner", caller))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := accessRequestListResponse{Items: make([]accessRequestResponse, 0, len(reqs))}
	for _, req := range reqs {
		resp.Items = append(resp.Items, toAccessRequestResponse(req))
	}
	writeJSON(w, http.StatusOK, resp)
}

// DecideAccessRequest — POST /api/v1/access-requests/{index}/decision.
func (h *APIHandler) DecideAccessRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	index, err := strconv.ParseInt(pathParam(r, "index"), 10, 64)
	if err != nil {
		apierrors.ValidationError(w, "Индекс запроса должен быть целым числом")
		return
	}

	var body decisionRequest
	if err := decodeJSON(w, r, &body); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if body.Approve == nil {
		apierrors.ValidationError(w, "Поле approve обязательно")
		return
	}

	req, err := h.registry.DecideAccessRequest(r.Context(), caller, index, *body.Approve)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccessRequestResponse(req))
}
