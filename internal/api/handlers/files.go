// files.go — регистрация файлов, списки и проверка доступа.
package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	apierrors "github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/api/errors"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/domain/model"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/service"
)

type registerFileRequest struct {
	CID                  string   `json:"cid"`
	Visibility           string   `json:"visibility"`
	ShareList            []string `json:"share_list"`
	GrantDurationSeconds int64    `json:"grant_duration_seconds"`
}

// fileResponse — запись файла. share_list отдаётся только владельцу.
type fileResponse struct {
	CID        string    `json:"cid"`
	Owner      string    `json:"owner"`
	Visibility string    `json:"visibility"`
	ShareList  []string  `json:"share_list,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Ordinal    int64     `json:"ordinal"`
}

type cidListResponse struct {
	CIDs []string `json:"cids"`
}

type accessResponse struct {
	CID      string    `json:"cid"`
	Identity string    `json:"identity"`
	At       time.Time `json:"at"`
	Active   bool      `json:"active"`
}

func toFileResponse(f *model.FileRecord, viewer model.Identity) fileResponse {
	resp := fileResponse{
		CID:        f.CID,
		Owner:      f.Owner.String(),
		Visibility: string(f.Visibility),
		CreatedAt:  f.CreatedAt,
		Ordinal:    f.Ordinal,
	}
	if viewer == f.Owner {
		resp.ShareList = make([]string, len(f.SharedWith))
		for i, id := range f.SharedWith {
			resp.ShareList[i] = id.String()
		}
	}
	return resp
}

// parseVisibility разбирает режим видимости в ошибку ядра.
func parseVisibility(s string) (model.Visibility, error) {
	v, err := model.ParseVisibility(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", service.ErrInvalidVisibility, err)
	}
	return v, nil
}

// RegisterFile — POST /api/v1/files.
func (h *APIHandler) RegisterFile(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req registerFileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	visibility, err := parseVisibility(req.Visibility)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	record, err := h.registry.RegisterFile(r.Context(), caller, service.RegisterFileInput{
		CID:                  req.CID,
		Visibility:           visibility,
		ShareList:            toIdentities(req.ShareList),
		GrantDurationSeconds: req.GrantDurationSeconds,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toFileResponse(record, caller))
}

// ListFiles — GET /api/v1/files?owner= | ?visibility=.
// Без параметров возвращает файлы вызывающего.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	owner, visibility := q.Get("owner"), q.Get("visibility")
	if owner != "" && visibility != "" {
		apierrors.ValidationError(w, "Параметры owner и visibility взаимоисключающие")
		return
	}

	var (
		cids []string
		err  error
	)
	if visibility != "" {
		var v model.Visibility
		if v, err = parseVisibility(visibility); err == nil {
			cids, err = h.registry.GetFilesByVisibility(r.Context(), v)
		}
	} else {
		cids, err = h.registry.GetUserFiles(r.Context(), identityParam(r, "owner", caller))
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, cidListResponse{CIDs: nonNil(cids)})
}

// GetFile — GET /api/v1/files/{cid}.
func (h *APIHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	record, err := h.registry.GetFile(r.Context(), pathParam(r, "cid"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toFileResponse(record, caller))
}

// CheckAccess — GET /api/v1/files/{cid}/access?identity=&at=.
// По умолчанию проверяется вызывающий в текущий момент; в ответе
// возвращается момент, на который выполнена проверка.
func (h *APIHandler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	at := h.registry.Now()
	if s := strings.TrimSpace(r.URL.Query().Get("at")); s != "" {
		var err error
		if at, err = time.Parse(time.RFC3339, s); err != nil {
			apierrors.ValidationError(w, "Параметр at должен быть в формате RFC 3339")
			return
		}
		at = at.UTC()
	}

	cid := pathParam(r, "cid")
	id := identityParam(r, "identity", caller)

	active, err := h.registry.IsAccessActive(r.Context(), cid, id, at)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, accessResponse{CID: cid, Identity: id.String(), At: at, Active: active})
}

// GetSharedWithMe — GET /api/v1/shared-with-me?identity=.
func (h *APIHandler) GetSharedWithMe(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	cids, err := h.registry.GetSharedWithMe(r.Context(), identityParam(r, "identity", caller))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, cidListResponse{CIDs: nonNil(cids)})
}
