// events.go — журнал аудита одного файла.
package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	apierrors "github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/api/errors"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/domain/model"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/ledger"
)

const (
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
)

type eventResponse struct {
	Sequence  uint64    `json:"sequence"`
	Kind      string    `json:"kind"`
	CID       string    `json:"cid"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	TxID      string    `json:"tx_id"`
}

type eventListResponse struct {
	Items []eventResponse `json:"items"`
	// HasMore — выборка обрезана по limit; продолжение — from_seq = последний sequence + 1
	HasMore bool `json:"has_more"`
}

// parseEventQuery разбирает параметры выборки: kind (через запятую или
// повтором), from_seq, to_seq, limit.
func parseEventQuery(r *http.Request, cid string) (ledger.EventQuery, int, error) {
	q := ledger.EventQuery{CID: cid}
	params := r.URL.Query()

	for _, raw := range params["kind"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s == "" {
				continue
			}
			kind, err := model.ParseEventKind(s)
			if err != nil {
				return q, 0, err
			}
			q.Kinds = append(q.Kinds, kind)
		}
	}

	var err error
	if q.FromSeq, err = parseUintParam(params.Get("from_seq"), "from_seq"); err != nil {
		return q, 0, err
	}
	if q.ToSeq, err = parseUintParam(params.Get("to_seq"), "to_seq"); err != nil {
		return q, 0, err
	}

	limit := defaultEventsLimit
	if s := params.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return q, 0, errParam("limit", "положительным целым")
		}
		limit = min(n, maxEventsLimit)
	}
	return q, limit, nil
}

func parseUintParam(s, name string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errParam(name, "неотрицательным целым")
	}
	return v, nil
}

func errParam(name, want string) error {
	return fmt.Errorf("параметр %s должен быть %s числом", name, want)
}

// QueryEvents — GET /api/v1/files/{cid}/events?kind=&from_seq=&to_seq=&limit=.
// Журнал читается лениво и обрывается после limit событий.
func (h *APIHandler) QueryEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.caller(w, r); !ok {
		return
	}

	q, limit, err := parseEventQuery(r, pathParam(r, "cid"))
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	resp := eventListResponse{Items: []eventResponse{}}
	for e, err := range h.registry.QueryEvents(r.Context(), q) {
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		if len(resp.Items) == limit {
			resp.HasMore = true
			break
		}
		resp.Items = append(resp.Items, eventResponse{
			Sequence:  e.Sequence,
			Kind:      string(e.Kind),
			CID:       e.CID,
			Actor:     e.Actor.String(),
			Timestamp: e.Timestamp,
			TxID:      e.TxID,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
