package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"arkavo.org/accesscore/internal/audit"
	"arkavo.org/accesscore/internal/chain"
	"arkavo.org/accesscore/internal/host"
	"arkavo.org/accesscore/internal/stream"
)

type blockView struct {
	chain.Block
	LastSeq uint64 `json:"last_seq"`
}

func (a *API) getBlock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, blockView{Block: a.node.Host.Block(), LastSeq: a.node.Host.LastSeq()})
}

func (a *API) sealBlock(w http.ResponseWriter, r *http.Request) {
	block, err := a.node.Host.SealBlock(r.Context())
	if err != nil {
		handleChainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "chain.block.sealed", map[string]any{
		"number":    block.Number,
		"timestamp": block.Timestamp,
	})
	writeJSON(w, http.StatusOK, blockView{Block: block, LastSeq: a.node.Host.LastSeq()})
}

type listEventsResponse struct {
	Items     []host.Record `json:"items"`
	NextAfter uint64        `json:"next_after"`
	AsOf      time.Time     `json:"as_of"`
}

func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	var after uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		after, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			badRequest(w, r, "after must be a non-negative integer")
			return
		}
	}

	items, err := a.node.Host.Events(r.Context(), after, limit)
	if err != nil {
		handleChainError(w, r, err)
		return
	}
	next := after
	if len(items) > 0 {
		next = items[len(items)-1].Seq
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Items: items, NextAfter: next, AsOf: time.Now().UTC()})
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}

// Stream serves committed events as server-sent events. The optional module
// and name query parameters narrow the feed.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	var filter stream.Filter
	if raw := r.URL.Query().Get("module"); raw != "" {
		addr, err := pathAddress(raw)
		if err != nil {
			badRequest(w, r, "invalid module address")
			return
		}
		filter.Module = addr
	}
	filter.Name = r.URL.Query().Get("name")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.node.Stream.Subscribe(ctx, filter)

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for rec := range ch {
		payload, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("id: " + strconv.FormatUint(rec.Seq, 10) + "\nevent: " + rec.Name + "\ndata: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}
