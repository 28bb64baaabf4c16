package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/tangle-network/frost-blueprint/coordinator"
	"github.com/tangle-network/frost-blueprint/jobs"
)

// JobQueue accepts job events for the bridge.
type JobQueue interface {
	Push(ctx context.Context, ev jobs.Event) error
}

// ResultReader looks up submitted job results.
type ResultReader interface {
	Get(serviceID, callID uint64) (jobs.Result, bool)
}

// SessionReader looks up session state.
type SessionReader interface {
	Status(serviceID, callID uint64) (*coordinator.SessionInfo, bool)
}

// Handler serves the job API. Requests are queued and answered with 202;
// callers poll the result and session endpoints.
type Handler struct {
	queue    JobQueue
	results  ResultReader
	sessions SessionReader
	log      zerolog.Logger
}

func NewHandler(queue JobQueue, results ResultReader, sessions SessionReader, log zerolog.Logger) *Handler {
	return &Handler{
		queue:    queue,
		results:  results,
		sessions: sessions,
		log:      log.With().Str("component", "api").Logger(),
	}
}

type keygenRequest struct {
	ServiceID    uint64          `json:"service_id"`
	CallID       uint64          `json:"call_id"`
	Participants []hexutil.Bytes `json:"participants"`
	Threshold    int             `json:"threshold"`
	Ciphersuite  string          `json:"ciphersuite"`
}

type signRequest struct {
	ServiceID uint64          `json:"service_id"`
	CallID    uint64          `json:"call_id"`
	Signers   []hexutil.Bytes `json:"signers"`
	Message   hexutil.Bytes   `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func toBytes(in []hexutil.Bytes) [][]byte {
	out := make([][]byte, len(in))
	for i, b := range in {
		out[i] = b
	}
	return out
}

func (h *Handler) HandleKeygen(w http.ResponseWriter, r *http.Request) {
	var req keygenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Participants) == 0 || req.Threshold <= 0 || req.Ciphersuite == "" {
		writeError(w, http.StatusBadRequest, "participants, threshold and ciphersuite are required")
		return
	}
	h.enqueue(w, r, jobs.Event{
		Kind:         jobs.KeygenRequested,
		ServiceID:    req.ServiceID,
		CallID:       req.CallID,
		Participants: toBytes(req.Participants),
		Threshold:    req.Threshold,
		Ciphersuite:  req.Ciphersuite,
	})
}

func (h *Handler) HandleSign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Signers) == 0 {
		writeError(w, http.StatusBadRequest, "signers are required")
		return
	}
	h.enqueue(w, r, jobs.Event{
		Kind:         jobs.SignRequested,
		ServiceID:    req.ServiceID,
		CallID:       req.CallID,
		Participants: toBytes(req.Signers),
		Message:      req.Message,
	})
}

func (h *Handler) HandleTerminate(w http.ResponseWriter, r *http.Request) {
	serviceID, err := strconv.ParseUint(chi.URLParam(r, "service"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid service id")
		return
	}
	h.enqueue(w, r, jobs.Event{Kind: jobs.ServiceTerminated, ServiceID: serviceID})
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, ev jobs.Event) {
	if err := h.queue.Push(r.Context(), ev); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("job not queued")
		writeError(w, http.StatusServiceUnavailable, "job queue unavailable")
		return
	}
	h.log.Debug().
		Stringer("kind", ev.Kind).
		Uint64("service", ev.ServiceID).
		Uint64("call", ev.CallID).
		Msg("job queued")
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":     "accepted",
		"service_id": ev.ServiceID,
		"call_id":    ev.CallID,
	})
}

func parseCall(r *http.Request) (uint64, uint64, bool) {
	serviceID, err := strconv.ParseUint(chi.URLParam(r, "service"), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	callID, err := strconv.ParseUint(chi.URLParam(r, "call"), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return serviceID, callID, true
}

func (h *Handler) HandleResult(w http.ResponseWriter, r *http.Request) {
	serviceID, callID, ok := parseCall(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid service or call id")
		return
	}
	res, ok := h.results.Get(serviceID, callID)
	if !ok {
		writeError(w, http.StatusNotFound, "no result")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	serviceID, callID, ok := parseCall(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid service or call id")
		return
	}
	info, ok := h.sessions.Status(serviceID, callID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, info)
}
