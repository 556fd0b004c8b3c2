package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"MotoMind-Vision/internal/capture"
	xerrors "MotoMind-Vision/internal/errors"
	"MotoMind-Vision/internal/vin"
	"MotoMind-Vision/pkg/plugin"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
	maxBatchItems     = 100
	healthTimeout     = 2 * time.Second
)

type validateRequest struct {
	VIN string `json:"vin"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, vin.ValidateVIN(req.VIN, s.validation))
}

type decodeResponse struct {
	Provider string                 `json:"provider"`
	Vehicle  vin.DecodedVehicleInfo `json:"vehicle"`
}

func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	if s.decoder == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "vin decoder is not configured")
		return
	}
	info, err := s.decoder.Decode(r.Context(), r.PathValue("vin"))
	if err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decodeResponse{Provider: s.decoder.Provider(), Vehicle: info})
}

// frame is one client supplied acquisition: the OCR output of one attempt, or
// the error the camera reported for it.
type frame struct {
	Data       map[string]any `json:"data"`
	Confidence float64        `json:"confidence"`
	Error      string         `json:"error,omitempty"`
}

type captureRequest struct {
	ID          string         `json:"id,omitempty"`
	CaptureType string         `json:"captureType"`
	Values      map[string]any `json:"values,omitempty"`
	Frames      []frame        `json:"frames"`
}

func (c captureRequest) validate() error {
	if strings.TrimSpace(c.CaptureType) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "captureType is required")
	}
	if len(c.Frames) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "at least one frame is required")
	}
	return nil
}

// frameAcquirer replays the request frames, one per attempt.
type frameAcquirer struct {
	frames []frame
}

func (a frameAcquirer) Acquire(_ context.Context, pc *plugin.Context) (*plugin.CaptureResult, error) {
	i := pc.Attempt - 1
	if i < 0 || i >= len(a.frames) {
		return nil, xerrors.New(xerrors.CodeAcquisitionFailure,
			fmt.Sprintf("no frame supplied for attempt %d", pc.Attempt), xerrors.WithRetryable(false))
	}
	f := a.frames[i]
	if f.Error != "" {
		return nil, xerrors.New(xerrors.CodeAcquisitionFailure, f.Error)
	}
	data := make(map[string]any, len(f.Data))
	for k, v := range f.Data {
		data[k] = v
	}
	return plugin.NewCaptureResult(data, f.Confidence), nil
}

type resultView struct {
	Data       map[string]any            `json:"data"`
	Confidence float64                   `json:"confidence"`
	Metadata   map[string]map[string]any `json:"metadata,omitempty"`
}

func viewOf(r *plugin.CaptureResult) *resultView {
	if r == nil {
		return nil
	}
	return &resultView{Data: r.Data, Confidence: r.Confidence, Metadata: r.Metadata()}
}

type captureResponse struct {
	ID          string                   `json:"id,omitempty"`
	SessionID   string                   `json:"sessionId"`
	CaptureType string                   `json:"captureType"`
	Attempts    int                      `json:"attempts"`
	Outcome     string                   `json:"outcome"`
	Result      *resultView              `json:"result,omitempty"`
	Render      map[string][]plugin.Node `json:"render,omitempty"`
	Error       *errorBody               `json:"error,omitempty"`
}

func outcomeOf(err error) string {
	if err == nil {
		return capture.OutcomeSuccess
	}
	switch xerrors.CodeOf(err) {
	case xerrors.CodeCaptureBlocked:
		return capture.OutcomeBlocked
	case xerrors.CodeCaptureCancelled:
		return capture.OutcomeCancelled
	case xerrors.CodeRetriesExhausted:
		return capture.OutcomeExhausted
	default:
		return capture.OutcomeFailed
	}
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		writeCodedError(w, err)
		return
	}

	ctx := r.Context()
	m, err := s.sessions(ctx)
	if err != nil {
		s.logger.Error("build capture session failed", slog.Any("error", err))
		writeCodedError(w, xerrors.Wrap(xerrors.CodePluginInit, err, "capture pipeline unavailable"))
		return
	}
	defer func() {
		if err := m.DestroyAll(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("destroy session plugins failed", slog.Any("error", err))
		}
	}()

	opts := append([]capture.Option{}, s.hostOptions...)
	opts = append(opts, capture.WithCaptureType(req.CaptureType), capture.WithValues(req.Values))
	host, err := capture.NewHost(m, frameAcquirer{frames: req.Frames}, opts...)
	if err != nil {
		writeCodedError(w, err)
		return
	}
	result, runErr := host.Run(ctx)
	session := host.Session()

	resp := captureResponse{
		ID:          req.ID,
		SessionID:   session.SessionID,
		CaptureType: req.CaptureType,
		Attempts:    session.Attempt,
		Outcome:     outcomeOf(runErr),
		Result:      viewOf(result),
		Error:       bodyOf(runErr),
		Render:      map[string][]plugin.Node{},
	}
	if nodes := m.RenderConfidence(&session, result); len(nodes) > 0 {
		resp.Render["confidence"] = nodes
	}
	if result != nil {
		if nodes := m.RenderResult(&session, result); len(nodes) > 0 {
			resp.Render["result"] = nodes
		}
	}

	status := http.StatusOK
	if runErr != nil {
		status = statusOf(runErr)
	}
	writeJSON(w, status, resp)
}

type batchRequest struct {
	Items []captureRequest `json:"items"`
}

type batchResponse struct {
	Items []captureResponse `json:"items"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Items) == 0 || len(req.Items) > maxBatchItems {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument),
			fmt.Sprintf("a batch needs between 1 and %d items", maxBatchItems))
		return
	}
	items := make([]capture.Item, 0, len(req.Items))
	for i, it := range req.Items {
		if err := it.validate(); err != nil {
			writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument),
				fmt.Sprintf("item %d: %s", i, xerrors.UserMessage(err)))
			return
		}
		id := it.ID
		if id == "" {
			id = strconv.Itoa(i)
		}
		items = append(items, capture.Item{
			ID:          id,
			CaptureType: it.CaptureType,
			Values:      it.Values,
			Acquirer:    frameAcquirer{frames: it.Frames},
		})
	}

	results := capture.NewBatch(s.sessions, s.concurrency, s.hostOptions...).Run(r.Context(), items)
	resp := batchResponse{Items: make([]captureResponse, len(results))}
	for i, res := range results {
		resp.Items[i] = captureResponse{
			ID:          res.ID,
			SessionID:   res.SessionID,
			CaptureType: items[i].CaptureType,
			Attempts:    res.Attempts,
			Outcome:     outcomeOf(res.Err),
			Result:      viewOf(res.Result),
			Error:       bodyOf(res.Err),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotFound, string(xerrors.CodeNotFound), "event history is not retained by this sink")
		return
	}
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = min(parsed, maxEventLimit)
		}
	}
	writeJSON(w, http.StatusOK, s.events.Recent(limit))
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		healthy = true
		checks  = make(map[string]string, len(s.checks))
	)
	for name, check := range s.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := "ok"
			if err := check(ctx); err != nil {
				status = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			checks[name] = status
			if status != "ok" {
				healthy = false
			}
		}()
	}
	wg.Wait()

	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Checks: checks})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Checks: checks})
}
