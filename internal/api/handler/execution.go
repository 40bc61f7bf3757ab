package handler

import (
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/sergiogordon/unitymdm-prod-sub004/internal/api/middleware"
	"github.com/sergiogordon/unitymdm-prod-sub004/internal/api/request"
	"github.com/sergiogordon/unitymdm-prod-sub004/internal/api/response"
	"github.com/sergiogordon/unitymdm-prod-sub004/internal/core"
	"github.com/sergiogordon/unitymdm-prod-sub004/internal/dispatch"
	"github.com/sergiogordon/unitymdm-prod-sub004/internal/model"
)

const previewSampleSize = 10

type Execution struct {
	svc        *core.ExecutionService
	resolver   *dispatch.Resolver
	supervisor *dispatch.Supervisor
}

func NewExecution(svc *core.ExecutionService, resolver *dispatch.Resolver, supervisor *dispatch.Supervisor) *Execution {
	return &Execution{svc: svc, resolver: resolver, supervisor: supervisor}
}

// Create starts a run, or with dry_run set resolves the target and returns
// a preview without dispatching anything.
func (h *Execution) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateExecution
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.DryRun {
		preview, err := h.resolver.Preview(r.Context(), req.Target, previewSampleSize)
		if err != nil {
			response.WriteServiceError(w, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, preview)
		return
	}

	createdBy := ""
	if identity := middleware.GetIdentity(r.Context()); identity != nil {
		createdBy = identity.ID
	}

	exec := &model.Execution{
		Mode:      req.Mode,
		Target:    req.Target,
		Payload:   req.Payload,
		CreatedBy: createdBy,
	}
	if err := h.svc.Create(r.Context(), exec); err != nil {
		response.WriteServiceError(w, err)
		return
	}

	if err := h.supervisor.Start(r.Context(), exec); err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusAccepted, exec)
}

func (h *Execution) List(w http.ResponseWriter, r *http.Request) {
	p := request.ParsePagination(r)

	executions, hasMore, err := h.svc.List(r.Context(), p.Limit, p.Cursor)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	nextCursor := ""
	if hasMore && len(executions) > 0 {
		nextCursor = executions[len(executions)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, executions, nextCursor, hasMore)
}

func (h *Execution) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	exec, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	results, err := h.svc.ListResults(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"execution": exec,
		"results":   results,
	})
}

func (h *Execution) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.supervisor.Cancel(r.Context(), id); err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": model.ExecStatusCancelled})
}

// ReportResult is the device callback for one result row.
func (h *Execution) ReportResult(w http.ResponseWriter, r *http.Request) {
	execID, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	deviceID, err := request.RequireID(chi.URLParam(r, "deviceID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.ReportResult
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.InsertStatusReport(r.Context(), core.StatusReport{
		ExecutionID: execID,
		DeviceID:    deviceID,
		Status:      req.Status,
		Detail:      req.Detail,
	}); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	if err := h.supervisor.Report(r.Context(), execID, deviceID, req.Status, req.Detail); err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Watch streams live counter snapshots over a websocket while the execution
// runs, then sends the final row and closes.
func (h *Execution) Watch(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		counters, running := h.supervisor.Snapshot(id)
		if !running {
			exec, err := h.svc.GetByID(ctx, id)
			if err != nil {
				conn.Close(websocket.StatusInternalError, "execution lookup failed")
				return
			}
			_ = wsjson.Write(ctx, conn, exec)
			return
		}
		if err := wsjson.Write(ctx, conn, counters); err != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
