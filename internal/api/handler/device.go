package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sergiogordon/unitymdm-prod-sub004/internal/api/request"
	"github.com/sergiogordon/unitymdm-prod-sub004/internal/api/response"
	"github.com/sergiogordon/unitymdm-prod-sub004/internal/core"
	"github.com/sergiogordon/unitymdm-prod-sub004/internal/model"
)

type Device struct {
	svc  *core.DeviceService
	exec *core.ExecutionService
}

func NewDevice(svc *core.DeviceService, exec *core.ExecutionService) *Device {
	return &Device{svc: svc, exec: exec}
}

func (h *Device) Enroll(w http.ResponseWriter, r *http.Request) {
	var req request.Enroll
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	device := &model.Device{
		ID:        req.DeviceID,
		Alias:     req.Alias,
		Model:     req.Model,
		OSVersion: req.OSVersion,
		PushToken: req.PushToken,
	}

	if err := h.svc.Enroll(r.Context(), device); err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, device)
}

func (h *Device) List(w http.ResponseWriter, r *http.Request) {
	p := request.ParsePagination(r)
	onlineOnly := r.URL.Query().Get("online_only") == "true"

	devices, hasMore, err := h.svc.List(r.Context(), onlineOnly, p.Limit, p.Cursor)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	nextCursor := ""
	if hasMore && len(devices) > 0 {
		nextCursor = devices[len(devices)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, devices, nextCursor, hasMore)
}

func (h *Device) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	device, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, device)
}

func (h *Device) Rename(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.Rename
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Rename(r.Context(), id, req.Alias); err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]string{"id": id, "alias": req.Alias})
}

// Checkin records the agent heartbeat and forwards any per-execution status
// reports to the tables the poll loop reads.
func (h *Device) Checkin(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.Checkin
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Checkin(r.Context(), id, req.InstalledVersions, req.BatteryPercent, req.NetworkType); err != nil {
		response.WriteServiceError(w, err)
		return
	}

	for _, report := range req.Reports {
		err := h.exec.InsertStatusReport(r.Context(), core.StatusReport{
			ExecutionID: report.ExecutionID,
			DeviceID:    id,
			Status:      report.Status,
			Detail:      report.Detail,
		})
		if err != nil {
			response.WriteServiceError(w, err)
			return
		}
	}

	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
