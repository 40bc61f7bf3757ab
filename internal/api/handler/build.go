package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/sergiogordon/unitymdm-prod-sub004/internal/api/request"
	"github.com/sergiogordon/unitymdm-prod-sub004/internal/api/response"
	"github.com/sergiogordon/unitymdm-prod-sub004/internal/core"
	"github.com/sergiogordon/unitymdm-prod-sub004/internal/model"
)

// ArtifactStore receives uploaded build artifacts. Implemented by the S3
// artifact store.
type ArtifactStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
}

type Build struct {
	svc       *core.BuildService
	artifacts ArtifactStore
}

func NewBuild(svc *core.BuildService, artifacts ArtifactStore) *Build {
	return &Build{svc: svc, artifacts: artifacts}
}

func (h *Build) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateBuild
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	build := &model.Build{
		PackageName:       req.PackageName,
		VersionCode:       req.VersionCode,
		VersionName:       req.VersionName,
		Checksum:          req.Checksum,
		SignerFingerprint: req.SignerFingerprint,
		FileSize:          req.FileSize,
		ArtifactKey:       req.ArtifactKey,
		ReleaseNotes:      req.ReleaseNotes,
	}

	if err := h.svc.Create(r.Context(), build); err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, build)
}

func (h *Build) List(w http.ResponseWriter, r *http.Request) {
	p := request.ParsePagination(r)
	packageName := r.URL.Query().Get("package")

	builds, hasMore, err := h.svc.List(r.Context(), packageName, p.Limit, p.Cursor)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	nextCursor := ""
	if hasMore && len(builds) > 0 {
		nextCursor = builds[len(builds)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, builds, nextCursor, hasMore)
}

func (h *Build) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	build, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, build)
}

func (h *Build) Promote(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.Promote
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	prior, err := h.svc.Promote(r.Context(), id, req.RolloutPercent, req.WifiOnly, req.MustInstall)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	zerolog.Ctx(r.Context()).Info().
		Str("build_id", id).
		Int("rollout_percent", req.RolloutPercent).
		Msg("build promoted")

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"build_id":        id,
		"prior_build_id":  prior,
		"rollout_percent": req.RolloutPercent,
	})
}

func (h *Build) AdjustRollout(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.AdjustRollout
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	oldPercent, newPercent, err := h.svc.AdjustRollout(r.Context(), id, req.RolloutPercent)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]int{
		"old_percent": oldPercent,
		"new_percent": newPercent,
	})
}

func (h *Build) Rollback(w http.ResponseWriter, r *http.Request) {
	packageName, err := request.RequireID(chi.URLParam(r, "package"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.Rollback
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.svc.Rollback(r.Context(), packageName, req.ForceDowngrade)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, result)
}

// UploadArtifact streams the APK body into the artifact store under the
// build's registered artifact key.
func (h *Build) UploadArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if r.ContentLength <= 0 {
		response.WriteError(w, http.StatusBadRequest, "artifact body required")
		return
	}

	build, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/vnd.android.package-archive"
	}
	if err := h.artifacts.Put(r.Context(), build.ArtifactKey, r.Body, r.ContentLength, contentType); err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]string{
		"build_id":     id,
		"artifact_key": build.ArtifactKey,
	})
}

// Manifest is the device-facing update check. A no-update decision comes
// back as 304 with the reason in a header.
func (h *Build) Manifest(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	packageName := r.URL.Query().Get("package")
	if deviceID == "" || packageName == "" {
		response.WriteError(w, http.StatusBadRequest, "device_id and package are required")
		return
	}

	versionCode := int64(0)
	if raw := r.URL.Query().Get("version_code"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			response.WriteError(w, http.StatusBadRequest, "invalid version_code")
			return
		}
		versionCode = parsed
	}

	manifest, reason, err := h.svc.CheckManifest(r.Context(), deviceID, packageName, versionCode)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	zerolog.Ctx(r.Context()).Debug().
		Str("device_id", deviceID).
		Str("package", packageName).
		Str("reason", reason).
		Msg("manifest check")

	if manifest == nil {
		w.Header().Set("X-Manifest-Reason", reason)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	response.WriteJSON(w, http.StatusOK, manifest)
}
