package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExecutionHandler() *Execution {
	return &Execution{}
}

// --- Create ---

func TestExecutionCreate_InvalidJSON(t *testing.T) {
	h := newExecutionHandler()
	rec := httptest.NewRecorder()
	r := newRequestRaw(http.MethodPost, "/executions", "{bad json")

	h.Create(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "invalid JSON")
}

func TestExecutionCreate_MissingPayload(t *testing.T) {
	h := newExecutionHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/executions", map[string]any{
		"mode":   "push-payload",
		"target": map[string]any{"kind": "all"},
	})

	h.Create(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "validation error")
}

func TestExecutionCreate_UnknownMode(t *testing.T) {
	h := newExecutionHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/executions", map[string]any{
		"mode":    "arbitrary-shell",
		"target":  map[string]any{"kind": "all"},
		"payload": "reboot",
	})

	h.Create(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "validation error")
}

func TestExecutionCreate_UnknownTargetKind(t *testing.T) {
	h := newExecutionHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/executions", map[string]any{
		"mode":    "push-payload",
		"target":  map[string]any{"kind": "everything"},
		"payload": `{"action":"ping"}`,
	})

	h.Create(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "unknown target kind")
}

func TestExecutionCreate_FilterTargetWithoutExpression(t *testing.T) {
	h := newExecutionHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/executions", map[string]any{
		"mode":    "push-payload",
		"target":  map[string]any{"kind": "filter"},
		"payload": `{"action":"ping"}`,
	})

	h.Create(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "filter target needs a filter expression")
}

func TestExecutionCreate_AliasTargetWithoutAliases(t *testing.T) {
	h := newExecutionHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/executions", map[string]any{
		"mode":    "push-payload",
		"target":  map[string]any{"kind": "aliases"},
		"payload": `{"action":"ping"}`,
	})

	h.Create(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "alias target needs at least one alias")
}

func TestExecutionCreate_ShellCommandNotAllowlisted(t *testing.T) {
	h := newExecutionHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/executions", map[string]any{
		"mode":    "restricted-shell",
		"target":  map[string]any{"kind": "all"},
		"payload": "rm -rf /data",
	})

	h.Create(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "not allowlisted")
}

// --- Get ---

func TestExecutionGet_EmptyID(t *testing.T) {
	h := newExecutionHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodGet, "/executions/", nil)
	r = withChiURLParam(r, "id", "")

	h.Get(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "missing required ID")
}

// --- Cancel ---

func TestExecutionCancel_EmptyID(t *testing.T) {
	h := newExecutionHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/executions//cancel", nil)
	r = withChiURLParam(r, "id", "")

	h.Cancel(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "missing required ID")
}

// --- ReportResult ---

func TestExecutionReportResult_EmptyExecutionID(t *testing.T) {
	h := newExecutionHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/executions//results/dev-1", map[string]any{
		"status": "completed",
	})
	r = withChiURLParams(r, map[string]string{"id": "", "deviceID": "dev-1"})

	h.ReportResult(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "missing required ID")
}

func TestExecutionReportResult_EmptyDeviceID(t *testing.T) {
	h := newExecutionHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/executions/"+validID+"/results/", map[string]any{
		"status": "completed",
	})
	r = withChiURLParams(r, map[string]string{"id": validID, "deviceID": ""})

	h.ReportResult(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "missing required ID")
}

func TestExecutionReportResult_InvalidJSON(t *testing.T) {
	h := newExecutionHandler()
	rec := httptest.NewRecorder()
	r := newRequestRaw(http.MethodPost, "/executions/"+validID+"/results/dev-1", "{bad")
	r = withChiURLParams(r, map[string]string{"id": validID, "deviceID": "dev-1"})

	h.ReportResult(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "invalid JSON")
}

func TestExecutionReportResult_MissingStatus(t *testing.T) {
	h := newExecutionHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/executions/"+validID+"/results/dev-1", map[string]any{
		"detail": "done",
	})
	r = withChiURLParams(r, map[string]string{"id": validID, "deviceID": "dev-1"})

	h.ReportResult(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "validation error")
}

// --- Watch ---

func TestExecutionWatch_EmptyID(t *testing.T) {
	h := newExecutionHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodGet, "/executions//watch", nil)
	r = withChiURLParam(r, "id", "")

	h.Watch(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "missing required ID")
}

// --- Error response format ---

func TestExecutionCreate_ErrorResponseFormat(t *testing.T) {
	h := newExecutionHandler()
	rec := httptest.NewRecorder()
	r := newRequestRaw(http.MethodPost, "/executions", "{bad")

	h.Create(rec, r)

	var body map[string]any
	err := json.Unmarshal(rec.Body.Bytes(), &body)
	require.NoError(t, err)
	_, hasError := body["error"]
	assert.True(t, hasError)
}
