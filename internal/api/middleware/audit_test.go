package middleware

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractResource(t *testing.T) {
	tests := []struct {
		path     string
		wantType string
		wantID   string
	}{
		{"/api/v1/builds", "builds", ""},
		{"/api/v1/builds/abc", "builds", "abc"},
		{"/api/v1/builds/abc/promote", "promote", ""},
		{"/api/v1/executions/e1/results/d1", "results", "d1"},
		{"/api/v1/devices/d1/checkin", "checkin", ""},
	}
	for _, tt := range tests {
		resourceType, resourceID := extractResource(tt.path)
		if tt.wantType == "" {
			assert.Nil(t, resourceType, tt.path)
		} else {
			require.NotNil(t, resourceType, tt.path)
			assert.Equal(t, tt.wantType, *resourceType, tt.path)
		}
		if tt.wantID == "" {
			assert.Nil(t, resourceID, tt.path)
		} else {
			require.NotNil(t, resourceID, tt.path)
			assert.Equal(t, tt.wantID, *resourceID, tt.path)
		}
	}
}

func TestSanitizeBody_RedactsSensitiveFields(t *testing.T) {
	body := []byte(`{"alias":"dev_a","push_token":"fcm-secret","api_key":"mdm_x"}`)
	sanitized := sanitizeBody(body)

	var data map[string]any
	require.NoError(t, json.Unmarshal(sanitized, &data))
	assert.Equal(t, "dev_a", data["alias"])
	assert.Equal(t, "[REDACTED]", data["push_token"])
	assert.Equal(t, "[REDACTED]", data["api_key"])
}

func TestSanitizeBody_NonObjectPassedThrough(t *testing.T) {
	body := []byte(`[1,2,3]`)
	assert.Equal(t, json.RawMessage(body), sanitizeBody(body))
}
