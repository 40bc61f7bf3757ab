package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsTerminalResult(t *testing.T) {
	for _, status := range []string{ResultCompleted, ResultFailed, ResultTimeout, ResultCancelled} {
		assert.True(t, IsTerminalResult(status), "status %s should be terminal", status)
	}
	for _, status := range []string{ResultPending, ResultSent, ResultDownloading, ResultInstalling} {
		assert.False(t, IsTerminalResult(status), "status %s should not be terminal", status)
	}
}

func TestIsSuccessResult(t *testing.T) {
	assert.True(t, IsSuccessResult(ResultCompleted))
	assert.False(t, IsSuccessResult(ResultFailed))
	assert.False(t, IsSuccessResult(ResultTimeout))
	assert.False(t, IsSuccessResult(ResultCancelled))
}

func TestDeviceOnline(t *testing.T) {
	now := time.Now()

	recent := now.Add(-2 * time.Minute)
	stale := now.Add(-time.Hour)

	assert.True(t, (&Device{LastSeen: &recent}).Online(now))
	assert.False(t, (&Device{LastSeen: &stale}).Online(now))
	assert.False(t, (&Device{}).Online(now))
}
