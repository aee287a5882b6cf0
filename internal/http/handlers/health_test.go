package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler_GetHealth(t *testing.T) {
	handler := NewHealthHandler()

	out, err := handler.GetHealth(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Body.Status)
	assert.NotEmpty(t, out.Body.Version)
	assert.Greater(t, out.Body.Goroutines, 0)
}

func TestHealthHandler_WithDatabaseAndSessions(t *testing.T) {
	svc, db := newTestService(t, directMedia())
	handler := NewHealthHandler().WithDB(db).WithStreamingService(svc)
	ctx := context.Background()

	input := &CreateSessionInput{}
	input.Body.MediaPath = "/media/movie.mp4"
	_, err := NewSessionHandler(svc).CreateSession(ctx, input)
	require.NoError(t, err)

	out, err := handler.GetHealth(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Body.Status)
	assert.Equal(t, 1, out.Body.Sessions)
}
