package mcpmgr

import (
	"context"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingElicitationsRespond(t *testing.T) {
	t.Parallel()
	queue := NewPendingElicitations()
	notified := make(chan ElicitationEvent, 1)
	queue.Notify = func(e ElicitationEvent) { notified <- e }

	h := ResolveElicitation(ServerIdentity{Key: "linear", URL: "https://mcp.linear.app/mcp"}, nil, &ServerHandlers{Elicitation: queue.Handler()})
	require.NotNil(t, h)

	type outcome struct {
		res *mcp.ElicitResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h(context.Background(), &mcp.ElicitRequest{Params: &mcp.ElicitParams{Message: "Pick a team"}})
		done <- outcome{res, err}
	}()

	var event ElicitationEvent
	select {
	case event = <-notified:
	case <-time.After(time.Second):
		t.Fatal("request was not parked")
	}
	assert.Equal(t, "linear", event.Server.Key)
	assert.Equal(t, "Pick a team", event.Message)
	require.Len(t, queue.Pending(), 1)

	require.True(t, queue.Respond(event.RequestID, &mcp.ElicitResult{Action: "accept", Content: map[string]any{"team": "core"}}))
	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, "accept", got.res.Action)
	assert.Empty(t, queue.Pending())
	assert.False(t, queue.Respond(event.RequestID, nil))
}

func TestPendingElicitationsNilResultDeclines(t *testing.T) {
	t.Parallel()
	queue := NewPendingElicitations()
	notified := make(chan ElicitationEvent, 1)
	queue.Notify = func(e ElicitationEvent) { notified <- e }
	h := queue.Handler()

	errc := make(chan error, 1)
	go func() {
		_, err := h(context.Background(), ServerIdentity{Key: "a"}, &mcp.ElicitRequest{Params: &mcp.ElicitParams{}})
		errc <- err
	}()
	event := <-notified
	require.True(t, queue.Respond(event.RequestID, nil))
	assert.ErrorIs(t, <-errc, ErrElicitationDeclined)
}

func TestPendingElicitationsContextCancel(t *testing.T) {
	t.Parallel()
	queue := NewPendingElicitations()
	ctx, cancel := context.WithCancel(context.Background())
	queue.Notify = func(ElicitationEvent) { cancel() }

	_, err := queue.Handler()(ctx, ServerIdentity{Key: "a"}, &mcp.ElicitRequest{Params: &mcp.ElicitParams{}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, queue.Pending())
}

func TestResolveSamplingFallsBackToDefault(t *testing.T) {
	t.Parallel()
	var got ServerIdentity
	defaults := &ServerHandlers{Sampling: func(_ context.Context, id ServerIdentity, _ *mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error) {
		got = id
		return &mcp.CreateMessageResult{Model: "m"}, nil
	}}
	id := ServerIdentity{Key: "github", URL: "https://api.github.com", DisplayName: "GitHub"}

	assert.Nil(t, ResolveSampling(id, nil, nil))
	h := ResolveSampling(id, &ServerHandlers{}, defaults)
	require.NotNil(t, h)
	res, err := h(context.Background(), &mcp.CreateMessageRequest{})
	require.NoError(t, err)
	assert.Equal(t, "m", res.Model)
	assert.Equal(t, id, got)
}
