package responder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soyeahso/livedesk/internal/apperr"
	"github.com/soyeahso/livedesk/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_GenerateAnswer(t *testing.T) {
	var got AnswerRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/answer", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"answer":" We ship worldwide. ","question":"Where are you located?","ticketSignal":false}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(config.ResponderConfig{Endpoint: srv.URL + "/v1/", APIKey: "key-1"})
	ans, err := c.GenerateAnswer(context.Background(), AnswerRequest{
		Message:        "Do you ship abroad?",
		OrgID:          "acme",
		AIOrgID:        "ai-acme",
		ConversationID: "C1",
		FAQs:           []config.FAQ{{Question: "Shipping?", Answer: "Worldwide"}},
		History:        []Turn{{Role: "visitor", Content: "Hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "We ship worldwide.", ans.Answer)
	assert.Equal(t, "Where are you located?", ans.Question)
	assert.False(t, ans.TicketSignal)

	assert.Equal(t, "Do you ship abroad?", got.Message)
	assert.Equal(t, "ai-acme", got.AIOrgID)
	require.Len(t, got.FAQs, 1)
	require.Len(t, got.History, 1)
}

func TestHTTPClient_TicketSignal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"answer":"Let me open a ticket for you.","ticketSignal":true}`))
	}))
	defer srv.Close()

	ans, err := NewHTTPClient(config.ResponderConfig{Endpoint: srv.URL}).
		GenerateAnswer(context.Background(), AnswerRequest{Message: "refund"})
	require.NoError(t, err)
	assert.True(t, ans.TicketSignal)
}

func TestHTTPClient_Summarize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/summarize", r.URL.Path)
		var req SummaryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Transcript, 2)
		_, _ = w.Write([]byte(`{"summary":"Visitor asked about refunds."}`))
	}))
	defer srv.Close()

	sum, err := NewHTTPClient(config.ResponderConfig{Endpoint: srv.URL}).Summarize(context.Background(), SummaryRequest{
		ConversationID: "C1",
		Transcript:     []Turn{{Role: "visitor", Content: "refund?"}, {Role: "agent", Content: "sure"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Visitor asked about refunds.", sum)
}

func TestHTTPClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(config.ResponderConfig{Endpoint: srv.URL}).
		GenerateAnswer(context.Background(), AnswerRequest{Message: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "overloaded")
	assert.Equal(t, apperr.CodeUnavailable, apperr.CodeOf(err))
}

func TestHTTPClient_ClientErrorIsNotUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad input", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(config.ResponderConfig{Endpoint: srv.URL}).
		GenerateAnswer(context.Background(), AnswerRequest{Message: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.NotEqual(t, apperr.CodeUnavailable, apperr.CodeOf(err))
}

func TestHTTPClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPClient(config.ResponderConfig{Endpoint: url}).
		Summarize(context.Background(), SummaryRequest{})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeUnavailable, apperr.CodeOf(err))
}

func TestHTTPClient_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := NewHTTPClient(config.ResponderConfig{Endpoint: srv.URL}).
		GenerateAnswer(context.Background(), AnswerRequest{Message: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse response")
}

func TestNew_Unconfigured(t *testing.T) {
	c := New(config.ResponderConfig{})
	assert.Equal(t, "none", c.Name())

	_, err := c.GenerateAnswer(context.Background(), AnswerRequest{})
	assert.True(t, errors.Is(err, ErrNotConfigured))
	_, err = c.Summarize(context.Background(), SummaryRequest{})
	assert.True(t, errors.Is(err, ErrNotConfigured))

	assert.Equal(t, "http", New(config.ResponderConfig{Endpoint: "http://x"}).Name())
}

func TestMockClient_Defaults(t *testing.T) {
	m := &MockClient{}
	ans, err := m.GenerateAnswer(context.Background(), AnswerRequest{})
	require.NoError(t, err)
	assert.Equal(t, "mock answer", ans.Answer)

	sum, err := m.Summarize(context.Background(), SummaryRequest{})
	require.NoError(t, err)
	assert.Equal(t, "mock summary", sum)
}
