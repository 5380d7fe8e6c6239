package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/soyeahso/livedesk/internal/apperr"
)

// HealthResponse is returned by health endpoints. The public HTTP endpoint
// only populates Status; the RPC handler populates all fields.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Clients int    `json:"clients,omitempty"`
	Agents  int    `json:"agents,omitempty"`
	Orgs    int    `json:"orgs,omitempty"`
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// endRequest is the body of the external end-chat call.
type endRequest struct {
	EndedBy string `json:"endedBy"`
}

// handleEndConversation ends a conversation on behalf of an external system.
func (s *Server) handleEndConversation(w http.ResponseWriter, r *http.Request) {
	if res := AuthorizeHTTP(s.auth, r); !res.OK {
		s.log.Warn().Str("remote", r.RemoteAddr).Str("reason", res.Reason).Msg("end call rejected")
		writeJSONError(w, http.StatusUnauthorized, "unauthorized", res.Reason)
		return
	}

	var body endRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, string(apperr.CodeInvalid), "invalid JSON body")
			return
		}
	}
	if body.EndedBy == "" {
		body.EndedBy = "api"
	}

	conv, err := s.bridge.EndConversation(r.Context(), r.PathValue("id"), body.EndedBy)
	if err != nil {
		writeJSONError(w, apperr.HTTPStatus(err), string(apperr.CodeOf(err)), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "error": message})
}

// RequestHandler processes an incoming RPC request frame from a client.
type RequestHandler func(ctx *RequestContext)

// RequestContext carries everything a handler needs.
type RequestContext struct {
	Ctx    context.Context
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{
		Code:    code,
		Message: message,
	})
}

// Fail maps an application error onto an error response.
func (rc *RequestContext) Fail(err error) {
	code := apperr.CodeOf(err)
	shape := ErrorShape{Code: string(code), Message: err.Error()}
	switch code {
	case apperr.CodeUnavailable:
		shape.Retryable = true
	case apperr.CodeInternal:
		shape.Message = "internal error"
		var ae *apperr.Error
		if errors.As(err, &ae) {
			shape.Message = ae.Message
		}
		rc.Server.log.Error().Err(err).Str("method", rc.Frame.Method).Str("connId", rc.Client.ConnID).Msg("request failed")
	}
	rc.Client.RespondError(rc.Frame.ID, shape)
}

// Params unmarshals the request params into the given target.
func (rc *RequestContext) Params(target any) error {
	if rc.Frame.Params == nil {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}
