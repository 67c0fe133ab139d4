package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/deskhive/deskhive/history"
	"github.com/deskhive/deskhive/service"
	"github.com/deskhive/deskhive/store"
	"github.com/deskhive/deskhive/types"
)

// defaultHistoryBudget is the token budget used when the client does
// not pass one.
const defaultHistoryBudget = 4096

// APIHandlers serves the HTTP API.
type APIHandlers struct {
	store       store.MessageStore
	memory      *service.Memory
	toolAccess  *service.ToolAccess
	callTimeout time.Duration
	logger      *zap.Logger
}

// NewAPIHandlers wires the handlers to the service layer. callTimeout
// bounds a single tool invocation end to end; zero disables the bound.
func NewAPIHandlers(st store.MessageStore, memory *service.Memory, toolAccess *service.ToolAccess, callTimeout time.Duration, logger *zap.Logger) *APIHandlers {
	return &APIHandlers{
		store:       st,
		memory:      memory,
		toolAccess:  toolAccess,
		callTimeout: callTimeout,
		logger:      logger.With(zap.String("component", "api")),
	}
}

// HandleHealth reports liveness plus store reachability.
func (h *APIHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}

// HandleVersion reports build information.
func (h *APIHandlers) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// HandleGetThread returns thread metadata.
func (h *APIHandlers) HandleGetThread(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")

	thread, err := h.store.LoadThread(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", "failed to load thread")
		return
	}
	if thread == nil {
		writeError(w, http.StatusNotFound, "thread_not_found", "no such thread")
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

// HandleGetHistory returns the thread's token-bounded history.
//
// Query parameters:
//
//	budget  token budget (default 4096)
//	format  detailed | simple | model_native (default detailed)
//	memory  set to "false" to skip history entirely
func (h *APIHandlers) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")

	budget := defaultHistoryBudget
	if raw := r.URL.Query().Get("budget"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_budget", "budget must be an integer")
			return
		}
		budget = parsed
	}

	useMemory := true
	if raw := r.URL.Query().Get("memory"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_memory", "memory must be a boolean")
			return
		}
		useMemory = parsed
	}

	format := history.FormatDetailed
	if raw := r.URL.Query().Get("format"); raw != "" {
		format = history.Format(raw)
	}

	result, err := h.memory.GetBoundedHistory(r.Context(), threadID, budget, useMemory, format)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_format", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id": threadID,
		"source":    result.Source,
		"messages":  result.Formatted,
	})
}

type postMessageRequest struct {
	Role    types.Role `json:"role"`
	Content string     `json:"content"`
}

// HandlePostMessage appends a message to a thread.
func (h *APIHandlers) HandlePostMessage(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "empty_content", "message content is required")
		return
	}
	if req.Role == "" {
		req.Role = types.RoleUser
	}

	msg := types.NewMessage(req.Role, req.Content)
	msg.ThreadID = threadID
	if err := h.store.SaveMessage(r.Context(), &msg); err != nil {
		h.logger.Error("save message failed", zap.String("thread_id", threadID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store_error", "failed to save message")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type callToolRequest struct {
	Arguments map[string]any `json:"arguments"`
	Scope     []string       `json:"scope,omitempty"`
}

// HandleCallTool authorizes the caller for the tool, obtains a scoped
// client and invokes the tool on the agent's tool server.
func (h *APIHandlers) HandleCallTool(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent")
	toolName := r.PathValue("tool")
	principal := PrincipalFromContext(r.Context())

	var req callToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}

	scope := req.Scope
	if len(scope) == 0 {
		scope = []string{toolName}
	}

	ctx := r.Context()
	if h.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.callTimeout)
		defer cancel()
	}

	client, _, err := h.toolAccess.BuildToolClient(ctx, principal, agentID, scope)
	if err != nil {
		writeToolError(w, err)
		return
	}

	result, err := client.CallTool(ctx, toolName, req.Arguments)
	if err != nil {
		writeToolError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agent":   agentID,
		"tool":    toolName,
		"content": json.RawMessage(result.Content),
		"isError": result.IsError,
	})
}

// writeToolError maps tool-pipeline errors onto HTTP statuses.
func writeToolError(w http.ResponseWriter, err error) {
	switch {
	case types.IsCode(err, types.ErrToolAccessDenied), types.IsCode(err, types.ErrToolNotInScope):
		writeError(w, http.StatusForbidden, "tool_access_denied", err.Error())
	case types.IsCode(err, types.ErrUnauthorized), types.IsCode(err, types.ErrTokenExpired),
		types.IsCode(err, types.ErrRefreshExhausted):
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case types.IsCode(err, types.ErrUpstreamTimeout):
		writeError(w, http.StatusGatewayTimeout, "tool_server_timeout", err.Error())
	default:
		writeError(w, http.StatusBadGateway, "tool_server_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
