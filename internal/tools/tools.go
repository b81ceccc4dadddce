// Package tools exposes the scheduling engine to the voice agent as
// MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stephenschoettler/frontdesk-ai/internal/logging"
	"github.com/stephenschoettler/frontdesk-ai/internal/metrics"
	"github.com/stephenschoettler/frontdesk-ai/internal/model"
	"github.com/stephenschoettler/frontdesk-ai/internal/scheduling"
)

// SchedulingEngine is the slice of the scheduling engine the tools
// call.
type SchedulingEngine interface {
	AvailableSlots(ctx context.Context, tenantID string, day time.Time, filter scheduling.TimeOfDay) ([]scheduling.Slot, error)
	Book(ctx context.Context, tenantID string, start, end time.Time, callerName, callerPhone string) (*scheduling.Booking, error)
	Reschedule(ctx context.Context, tenantID, bookingID string, newStart, newEnd time.Time, callerPhone string) (*scheduling.Booking, error)
	Cancel(ctx context.Context, tenantID, bookingID, callerPhone string) error
	ListForCaller(ctx context.Context, tenantID, callerPhone string) ([]scheduling.Booking, error)
}

// Adapter owns the tool handlers and their shared dependencies.
type Adapter struct {
	engine  SchedulingEngine
	metrics metrics.Recorder
	logger  *slog.Logger
}

// NewAdapter creates the tool adapter.
func NewAdapter(engine SchedulingEngine, recorder metrics.Recorder, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Adapter{
		engine:  engine,
		metrics: recorder,
		logger:  logging.WithComponent(logger, "tools"),
	}
}

// errorPayload is the structured error the agent receives. The kind is
// stable vocabulary the agent's prompt is written against; the message
// is safe to read aloud.
type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// toolError renders a domain error as a structured tool result. The
// MCP call itself succeeds; only protocol-level failures return a Go
// error.
func toolError(err error) *mcp.CallToolResult {
	payload := errorPayload{
		Error:   Kind(err),
		Message: err.Error(),
	}
	var domainErr *model.DomainError
	if errors.As(err, &domainErr) {
		payload.Message = domainErr.Message
	}

	data, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	result := mcp.NewToolResultText(string(data))
	result.IsError = true
	return result
}

// badArguments renders an argument validation failure.
func badArguments(message string) *mcp.CallToolResult {
	return toolError(model.NewDomainError(model.KindBadToolArguments, message))
}

// toolJSON renders a success payload as JSON text.
func toolJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// Kind extracts the domain error kind for metrics and payloads.
// Unclassified failures read as calendar_unavailable so the agent gets
// a safe generic script.
func Kind(err error) string {
	return string(model.KindOf(err))
}

// observe wraps a handler with latency and outcome recording.
func (a *Adapter) observe(tool string, start time.Time, result *mcp.CallToolResult, err error) {
	a.metrics.RecordToolLatency(tool, time.Since(start))
	status := logging.StatusSuccess
	switch {
	case err != nil:
		status = logging.StatusError
	case result != nil && result.IsError:
		status = "domain_error"
	}
	a.metrics.RecordToolCall(tool, status)
	a.logger.Info("tool call finished",
		logging.Tool(tool), logging.Status(status), "duration_ms", time.Since(start).Milliseconds())
}
