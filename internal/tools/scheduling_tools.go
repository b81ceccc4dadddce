package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/stephenschoettler/frontdesk-ai/internal/logging"
	"github.com/stephenschoettler/frontdesk-ai/internal/model"
	"github.com/stephenschoettler/frontdesk-ai/internal/scheduling"
)

// RegisterSchedulingTools registers the appointment tools with the MCP
// server.
func (a *Adapter) RegisterSchedulingTools(s *mcpserver.MCPServer) {
	slotsTool := mcp.NewTool("get_available_slots",
		mcp.WithDescription("List open appointment slots for a given day, within business hours"),
		mcp.WithString("tenant_id",
			mcp.Required(),
			mcp.Description("Tenant the call belongs to"),
		),
		mcp.WithString("date",
			mcp.Required(),
			mcp.Description("Day to check, as YYYY-MM-DD in the tenant's timezone"),
		),
		mcp.WithString("time_range",
			mcp.Description("Optional filter: 'morning' (before noon) or 'afternoon'"),
		),
	)
	s.AddTool(slotsTool, a.handleGetAvailableSlots)

	bookTool := mcp.NewTool("book_appointment",
		mcp.WithDescription("Book an appointment in a slot returned by get_available_slots"),
		mcp.WithString("tenant_id",
			mcp.Required(),
			mcp.Description("Tenant the call belongs to"),
		),
		mcp.WithString("start_iso",
			mcp.Required(),
			mcp.Description("Slot start time (RFC3339, e.g. '2026-09-10T10:00:00-07:00')"),
		),
		mcp.WithString("end_iso",
			mcp.Required(),
			mcp.Description("Slot end time (RFC3339); must match the offered slot"),
		),
		mcp.WithString("caller_name",
			mcp.Required(),
			mcp.Description("Name of the caller the appointment is for"),
		),
		mcp.WithString("caller_phone",
			mcp.Required(),
			mcp.Description("Caller's phone number; used later to look the booking up"),
		),
	)
	s.AddTool(bookTool, a.handleBookAppointment)

	rescheduleTool := mcp.NewTool("reschedule_appointment",
		mcp.WithDescription("Move an existing appointment to a new slot"),
		mcp.WithString("tenant_id",
			mcp.Required(),
			mcp.Description("Tenant the call belongs to"),
		),
		mcp.WithString("appointment_id",
			mcp.Required(),
			mcp.Description("Appointment ID from list_my_appointments or book_appointment"),
		),
		mcp.WithString("new_start_iso",
			mcp.Required(),
			mcp.Description("New slot start time (RFC3339)"),
		),
		mcp.WithString("new_end_iso",
			mcp.Required(),
			mcp.Description("New slot end time (RFC3339)"),
		),
		mcp.WithString("caller_phone",
			mcp.Required(),
			mcp.Description("Caller's phone number, must match the appointment"),
		),
	)
	s.AddTool(rescheduleTool, a.handleRescheduleAppointment)

	cancelTool := mcp.NewTool("cancel_appointment",
		mcp.WithDescription("Cancel an existing appointment"),
		mcp.WithString("tenant_id",
			mcp.Required(),
			mcp.Description("Tenant the call belongs to"),
		),
		mcp.WithString("appointment_id",
			mcp.Required(),
			mcp.Description("Appointment ID from list_my_appointments or book_appointment"),
		),
		mcp.WithString("caller_phone",
			mcp.Required(),
			mcp.Description("Caller's phone number, must match the appointment"),
		),
	)
	s.AddTool(cancelTool, a.handleCancelAppointment)

	listTool := mcp.NewTool("list_my_appointments",
		mcp.WithDescription("List the caller's upcoming appointments, matched by phone number"),
		mcp.WithString("tenant_id",
			mcp.Required(),
			mcp.Description("Tenant the call belongs to"),
		),
		mcp.WithString("caller_phone",
			mcp.Required(),
			mcp.Description("Caller's phone number"),
		),
	)
	s.AddTool(listTool, a.handleListMyAppointments)
}

type slotsRequest struct {
	TenantID  string `json:"tenant_id"`
	Date      string `json:"date"`
	TimeRange string `json:"time_range"`
}

type bookRequest struct {
	TenantID    string `json:"tenant_id"`
	StartISO    string `json:"start_iso"`
	EndISO      string `json:"end_iso"`
	CallerName  string `json:"caller_name"`
	CallerPhone string `json:"caller_phone"`
}

type rescheduleRequest struct {
	TenantID      string `json:"tenant_id"`
	AppointmentID string `json:"appointment_id"`
	NewStartISO   string `json:"new_start_iso"`
	NewEndISO     string `json:"new_end_iso"`
	CallerPhone   string `json:"caller_phone"`
}

type cancelRequest struct {
	TenantID      string `json:"tenant_id"`
	AppointmentID string `json:"appointment_id"`
	CallerPhone   string `json:"caller_phone"`
}

type listRequest struct {
	TenantID    string `json:"tenant_id"`
	CallerPhone string `json:"caller_phone"`
}

type slotsResponse struct {
	Date  string            `json:"date"`
	Slots []scheduling.Slot `json:"slots"`
}

// appointmentPayload is the flat appointment shape every mutating tool
// returns.
type appointmentPayload struct {
	AppointmentID string    `json:"appointment_id"`
	StartISO      time.Time `json:"start_iso"`
	EndISO        time.Time `json:"end_iso"`
	CallerName    string    `json:"caller_name,omitempty"`
}

type cancelResponse struct {
	OK bool `json:"ok"`
}

type listResponse struct {
	Appointments []appointmentPayload `json:"appointments"`
}

func toAppointmentPayload(b *scheduling.Booking) appointmentPayload {
	return appointmentPayload{
		AppointmentID: b.ID,
		StartISO:      b.Start,
		EndISO:        b.End,
		CallerName:    b.CallerName,
	}
}

func (a *Adapter) handleGetAvailableSlots(ctx context.Context, request mcp.CallToolRequest) (result *mcp.CallToolResult, err error) {
	start := time.Now()
	defer func() { a.observe("get_available_slots", start, result, err) }()

	var req slotsRequest
	if err := request.BindArguments(&req); err != nil {
		return badArguments(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if req.TenantID == "" {
		return badArguments("tenant_id is required"), nil
	}
	day, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return badArguments(fmt.Sprintf("date must be YYYY-MM-DD: %v", err)), nil
	}
	filter, err := scheduling.ParseTimeOfDay(req.TimeRange)
	if err != nil {
		return badArguments(err.Error()), nil
	}

	slots, err := a.engine.AvailableSlots(ctx, req.TenantID, day, filter)
	if err != nil {
		a.logger.Warn("get_available_slots failed",
			logging.Tenant(req.TenantID), logging.Err(err))
		return toolError(err), nil
	}

	return toolJSON(slotsResponse{Date: req.Date, Slots: slots})
}

func (a *Adapter) handleBookAppointment(ctx context.Context, request mcp.CallToolRequest) (result *mcp.CallToolResult, err error) {
	start := time.Now()
	defer func() { a.observe("book_appointment", start, result, err) }()

	var req bookRequest
	if err := request.BindArguments(&req); err != nil {
		return badArguments(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if req.TenantID == "" || req.CallerName == "" || req.CallerPhone == "" {
		return badArguments("tenant_id, caller_name and caller_phone are required"), nil
	}
	startTime, err := time.Parse(time.RFC3339, req.StartISO)
	if err != nil {
		return badArguments(fmt.Sprintf("start_iso must be RFC3339: %v", err)), nil
	}
	endTime, err := time.Parse(time.RFC3339, req.EndISO)
	if err != nil {
		return badArguments(fmt.Sprintf("end_iso must be RFC3339: %v", err)), nil
	}

	booking, err := a.engine.Book(ctx, req.TenantID, startTime, endTime, req.CallerName, req.CallerPhone)
	if err != nil {
		if model.KindOf(err) == model.KindSlotConflict {
			a.metrics.RecordSlotConflict()
		}
		a.logger.Warn("book_appointment failed",
			logging.Tenant(req.TenantID), logging.Err(err))
		return toolError(err), nil
	}

	return toolJSON(toAppointmentPayload(booking))
}

func (a *Adapter) handleRescheduleAppointment(ctx context.Context, request mcp.CallToolRequest) (result *mcp.CallToolResult, err error) {
	start := time.Now()
	defer func() { a.observe("reschedule_appointment", start, result, err) }()

	var req rescheduleRequest
	if err := request.BindArguments(&req); err != nil {
		return badArguments(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if req.TenantID == "" || req.AppointmentID == "" || req.CallerPhone == "" {
		return badArguments("tenant_id, appointment_id and caller_phone are required"), nil
	}
	newStart, err := time.Parse(time.RFC3339, req.NewStartISO)
	if err != nil {
		return badArguments(fmt.Sprintf("new_start_iso must be RFC3339: %v", err)), nil
	}
	newEnd, err := time.Parse(time.RFC3339, req.NewEndISO)
	if err != nil {
		return badArguments(fmt.Sprintf("new_end_iso must be RFC3339: %v", err)), nil
	}

	booking, err := a.engine.Reschedule(ctx, req.TenantID, req.AppointmentID, newStart, newEnd, req.CallerPhone)
	if err != nil {
		if model.KindOf(err) == model.KindSlotConflict {
			a.metrics.RecordSlotConflict()
		}
		a.logger.Warn("reschedule_appointment failed",
			logging.Tenant(req.TenantID), logging.Err(err))
		return toolError(err), nil
	}

	return toolJSON(toAppointmentPayload(booking))
}

func (a *Adapter) handleCancelAppointment(ctx context.Context, request mcp.CallToolRequest) (result *mcp.CallToolResult, err error) {
	start := time.Now()
	defer func() { a.observe("cancel_appointment", start, result, err) }()

	var req cancelRequest
	if err := request.BindArguments(&req); err != nil {
		return badArguments(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if req.TenantID == "" || req.AppointmentID == "" || req.CallerPhone == "" {
		return badArguments("tenant_id, appointment_id and caller_phone are required"), nil
	}

	if err := a.engine.Cancel(ctx, req.TenantID, req.AppointmentID, req.CallerPhone); err != nil {
		a.logger.Warn("cancel_appointment failed",
			logging.Tenant(req.TenantID), logging.Err(err))
		return toolError(err), nil
	}

	return toolJSON(cancelResponse{OK: true})
}

func (a *Adapter) handleListMyAppointments(ctx context.Context, request mcp.CallToolRequest) (result *mcp.CallToolResult, err error) {
	start := time.Now()
	defer func() { a.observe("list_my_appointments", start, result, err) }()

	var req listRequest
	if err := request.BindArguments(&req); err != nil {
		return badArguments(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if req.TenantID == "" || req.CallerPhone == "" {
		return badArguments("tenant_id and caller_phone are required"), nil
	}

	bookings, err := a.engine.ListForCaller(ctx, req.TenantID, req.CallerPhone)
	if err != nil {
		a.logger.Warn("list_my_appointments failed",
			logging.Tenant(req.TenantID), logging.Err(err))
		return toolError(err), nil
	}

	appointments := make([]appointmentPayload, 0, len(bookings))
	for i := range bookings {
		appointments = append(appointments, toAppointmentPayload(&bookings[i]))
	}
	return toolJSON(listResponse{Appointments: appointments})
}
