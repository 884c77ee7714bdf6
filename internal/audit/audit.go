// Package audit records who changed what. Recording is fire-and-forget:
// a failing sink is logged and never fails the operation being audited.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	ActionCreate         = "CREATE"
	ActionReschedule     = "RESCHEDULE"
	ActionCancel         = "CANCEL"
	ActionConfirm        = "CONFIRM"
	ActionNoShow         = "NO_SHOW"
	ActionAttend         = "ATTEND"
	ActionUpdate         = "UPDATE"
	ActionIssue          = "ISSUE"
	ActionPayment        = "PAYMENT"
	ActionLogin          = "LOGIN"
	ActionLogout         = "LOGOUT"
	ActionChangePassword = "CHANGE_PASSWORD"
	ActionSoftDelete     = "SOFT_DELETE"
	ActionStartAttention = "START_ATTENTION"
	ActionCloseAttention = "CLOSE_ATTENTION"
	ActionAmendment      = "AMENDMENT"
)

type Event struct {
	ID         int64           `json:"id"`
	UserID     *uuid.UUID      `json:"userId,omitempty"`
	Action     string          `json:"action"`
	Module     string          `json:"module"`
	EntityType string          `json:"entityType,omitempty"`
	EntityID   string          `json:"entityId,omitempty"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	IPAddress  string          `json:"ipAddress,omitempty"`
	UserAgent  string          `json:"userAgent,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Recorder accepts audit events. Implementations must not block the caller
// on sink failures.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

type discard struct{}

func (discard) Record(context.Context, Event) {}

// Discard drops every event.
var Discard Recorder = discard{}

// Snapshot marshals v for Event.Before/After. A nil v or a marshal failure
// yields nil.
func Snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

type requestInfoKey struct{}

type requestInfo struct {
	ip        string
	userAgent string
}

// WithRequestInfo stores the client address and user agent so events
// recorded further down the call chain carry them.
func WithRequestInfo(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, requestInfo{ip: ip, userAgent: userAgent})
}

func fillRequestInfo(ctx context.Context, ev *Event) {
	info, ok := ctx.Value(requestInfoKey{}).(requestInfo)
	if !ok {
		return
	}
	if ev.IPAddress == "" {
		ev.IPAddress = info.ip
	}
	if ev.UserAgent == "" {
		ev.UserAgent = info.userAgent
	}
}

// Actor returns a pointer to id, or nil for the zero uuid.
func Actor(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
