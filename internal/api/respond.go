package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinica/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindForbiddenTransition:
		return http.StatusUnprocessableEntity
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindLocked:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

// respondError renders err by its kind. Unclassified errors are logged and
// rendered as a bare 500.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok || e.Kind == apperr.KindInternal {
		loggerFrom(r.Context()).Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Kind:    string(apperr.KindInternal),
			Details: "internal server error",
		})
		return
	}
	writeJSON(w, statusFor(e.Kind), ErrorResponse{
		Error:   e.Code,
		Kind:    string(e.Kind),
		Details: e.Message,
		Data:    e.Details,
	})
}

var errBadBody = apperr.New(apperr.KindValidation, "invalid_request_body", "could not parse JSON")

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadBody.Withf(nil, "could not parse JSON: %v", err)
	}
	return nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid_"+name, "%s must be a valid UUID", name)
	}
	return id, nil
}

func uuidQuery(r *http.Request, name string) (*uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.Validation("invalid_"+name, "%s must be a valid UUID", name)
	}
	return &id, nil
}

// localLayouts are accepted when a timestamp carries no offset; they are
// read in the clinic timezone.
var localLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"}

func parseTime(raw, field string, loc *time.Location) (time.Time, error) {
	if raw == "" {
		return time.Time{}, apperr.Validation(field+"_required", "%s is required", field)
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, apperr.Validation("invalid_"+field, "%s must be an RFC 3339 timestamp", field)
}

func timeQuery(r *http.Request, name string, loc *time.Location) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := parseTime(raw, name, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type page struct {
	Page, Limit int
}

func (p page) Offset() int { return (p.Page - 1) * p.Limit }

func (p page) Of(total int) Pagination {
	pages := 0
	if p.Limit > 0 {
		pages = (total + p.Limit - 1) / p.Limit
	}
	return Pagination{Page: p.Page, Limit: p.Limit, Total: total, Pages: pages}
}

func pageQuery(r *http.Request, def, ceiling int) (page, error) {
	p := page{Page: 1, Limit: def}
	q := r.URL.Query()
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return page{}, apperr.Validation("invalid_page", "page must be a positive integer")
		}
		p.Page = n
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return page{}, apperr.Validation("invalid_limit", "limit must be a positive integer")
		}
		p.Limit = min(n, ceiling)
	}
	return p, nil
}
