package api

import (
	"net/http"
	"time"

	"github.com/hackgods/clinica/internal/audit"
	"github.com/hackgods/clinica/internal/auth"
)

const auditPageSize = 50

func loginHandler(svc AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}

		res, err := svc.Login(r.Context(), req.Username, req.Password)
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, res)
	}
}

func meHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := auth.PrincipalFrom(r.Context())
		writeJSON(w, http.StatusOK, p)
	}
}

func logoutHandler(svc AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := auth.PrincipalFrom(r.Context())
		if err := svc.Logout(r.Context(), p); err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, MessageResponse{Message: "logged out"})
	}
}

func changePasswordHandler(svc AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChangePasswordRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}

		p, _ := auth.PrincipalFrom(r.Context())
		if err := svc.ChangePassword(r.Context(), p, req.CurrentPassword, req.NewPassword); err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, MessageResponse{Message: "password updated"})
	}
}

func listAuditHandler(log AuditLog, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pg, err := pageQuery(r, auditPageSize, maxPageSize)
		if err != nil {
			respondError(w, r, err)
			return
		}
		q := r.URL.Query()
		f := audit.Filter{
			Module: q.Get("module"),
			Action: q.Get("action"),
			Limit:  pg.Limit,
			Offset: pg.Offset(),
		}
		if f.UserID, err = uuidQuery(r, "userId"); err != nil {
			respondError(w, r, err)
			return
		}
		if f.From, err = timeQuery(r, "startDate", loc); err != nil {
			respondError(w, r, err)
			return
		}
		if f.To, err = timeQuery(r, "endDate", loc); err != nil {
			respondError(w, r, err)
			return
		}

		result, err := log.Query(r.Context(), f)
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, PageResponse[audit.Event]{Data: result.Events, Pagination: pg.Of(result.Total)})
	}
}

func auditModulesHandler(log AuditLog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		modules, err := log.Modules(r.Context())
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, modules)
	}
}
