package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinica/internal/appointment"
	"github.com/hackgods/clinica/internal/apperr"
	"github.com/hackgods/clinica/internal/auth"
)

const (
	appointmentsPageSize = 50
	maxPageSize          = 200
)

func actor(r *http.Request) uuid.UUID {
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		return p.UserID
	}
	return uuid.Nil
}

func createAppointmentHandler(svc SchedulingService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}
		if req.PatientID == uuid.Nil || req.DoctorID == uuid.Nil {
			respondError(w, r, apperr.Validation("missing_fields", "patientId, doctorId and dateTime are required"))
			return
		}
		start, err := parseTime(req.DateTime, "dateTime", loc)
		if err != nil {
			respondError(w, r, err)
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), appointment.CreateCommand{
			PatientID:       req.PatientID,
			DoctorID:        req.DoctorID,
			Start:           start,
			DurationMinutes: req.Duration,
			Reason:          req.Reason,
			Actor:           actor(r),
		})
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, appt)
	}
}

func rescheduleHandler(svc SchedulingService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}
		var req RescheduleRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}
		start, err := parseTime(req.DateTime, "dateTime", loc)
		if err != nil {
			respondError(w, r, err)
			return
		}

		appt, err := svc.RescheduleAppointment(r.Context(), appointment.RescheduleCommand{
			ID:              id,
			Start:           start,
			DurationMinutes: req.Duration,
			Reason:          req.Reason,
			Actor:           actor(r),
		})
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, appt)
	}
}

func cancelAppointmentHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}
		var req ReasonRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}

		appt, err := svc.CancelAppointment(r.Context(), id, req.Reason, actor(r))
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, appt)
	}
}

// statusHandler serves the body-less status transitions.
func statusHandler(svc SchedulingService, change func(s SchedulingService, ctx context.Context, id, actor uuid.UUID) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}

		appt, err := change(svc, r.Context(), id, actor(r))
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, appt)
	}
}

func getAppointmentHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}

		detail, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, detail)
	}
}

func listAppointmentsHandler(svc SchedulingService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, pg, err := appointmentFilter(r, svc, loc)
		if err != nil {
			respondError(w, r, err)
			return
		}

		// doctors only see their own calendar
		if p, ok := auth.PrincipalFrom(r.Context()); ok && p.Role == auth.RoleDoctor && p.DoctorID != nil {
			f.DoctorID = p.DoctorID
		}

		appts, total, err := svc.ListAppointments(r.Context(), f)
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, PageResponse[appointment.Appointment]{Data: appts, Pagination: pg.Of(total)})
	}
}

func appointmentFilter(r *http.Request, svc SchedulingService, loc *time.Location) (appointment.ListFilter, page, error) {
	var f appointment.ListFilter
	q := r.URL.Query()

	pg, err := pageQuery(r, appointmentsPageSize, maxPageSize)
	if err != nil {
		return f, pg, err
	}
	f.Limit, f.Offset = pg.Limit, pg.Offset()

	if f.DoctorID, err = uuidQuery(r, "doctorId"); err != nil {
		return f, pg, err
	}
	if f.PatientID, err = uuidQuery(r, "patientId"); err != nil {
		return f, pg, err
	}
	if raw := q.Get("status"); raw != "" {
		st := appointment.Status(raw)
		f.Status = &st
	}

	if date := q.Get("date"); date != "" {
		day, err := svc.ParseDay(date)
		if err != nil {
			return f, pg, err
		}
		next := day.AddDate(0, 0, 1)
		f.From, f.To = &day, &next
		return f, pg, nil
	}
	if f.From, err = timeQuery(r, "startDate", loc); err != nil {
		return f, pg, err
	}
	if f.To, err = timeQuery(r, "endDate", loc); err != nil {
		return f, pg, err
	}
	return f, pg, nil
}

func checkConflictHandler(svc SchedulingService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		doctorID, err := uuidQuery(r, "doctorId")
		if err == nil && doctorID == nil {
			err = apperr.Validation("doctorId_required", "doctorId is required")
		}
		if err != nil {
			respondError(w, r, err)
			return
		}
		start, err := parseTime(q.Get("start"), "start", loc)
		if err != nil {
			respondError(w, r, err)
			return
		}
		end, err := parseTime(q.Get("end"), "end", loc)
		if err != nil {
			respondError(w, r, err)
			return
		}
		exclude, err := uuidQuery(r, "excludeId")
		if err != nil {
			respondError(w, r, err)
			return
		}

		conflict, err := svc.CheckConflict(r.Context(), *doctorID, start, end, exclude)
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, ConflictResponse{HasConflict: conflict != nil, Conflict: conflict})
	}
}

func listDoctorsHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		specialty, err := uuidQuery(r, "specialtyId")
		if err != nil {
			respondError(w, r, err)
			return
		}

		doctors, err := svc.ListDoctors(r.Context(), specialty)
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, doctors)
	}
}

func availabilityHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuidParam(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}
		date := r.URL.Query().Get("date")
		if date == "" {
			respondError(w, r, apperr.Validation("date_required", "date is required (YYYY-MM-DD)"))
			return
		}
		day, err := svc.ParseDay(date)
		if err != nil {
			respondError(w, r, err)
			return
		}

		av, err := svc.ComputeAvailability(r.Context(), doctorID, day)
		if err != nil {
			respondError(w, r, err)
			return
		}

		resp := AvailabilityResponse{
			DoctorID:  doctorID,
			Date:      date,
			Available: av.Working(),
			Slots:     []appointment.Slot{},
			Schedule:  av.Schedule,
		}
		if !av.Working() {
			resp.Message = "doctor does not work on this day"
		}
		for slot := range av.Slots() {
			resp.Slots = append(resp.Slots, slot)
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func setScheduleHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuidParam(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}
		day, err := strconv.Atoi(chi.URLParam(r, "day"))
		if err != nil {
			respondError(w, r, apperr.Validation("invalid_day", "day must be 0 (Sunday) to 6 (Saturday)"))
			return
		}
		var req ScheduleRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}

		ws, err := svc.SetWeeklySchedule(r.Context(), appointment.WeeklySchedule{
			DoctorID:    doctorID,
			DayOfWeek:   day,
			StartTime:   req.StartTime,
			EndTime:     req.EndTime,
			SlotMinutes: req.SlotDuration,
		}, actor(r))
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, ws)
	}
}

func createBlockHandler(svc SchedulingService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuidParam(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}
		var req BlockRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}
		start, err := parseTime(req.StartDate, "startDate", loc)
		if err != nil {
			respondError(w, r, err)
			return
		}
		end, err := parseTime(req.EndDate, "endDate", loc)
		if err != nil {
			respondError(w, r, err)
			return
		}

		block, err := svc.CreateScheduleBlock(r.Context(), appointment.BlockCommand{
			DoctorID: doctorID,
			Start:    start,
			End:      end,
			Reason:   req.Reason,
			Actor:    actor(r),
		})
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, block)
	}
}

func listBlocksHandler(svc SchedulingService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuidParam(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}
		q := r.URL.Query()
		from, err := parseTime(q.Get("from"), "from", loc)
		if err != nil {
			respondError(w, r, err)
			return
		}
		to, err := parseTime(q.Get("to"), "to", loc)
		if err != nil {
			respondError(w, r, err)
			return
		}

		blocks, err := svc.ListScheduleBlocks(r.Context(), doctorID, from, to)
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, blocks)
	}
}
