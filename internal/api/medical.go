package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/hackgods/clinica/internal/auth"
	"github.com/hackgods/clinica/internal/medical"
)

const attentionsPageSize = 20

// attendingDoctor is the doctor a request acts as, or nil for staff who
// act on behalf of any doctor.
func attendingDoctor(r *http.Request) *uuid.UUID {
	if p, ok := auth.PrincipalFrom(r.Context()); ok && p.Role == auth.RoleDoctor && p.DoctorID != nil {
		return p.DoctorID
	}
	return nil
}

func startAttentionHandler(svc MedicalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartAttentionRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}

		doctor := req.DoctorID
		if own := attendingDoctor(r); own != nil {
			doctor = own
		}

		a, err := svc.StartAttention(r.Context(), medical.StartCommand{
			PatientID:      req.PatientID,
			AppointmentID:  req.AppointmentID,
			DoctorID:       doctor,
			ChiefComplaint: req.ChiefComplaint,
			VitalSigns:     req.VitalSigns,
			Anamnesis:      req.Anamnesis,
			PhysicalExam:   req.PhysicalExam,
			Actor:          actor(r),
		})
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, a)
	}
}

func getAttentionHandler(svc MedicalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}

		rec, err := svc.GetAttention(r.Context(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, rec)
	}
}

func listAttentionsHandler(svc MedicalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pg, err := pageQuery(r, attentionsPageSize, maxPageSize)
		if err != nil {
			respondError(w, r, err)
			return
		}
		f := medical.Filter{Limit: pg.Limit, Offset: pg.Offset()}

		if f.PatientID, err = uuidQuery(r, "patientId"); err != nil {
			respondError(w, r, err)
			return
		}
		if f.DoctorID, err = uuidQuery(r, "doctorId"); err != nil {
			respondError(w, r, err)
			return
		}
		if raw := r.URL.Query().Get("status"); raw != "" {
			st := medical.Status(raw)
			f.Status = &st
		}
		if own := attendingDoctor(r); own != nil {
			f.DoctorID = own
		}

		list, total, err := svc.ListAttentions(r.Context(), f)
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, PageResponse[medical.Attention]{Data: list, Pagination: pg.Of(total)})
	}
}

func updateAttentionHandler(svc MedicalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}
		var req UpdateAttentionRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}

		rec, err := svc.UpdateAttention(r.Context(), medical.UpdateCommand{
			ID:             id,
			ChiefComplaint: req.ChiefComplaint,
			VitalSigns:     req.VitalSigns,
			Anamnesis:      req.Anamnesis,
			PhysicalExam:   req.PhysicalExam,
			Diagnoses:      req.Diagnoses,
			Prescriptions:  req.Prescriptions,
			Note:           req.Note,
			Doctor:         attendingDoctor(r),
			Actor:          actor(r),
		})
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, rec)
	}
}

func closeAttentionHandler(svc MedicalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}

		a, err := svc.CloseAttention(r.Context(), id, attendingDoctor(r), actor(r))
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, a)
	}
}

func amendmentHandler(svc MedicalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}
		var req AmendmentRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}

		note, err := svc.AddAmendment(r.Context(), medical.AmendCommand{
			ID:      id,
			Reason:  req.Reason,
			Content: req.Content,
			Doctor:  attendingDoctor(r),
			Actor:   actor(r),
		})
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, note)
	}
}
