package api

import (
	"net/http"
	"time"

	"github.com/hackgods/clinica/internal/apperr"
	"github.com/hackgods/clinica/internal/patient"
)

const patientsPageSize = 20

func (req PatientRequest) details() (patient.Details, error) {
	d := patient.Details{
		IDType:                req.IDType,
		IDNumber:              req.IDNumber,
		FirstName:             req.FirstName,
		LastName:              req.LastName,
		Gender:                req.Gender,
		Phone:                 req.Phone,
		Email:                 req.Email,
		Address:               req.Address,
		EmergencyContactName:  req.EmergencyContactName,
		EmergencyContactPhone: req.EmergencyContactPhone,
		BloodType:             req.BloodType,
		Allergies:             req.Allergies,
		Notes:                 req.Notes,
	}
	if req.DateOfBirth != nil {
		dob, err := time.Parse(time.DateOnly, *req.DateOfBirth)
		if err != nil {
			return d, apperr.Validation("invalid_date_of_birth", "dateOfBirth must be YYYY-MM-DD")
		}
		d.DateOfBirth = &dob
	}
	return d, nil
}

func createPatientHandler(svc PatientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PatientRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}
		d, err := req.details()
		if err != nil {
			respondError(w, r, err)
			return
		}

		p, err := svc.CreatePatient(r.Context(), d, actor(r))
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, p)
	}
}

func getPatientHandler(svc PatientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}

		p, err := svc.GetPatient(r.Context(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, p)
	}
}

func listPatientsHandler(svc PatientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pg, err := pageQuery(r, patientsPageSize, maxPageSize)
		if err != nil {
			respondError(w, r, err)
			return
		}

		patients, total, err := svc.ListPatients(r.Context(), patient.Filter{
			Search: r.URL.Query().Get("search"),
			Limit:  pg.Limit,
			Offset: pg.Offset(),
		})
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, PageResponse[patient.Patient]{Data: patients, Pagination: pg.Of(total)})
	}
}

func updatePatientHandler(svc PatientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}
		var req PatientRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}
		d, err := req.details()
		if err != nil {
			respondError(w, r, err)
			return
		}

		p, err := svc.UpdatePatient(r.Context(), id, d, actor(r))
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, p)
	}
}

func deletePatientHandler(svc PatientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}

		if err := svc.DeletePatient(r.Context(), id, actor(r)); err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, MessageResponse{Message: "patient deleted"})
	}
}
