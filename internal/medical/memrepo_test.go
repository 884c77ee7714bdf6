package medical

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/clinica/internal/appointment"
)

// memRepo is a map-backed Repository. WithinTx serializes callers, which
// stands in for the attention row lock.
type memRepo struct {
	txMu sync.Mutex
	mu   sync.Mutex

	patients      map[uuid.UUID]bool
	attentions    map[uuid.UUID]Attention
	diagnoses     map[uuid.UUID][]Diagnosis
	prescriptions map[uuid.UUID][]Prescription
	notes         []Note
	failUpdate    error
}

func newMemRepo() *memRepo {
	return &memRepo{
		patients:      map[uuid.UUID]bool{},
		attentions:    map[uuid.UUID]Attention{},
		diagnoses:     map[uuid.UUID][]Diagnosis{},
		prescriptions: map[uuid.UUID][]Prescription{},
	}
}

func (r *memRepo) addPatient() uuid.UUID {
	id := uuid.New()
	r.patients[id] = true
	return id
}

func (r *memRepo) PatientExists(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.patients[id], nil
}

func (r *memRepo) CreateAttention(_ context.Context, a *Attention) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.AppointmentID != nil {
		for _, other := range r.attentions {
			if other.AppointmentID != nil && *other.AppointmentID == *a.AppointmentID {
				return ErrAttentionExists
			}
		}
	}
	r.attentions[a.ID] = *a
	return nil
}

func (r *memRepo) GetAttention(_ context.Context, id uuid.UUID) (*Attention, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attentions[id]
	if !ok {
		return nil, ErrAttentionNotFound
	}
	return &a, nil
}

func (r *memRepo) LockAttention(ctx context.Context, id uuid.UUID) (*Attention, error) {
	return r.GetAttention(ctx, id)
}

func (r *memRepo) AttentionByAppointment(_ context.Context, appointmentID uuid.UUID) (*Attention, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attentions {
		if a.AppointmentID != nil && *a.AppointmentID == appointmentID {
			return &a, nil
		}
	}
	return nil, ErrAttentionNotFound
}

func (r *memRepo) UpdateAttention(_ context.Context, a *Attention) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdate != nil {
		return r.failUpdate
	}
	if _, ok := r.attentions[a.ID]; !ok {
		return ErrAttentionNotFound
	}
	r.attentions[a.ID] = *a
	return nil
}

func (r *memRepo) ListAttentions(_ context.Context, f Filter) ([]Attention, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []Attention
	for _, a := range r.attentions {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		all = append(all, a)
	}
	slices.SortFunc(all, func(a, b Attention) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	total := len(all)
	start := min(f.Offset, total)
	end := min(start+f.Limit, total)
	return all[start:end], total, nil
}

func (r *memRepo) ReplaceDiagnoses(_ context.Context, attentionID uuid.UUID, ds []Diagnosis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diagnoses[attentionID] = slices.Clone(ds)
	return nil
}

func (r *memRepo) ReplacePrescriptions(_ context.Context, attentionID uuid.UUID, ps []Prescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prescriptions[attentionID] = slices.Clone(ps)
	return nil
}

func (r *memRepo) ListDiagnoses(_ context.Context, attentionID uuid.UUID) ([]Diagnosis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.diagnoses[attentionID]), nil
}

func (r *memRepo) ListPrescriptions(_ context.Context, attentionID uuid.UUID) ([]Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.prescriptions[attentionID]), nil
}

func (r *memRepo) AddNote(_ context.Context, n *Note) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, *n)
	return nil
}

func (r *memRepo) ListNotes(_ context.Context, attentionID uuid.UUID) ([]Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Note
	for i := len(r.notes) - 1; i >= 0; i-- {
		if r.notes[i].AttentionID == attentionID {
			out = append(out, r.notes[i])
		}
	}
	return out, nil
}

func (r *memRepo) WithinTx(_ context.Context, fn func(tx Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return fn(r)
}

// fakeAppointments records AttendAppointment calls and applies the same
// terminal-status rule as the scheduling engine.
type fakeAppointments struct {
	mu       sync.Mutex
	appts    map[uuid.UUID]appointment.Appointment
	attended []uuid.UUID
}

func newFakeAppointments() *fakeAppointments {
	return &fakeAppointments{appts: map[uuid.UUID]appointment.Appointment{}}
}

func (f *fakeAppointments) add(patientID, doctorID uuid.UUID, status appointment.Status) uuid.UUID {
	id := uuid.New()
	f.appts[id] = appointment.Appointment{ID: id, PatientID: patientID, DoctorID: doctorID, Status: status}
	return id
}

func (f *fakeAppointments) status(id uuid.UUID) appointment.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appts[id].Status
}

func (f *fakeAppointments) GetAppointment(_ context.Context, id uuid.UUID) (*appointment.AppointmentDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &appointment.AppointmentDetail{Appointment: a, History: []appointment.History{}}, nil
}

func (f *fakeAppointments) AttendAppointment(_ context.Context, id, _ uuid.UUID) (*appointment.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	if a.Status.Terminal() {
		return nil, appointment.ErrInvalidTransition
	}
	a.Status = appointment.StatusAttended
	f.appts[id] = a
	f.attended = append(f.attended, id)
	return &a, nil
}
