package appointment

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/hackgods/clinica/internal/redis"
)

// memRepo is a map-backed Repository. WithinTx serializes callers the way
// a doctor calendar lock does in Postgres.
type memRepo struct {
	txMu sync.Mutex
	mu   sync.Mutex

	patients  map[uuid.UUID]Patient
	doctors   map[uuid.UUID]Doctor
	schedules map[uuid.UUID]map[int]WeeklySchedule
	blocks    []ScheduleBlock
	appts     map[uuid.UUID]Appointment
	history   []History
	nextHist  int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		patients:  map[uuid.UUID]Patient{},
		doctors:   map[uuid.UUID]Doctor{},
		schedules: map[uuid.UUID]map[int]WeeklySchedule{},
		appts:     map[uuid.UUID]Appointment{},
	}
}

func (r *memRepo) addPatient() Patient {
	p := Patient{ID: uuid.New(), MedicalRecordNumber: "HC-000001", FirstName: "Ana", LastName: "Mora"}
	r.patients[p.ID] = p
	return p
}

func (r *memRepo) addDoctor(active bool) Doctor {
	d := Doctor{ID: uuid.New(), UserID: uuid.New(), FirstName: "Luis", LastName: "Vera", Specialty: "General", IsActive: active}
	r.doctors[d.ID] = d
	return d
}

func (r *memRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok || p.DeletedAt != nil {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *memRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *memRepo) ListDoctors(_ context.Context, specialtyID *uuid.UUID) ([]Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Doctor
	for _, d := range r.doctors {
		if !d.IsActive || (specialtyID != nil && d.SpecialtyID != *specialtyID) {
			continue
		}
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b Doctor) int { return strings.Compare(a.ID.String(), b.ID.String()) })
	return out, nil
}

func (r *memRepo) GetWeeklySchedule(_ context.Context, doctorID uuid.UUID, day int) (*WeeklySchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.schedules[doctorID][day]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return &ws, nil
}

func (r *memRepo) ListWeeklySchedules(_ context.Context, doctorID uuid.UUID) ([]WeeklySchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []WeeklySchedule
	for day := 0; day < 7; day++ {
		if ws, ok := r.schedules[doctorID][day]; ok {
			out = append(out, ws)
		}
	}
	return out, nil
}

func (r *memRepo) UpsertWeeklySchedule(_ context.Context, ws WeeklySchedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.schedules[ws.DoctorID] == nil {
		r.schedules[ws.DoctorID] = map[int]WeeklySchedule{}
	}
	r.schedules[ws.DoctorID][ws.DayOfWeek] = ws
	return nil
}

func (r *memRepo) CreateScheduleBlock(_ context.Context, b ScheduleBlock) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks = append(r.blocks, b)
	return nil
}

func (r *memRepo) ListBlocksOverlapping(_ context.Context, doctorID uuid.UUID, start, end time.Time) ([]ScheduleBlock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ScheduleBlock
	for _, b := range r.blocks {
		if b.DoctorID == doctorID && Overlaps(b.StartDate, b.EndDate, start, end) {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b ScheduleBlock) int { return a.StartDate.Compare(b.StartDate) })
	return out, nil
}

func (r *memRepo) ListActiveOverlapping(_ context.Context, doctorID uuid.UUID, start, end time.Time, exclude *uuid.UUID) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.DoctorID != doctorID || a.Status == StatusCancelled || a.DeletedAt != nil {
			continue
		}
		if exclude != nil && a.ID == *exclude {
			continue
		}
		if Overlaps(a.DateTime, a.EndTime, start, end) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b Appointment) int { return a.DateTime.Compare(b.DateTime) })
	return out, nil
}

func (r *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok || a.DeletedAt != nil {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepo) LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.GetAppointmentByID(ctx, id)
}

func (r *memRepo) ListAppointments(_ context.Context, f ListFilter) ([]Appointment, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		switch {
		case a.DeletedAt != nil,
			f.DoctorID != nil && a.DoctorID != *f.DoctorID,
			f.PatientID != nil && a.PatientID != *f.PatientID,
			f.Status != nil && a.Status != *f.Status,
			f.From != nil && a.DateTime.Before(*f.From),
			f.To != nil && !a.DateTime.Before(*f.To):
			continue
		}
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b Appointment) int { return a.DateTime.Compare(b.DateTime) })
	total := len(out)
	if f.Offset >= len(out) {
		return nil, total, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (r *memRepo) ListHistory(_ context.Context, appointmentID uuid.UUID) ([]History, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []History
	for i := len(r.history) - 1; i >= 0; i-- {
		if r.history[i].AppointmentID == appointmentID {
			out = append(out, r.history[i])
		}
	}
	return out, nil
}

func (r *memRepo) appendHistory(h History) {
	r.nextHist++
	h.ID = r.nextHist
	r.history = append(r.history, h)
}

func (r *memRepo) CreateAppointment(_ context.Context, appt *Appointment, h History) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appts[appt.ID] = *appt
	r.appendHistory(h)
	return nil
}

func (r *memRepo) UpdateAppointment(_ context.Context, appt *Appointment, h History) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.appts[appt.ID]; !ok {
		return ErrAppointmentNotFound
	}
	r.appts[appt.ID] = *appt
	r.appendHistory(h)
	return nil
}

func (r *memRepo) WithinTx(_ context.Context, fn func(tx Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return fn(r)
}

func (r *memRepo) LockDoctorCalendar(context.Context, uuid.UUID) error { return nil }

// memLocker is an in-process Locker.
type memLocker struct {
	mu    sync.Mutex
	keys  map[string]*sync.Mutex
	calls []string
	busy  bool
}

func newMemLocker() *memLocker {
	return &memLocker{keys: map[string]*sync.Mutex{}}
}

func (l *memLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.busy {
		l.mu.Unlock()
		return redisclient.ErrLockNotAcquired
	}
	m, ok := l.keys[key]
	if !ok {
		m = &sync.Mutex{}
		l.keys[key] = m
	}
	l.calls = append(l.calls, key)
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}
