package medical

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/clinica/internal/apperr"
	"github.com/hackgods/clinica/internal/appointment"
	"github.com/hackgods/clinica/internal/audit"
	"github.com/hackgods/clinica/internal/clock"
	"github.com/hackgods/clinica/internal/patient"
)

const auditModule = "medical"

var (
	ErrPatientRequired     = apperr.New(apperr.KindValidation, "patient_required", "patientId is required")
	ErrDoctorRequired      = apperr.New(apperr.KindValidation, "doctor_required", "doctorId is required")
	ErrAppointmentPatient  = apperr.New(apperr.KindValidation, "appointment_patient_mismatch", "the appointment belongs to another patient")
	ErrAppointmentFinished = apperr.New(apperr.KindForbiddenTransition, "appointment_finished", "the appointment is already attended or cancelled")
	ErrAttentionClosed     = apperr.New(apperr.KindForbiddenTransition, "attention_closed", "the attention is closed, use an amendment")
	ErrAttentionOpen       = apperr.New(apperr.KindForbiddenTransition, "attention_not_closed", "only closed attentions can be amended")
	ErrDiagnosisRequired   = apperr.New(apperr.KindValidation, "diagnosis_required", "at least one diagnosis is required to close an attention")
	ErrInvalidDiagnosis    = apperr.New(apperr.KindValidation, "invalid_diagnosis", "invalid diagnosis")
	ErrInvalidPrescription = apperr.New(apperr.KindValidation, "invalid_prescription", "invalid prescription")
	ErrInvalidVitalSigns   = apperr.New(apperr.KindValidation, "invalid_vital_signs", "vital signs cannot be negative")
	ErrAmendmentIncomplete = apperr.New(apperr.KindValidation, "amendment_incomplete", "amendment content is required")
	ErrNotAttendingDoctor  = apperr.New(apperr.KindForbidden, "not_attending_doctor", "only the attending doctor can change this attention")
)

// Appointments is the part of the scheduling engine an attention drives.
type Appointments interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.AppointmentDetail, error)
	AttendAppointment(ctx context.Context, id, actor uuid.UUID) (*appointment.Appointment, error)
}

type Deps struct {
	Audit  audit.Recorder
	Clock  clock.Clock
	Logger *zap.Logger
}

type Service struct {
	repo   Repository
	appts  Appointments
	audit  audit.Recorder
	clock  clock.Clock
	logger *zap.Logger
	tracer trace.Tracer
}

func NewService(repo Repository, appts Appointments, deps Deps) *Service {
	s := &Service{
		repo:   repo,
		appts:  appts,
		audit:  deps.Audit,
		clock:  deps.Clock,
		logger: deps.Logger,
		tracer: otel.Tracer("clinica/medical"),
	}
	if s.audit == nil {
		s.audit = audit.Discard
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

type StartCommand struct {
	PatientID     uuid.UUID
	AppointmentID *uuid.UUID
	// DoctorID may be left nil when the appointment names the doctor.
	DoctorID       *uuid.UUID
	ChiefComplaint string
	VitalSigns     *VitalSigns
	Anamnesis      string
	PhysicalExam   string
	Actor          uuid.UUID
}

// UpdateCommand edits an attention in progress. Nil fields keep their value;
// a non-nil Diagnoses or Prescriptions slice replaces the stored list.
type UpdateCommand struct {
	ID             uuid.UUID
	ChiefComplaint *string
	VitalSigns     *VitalSigns
	Anamnesis      *string
	PhysicalExam   *string
	Diagnoses      []Diagnosis
	Prescriptions  []Prescription
	// Note is appended as an evolution note.
	Note string
	// Doctor restricts the change to that attending doctor when set.
	Doctor *uuid.UUID
	Actor  uuid.UUID
}

type AmendCommand struct {
	ID      uuid.UUID
	Reason  string
	Content string
	Doctor  *uuid.UUID
	Actor   uuid.UUID
}

func validateVitals(v *VitalSigns) error {
	if v == nil {
		return nil
	}
	negInt := func(p *int) bool { return p != nil && *p < 0 }
	negFloat := func(p *float64) bool { return p != nil && *p < 0 }
	if negInt(v.HeartRate) || negInt(v.RespiratoryRate) || negInt(v.OxygenSaturation) ||
		negFloat(v.Temperature) || negFloat(v.Weight) || negFloat(v.Height) {
		return ErrInvalidVitalSigns
	}
	if v.OxygenSaturation != nil && *v.OxygenSaturation > 100 {
		return ErrInvalidVitalSigns.Withf(map[string]any{"oxygenSaturation": *v.OxygenSaturation}, "oxygen saturation cannot exceed 100")
	}
	return nil
}

// normalizeDiagnoses trims each entry, assigns ids and defaults the first
// diagnosis to primary and the rest to secondary.
func normalizeDiagnoses(in []Diagnosis) ([]Diagnosis, error) {
	out := make([]Diagnosis, 0, len(in))
	for i, d := range in {
		d.ID = uuid.New()
		d.Description = strings.TrimSpace(d.Description)
		if d.Code != nil {
			d.Code = optional(strings.TrimSpace(*d.Code))
		}
		if d.Description == "" {
			return nil, ErrInvalidDiagnosis.Withf(map[string]any{"diagnosis": i}, "diagnosis %d: description is required", i+1)
		}
		switch d.Type {
		case "":
			d.Type = DiagnosisSecondary
			if i == 0 {
				d.Type = DiagnosisPrimary
			}
		case DiagnosisPrimary, DiagnosisSecondary:
		default:
			return nil, ErrInvalidDiagnosis.Withf(map[string]any{"diagnosis": i, "type": d.Type}, "diagnosis %d: type must be primary or secondary", i+1)
		}
		out = append(out, d)
	}
	return out, nil
}

func normalizePrescriptions(in []Prescription) ([]Prescription, error) {
	out := make([]Prescription, 0, len(in))
	for i, p := range in {
		p.ID = uuid.New()
		p.Medication = strings.TrimSpace(p.Medication)
		if p.Medication == "" {
			return nil, ErrInvalidPrescription.Withf(map[string]any{"prescription": i}, "prescription %d: medication is required", i+1)
		}
		out = append(out, p)
	}
	return out, nil
}

func checkDoctor(a *Attention, doctor *uuid.UUID) error {
	if doctor != nil && *doctor != a.DoctorID {
		return ErrNotAttendingDoctor.Withf(map[string]any{"attentionId": a.ID}, "attention %s belongs to another doctor", a.ID)
	}
	return nil
}

// StartAttention opens an attention for a patient, optionally tied to one of
// their appointments. The appointment is marked attended on close.
func (s *Service) StartAttention(ctx context.Context, cmd StartCommand) (*Attention, error) {
	ctx, span := s.tracer.Start(ctx, "medical.start_attention")
	defer span.End()

	if cmd.PatientID == uuid.Nil {
		return nil, ErrPatientRequired
	}
	if err := validateVitals(cmd.VitalSigns); err != nil {
		return nil, err
	}

	doctor := cmd.DoctorID
	if cmd.AppointmentID != nil {
		appt, err := s.appts.GetAppointment(ctx, *cmd.AppointmentID)
		if err != nil {
			return nil, err
		}
		if appt.PatientID != cmd.PatientID {
			return nil, ErrAppointmentPatient.Withf(map[string]any{"appointmentId": appt.ID}, "appointment %s belongs to another patient", appt.ID)
		}
		if appt.Status.Terminal() {
			return nil, ErrAppointmentFinished.Withf(map[string]any{"appointmentId": appt.ID, "status": appt.Status},
				"appointment %s is %s", appt.ID, appt.Status)
		}
		if doctor == nil {
			doctor = &appt.DoctorID
		}
	}
	if doctor == nil || *doctor == uuid.Nil {
		return nil, ErrDoctorRequired
	}

	now := s.clock.Now()
	a := &Attention{
		ID:             uuid.New(),
		AppointmentID:  cmd.AppointmentID,
		PatientID:      cmd.PatientID,
		DoctorID:       *doctor,
		ChiefComplaint: optional(strings.TrimSpace(cmd.ChiefComplaint)),
		VitalSigns:     cmd.VitalSigns,
		Anamnesis:      optional(strings.TrimSpace(cmd.Anamnesis)),
		PhysicalExam:   optional(strings.TrimSpace(cmd.PhysicalExam)),
		Status:         StatusInProgress,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.repo.WithinTx(ctx, func(tx Repository) error {
		exists, err := tx.PatientExists(ctx, cmd.PatientID)
		if err != nil {
			return err
		}
		if !exists {
			return patient.ErrPatientNotFound
		}
		if cmd.AppointmentID != nil {
			prev, err := tx.AttentionByAppointment(ctx, *cmd.AppointmentID)
			switch {
			case err == nil:
				return ErrAttentionExists.Withf(map[string]any{"attentionId": prev.ID},
					"appointment %s already has attention %s", *cmd.AppointmentID, prev.ID)
			case !errors.Is(err, ErrAttentionNotFound):
				return err
			}
		}
		return tx.CreateAttention(ctx, a)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.Info("medical attention started",
		zap.String("attention_id", a.ID.String()),
		zap.String("patient_id", a.PatientID.String()),
		zap.String("doctor_id", a.DoctorID.String()))
	s.record(ctx, cmd.Actor, audit.ActionStartAttention, a.ID, nil, a)
	return a, nil
}

// UpdateAttention edits an attention that is still in progress.
func (s *Service) UpdateAttention(ctx context.Context, cmd UpdateCommand) (*Record, error) {
	if err := validateVitals(cmd.VitalSigns); err != nil {
		return nil, err
	}
	var diagnoses []Diagnosis
	if cmd.Diagnoses != nil {
		var err error
		if diagnoses, err = normalizeDiagnoses(cmd.Diagnoses); err != nil {
			return nil, err
		}
	}
	var prescriptions []Prescription
	if cmd.Prescriptions != nil {
		var err error
		if prescriptions, err = normalizePrescriptions(cmd.Prescriptions); err != nil {
			return nil, err
		}
	}

	var before, after Attention
	err := s.repo.WithinTx(ctx, func(tx Repository) error {
		current, err := tx.LockAttention(ctx, cmd.ID)
		if err != nil {
			return err
		}
		if err := checkDoctor(current, cmd.Doctor); err != nil {
			return err
		}
		if current.Status == StatusClosed {
			return ErrAttentionClosed.Withf(map[string]any{"attentionId": current.ID}, "attention %s is closed, use an amendment", current.ID)
		}
		before = *current

		trimmed := func(dst **string, src *string) {
			if src != nil {
				*dst = optional(strings.TrimSpace(*src))
			}
		}
		trimmed(&current.ChiefComplaint, cmd.ChiefComplaint)
		trimmed(&current.Anamnesis, cmd.Anamnesis)
		trimmed(&current.PhysicalExam, cmd.PhysicalExam)
		if cmd.VitalSigns != nil {
			current.VitalSigns = cmd.VitalSigns
		}
		current.UpdatedAt = s.clock.Now()

		if err := tx.UpdateAttention(ctx, current); err != nil {
			return err
		}
		if diagnoses != nil {
			if err := tx.ReplaceDiagnoses(ctx, current.ID, diagnoses); err != nil {
				return err
			}
		}
		if prescriptions != nil {
			if err := tx.ReplacePrescriptions(ctx, current.ID, prescriptions); err != nil {
				return err
			}
		}
		if note := strings.TrimSpace(cmd.Note); note != "" {
			if err := tx.AddNote(ctx, &Note{
				ID:          uuid.New(),
				AttentionID: current.ID,
				Type:        NoteEvolution,
				Content:     note,
				CreatedBy:   cmd.Actor,
				CreatedAt:   current.UpdatedAt,
			}); err != nil {
				return err
			}
		}
		after = *current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, cmd.Actor, audit.ActionUpdate, cmd.ID, &before, &after)
	return s.GetAttention(ctx, cmd.ID)
}

// CloseAttention closes an attention that has at least one diagnosis and
// marks its appointment attended. An appointment that is already attended
// is left as is, so a retried close does not fail on it.
func (s *Service) CloseAttention(ctx context.Context, id uuid.UUID, doctor *uuid.UUID, actor uuid.UUID) (*Attention, error) {
	ctx, span := s.tracer.Start(ctx, "medical.close_attention", trace.WithAttributes(
		attribute.String("attention_id", id.String()),
	))
	defer span.End()

	var before, closed Attention
	err := s.repo.WithinTx(ctx, func(tx Repository) error {
		current, err := tx.LockAttention(ctx, id)
		if err != nil {
			return err
		}
		if err := checkDoctor(current, doctor); err != nil {
			return err
		}
		if current.Status == StatusClosed {
			return ErrAttentionClosed.Withf(map[string]any{"attentionId": id}, "attention %s is already closed", id)
		}
		diagnoses, err := tx.ListDiagnoses(ctx, id)
		if err != nil {
			return err
		}
		if len(diagnoses) == 0 {
			return ErrDiagnosisRequired
		}
		before = *current

		if current.AppointmentID != nil {
			if err := s.attend(ctx, *current.AppointmentID, actor); err != nil {
				return err
			}
		}

		now := s.clock.Now()
		current.Status = StatusClosed
		current.ClosedAt = &now
		current.UpdatedAt = now
		if err := tx.UpdateAttention(ctx, current); err != nil {
			return err
		}
		closed = *current
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.Info("medical attention closed", zap.String("attention_id", id.String()))
	s.record(ctx, actor, audit.ActionCloseAttention, id, &before, &closed)
	return &closed, nil
}

func (s *Service) attend(ctx context.Context, appointmentID, actor uuid.UUID) error {
	appt, err := s.appts.GetAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}
	if appt.Status == appointment.StatusAttended {
		return nil
	}
	_, err = s.appts.AttendAppointment(ctx, appointmentID, actor)
	return err
}

// AddAmendment appends a correction to a closed attention. The attention
// itself is never rewritten.
func (s *Service) AddAmendment(ctx context.Context, cmd AmendCommand) (*Note, error) {
	reason := strings.TrimSpace(cmd.Reason)
	content := strings.TrimSpace(cmd.Content)
	if content == "" {
		return nil, ErrAmendmentIncomplete
	}
	if reason != "" {
		content = amendmentReason + reason + "\n" + content
	}

	note := &Note{
		ID:          uuid.New(),
		AttentionID: cmd.ID,
		Type:        NoteAmendment,
		Content:     amendmentPrefix + content,
		CreatedBy:   cmd.Actor,
		CreatedAt:   s.clock.Now(),
	}
	err := s.repo.WithinTx(ctx, func(tx Repository) error {
		current, err := tx.LockAttention(ctx, cmd.ID)
		if err != nil {
			return err
		}
		if err := checkDoctor(current, cmd.Doctor); err != nil {
			return err
		}
		if current.Status != StatusClosed {
			return ErrAttentionOpen.Withf(map[string]any{"attentionId": cmd.ID}, "attention %s is still in progress, update it instead", cmd.ID)
		}
		return tx.AddNote(ctx, note)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		UserID:     audit.Actor(cmd.Actor),
		Action:     audit.ActionAmendment,
		Module:     auditModule,
		EntityType: "MedicalAttention",
		EntityID:   cmd.ID.String(),
		After:      audit.Snapshot(note),
	})
	return note, nil
}

// GetAttention returns the attention with its diagnoses, prescriptions and notes.
func (s *Service) GetAttention(ctx context.Context, id uuid.UUID) (*Record, error) {
	a, err := s.repo.GetAttention(ctx, id)
	if err != nil {
		return nil, err
	}
	rec := &Record{Attention: *a}
	if rec.Diagnoses, err = s.repo.ListDiagnoses(ctx, id); err != nil {
		return nil, err
	}
	if rec.Prescriptions, err = s.repo.ListPrescriptions(ctx, id); err != nil {
		return nil, err
	}
	if rec.Notes, err = s.repo.ListNotes(ctx, id); err != nil {
		return nil, err
	}
	if rec.Diagnoses == nil {
		rec.Diagnoses = []Diagnosis{}
	}
	if rec.Prescriptions == nil {
		rec.Prescriptions = []Prescription{}
	}
	if rec.Notes == nil {
		rec.Notes = []Note{}
	}
	return rec, nil
}

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// ListAttentions returns attentions newest first.
func (s *Service) ListAttentions(ctx context.Context, f Filter) ([]Attention, int, error) {
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Status != nil && !f.Status.Valid() {
		return nil, 0, apperr.Validation("invalid_status", "status must be in_progress or closed")
	}
	list, total, err := s.repo.ListAttentions(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	if list == nil {
		list = []Attention{}
	}
	return list, total, nil
}

func (s *Service) record(ctx context.Context, actor uuid.UUID, action string, id uuid.UUID, before, after *Attention) {
	ev := audit.Event{
		UserID:     audit.Actor(actor),
		Action:     action,
		Module:     auditModule,
		EntityType: "MedicalAttention",
		EntityID:   id.String(),
	}
	if before != nil {
		ev.Before = audit.Snapshot(before)
	}
	if after != nil {
		ev.After = audit.Snapshot(after)
	}
	s.audit.Record(ctx, ev)
}
