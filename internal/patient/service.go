package patient

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/clinica/internal/apperr"
	"github.com/hackgods/clinica/internal/audit"
	"github.com/hackgods/clinica/internal/clock"
)

const auditModule = "patients"

var (
	ErrMissingFields = apperr.New(apperr.KindValidation, "missing_fields", "idNumber, firstName, lastName, dateOfBirth and gender are required")
	ErrInvalidGender = apperr.New(apperr.KindValidation, "invalid_gender", "gender must be M, F or O")
	ErrInvalidBirth  = apperr.New(apperr.KindValidation, "invalid_date_of_birth", "date of birth cannot be in the future")
)

type Deps struct {
	Audit    audit.Recorder
	Clock    clock.Clock
	Logger   *zap.Logger
	Location *time.Location
}

type Service struct {
	repo   Repository
	audit  audit.Recorder
	clock  clock.Clock
	logger *zap.Logger
	loc    *time.Location
	tracer trace.Tracer
}

func NewService(repo Repository, deps Deps) *Service {
	s := &Service{
		repo:   repo,
		audit:  deps.Audit,
		clock:  deps.Clock,
		logger: deps.Logger,
		loc:    deps.Location,
		tracer: otel.Tracer("clinica/patient"),
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
	if s.loc == nil {
		s.loc = time.UTC
	}
	return s
}

// Details are the demographic fields shared by create and update. On
// update a nil field keeps the stored value.
type Details struct {
	IDType                *string
	IDNumber              *string
	FirstName             *string
	LastName              *string
	DateOfBirth           *time.Time
	Gender                *Gender
	Phone                 *string
	Email                 *string
	Address               *string
	EmergencyContactName  *string
	EmergencyContactPhone *string
	BloodType             *string
	Allergies             *string
	Notes                 *string
}

func (d Details) apply(p *Patient) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setOpt := func(dst **string, src *string) {
		if src != nil {
			*dst = optional(strings.TrimSpace(*src))
		}
	}

	set(&p.IDType, d.IDType)
	set(&p.IDNumber, d.IDNumber)
	set(&p.FirstName, d.FirstName)
	set(&p.LastName, d.LastName)
	if d.DateOfBirth != nil {
		p.DateOfBirth = d.DateOfBirth
	}
	if d.Gender != nil {
		p.Gender = d.Gender
	}
	setOpt(&p.Phone, d.Phone)
	setOpt(&p.Email, d.Email)
	setOpt(&p.Address, d.Address)
	setOpt(&p.EmergencyContactName, d.EmergencyContactName)
	setOpt(&p.EmergencyContactPhone, d.EmergencyContactPhone)
	setOpt(&p.BloodType, d.BloodType)
	setOpt(&p.Allergies, d.Allergies)
	setOpt(&p.Notes, d.Notes)
}

func (s *Service) validate(p *Patient) error {
	if p.IDNumber == "" || p.FirstName == "" || p.LastName == "" || p.DateOfBirth == nil || p.Gender == nil {
		return ErrMissingFields
	}
	if !p.Gender.Valid() {
		return ErrInvalidGender.Withf(map[string]any{"gender": *p.Gender}, "gender must be M, F or O, got %q", *p.Gender)
	}
	if p.DateOfBirth.After(s.clock.Now()) {
		return ErrInvalidBirth
	}
	if p.IDType == "" {
		p.IDType = DefaultIDType
	}
	return nil
}

// CreatePatient registers a patient under the next medical record number of
// the current year.
func (s *Service) CreatePatient(ctx context.Context, d Details, actor uuid.UUID) (*Patient, error) {
	ctx, span := s.tracer.Start(ctx, "patient.create")
	defer span.End()

	now := s.clock.Now()
	p := &Patient{ID: uuid.New(), CreatedAt: now, UpdatedAt: now}
	d.apply(p)
	if err := s.validate(p); err != nil {
		return nil, err
	}

	err := s.repo.WithinTx(ctx, func(tx Repository) error {
		year := now.In(s.loc).Year()
		seq, err := tx.ReserveRecordNumbers(ctx, year, 1)
		if err != nil {
			return err
		}
		p.MedicalRecordNumber = FormatRecordNumber(year, seq)
		return tx.Create(ctx, p)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.Info("patient registered",
		zap.String("patient_id", p.ID.String()),
		zap.String("medical_record_number", p.MedicalRecordNumber))
	s.record(ctx, actor, audit.ActionCreate, p.ID, nil, p)
	return p, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.Get(ctx, id)
}

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// ListPatients returns non-deleted patients, newest first.
func (s *Service) ListPatients(ctx context.Context, f Filter) ([]Patient, int, error) {
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.Search = strings.TrimSpace(f.Search)

	patients, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	if patients == nil {
		patients = []Patient{}
	}
	return patients, total, nil
}

func (s *Service) UpdatePatient(ctx context.Context, id uuid.UUID, d Details, actor uuid.UUID) (*Patient, error) {
	var before Patient
	var updated *Patient

	err := s.repo.WithinTx(ctx, func(tx Repository) error {
		current, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		before = *current

		d.apply(current)
		if err := s.validate(current); err != nil {
			return err
		}
		current.UpdatedAt = s.clock.Now()
		if err := tx.Update(ctx, current); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, actor, audit.ActionUpdate, id, &before, updated)
	return updated, nil
}

// DeletePatient hides the patient from every read path. Appointments and
// invoices keep referencing the row.
func (s *Service) DeletePatient(ctx context.Context, id, actor uuid.UUID) error {
	var before *Patient

	err := s.repo.WithinTx(ctx, func(tx Repository) error {
		current, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		before = current
		return tx.SoftDelete(ctx, id, s.clock.Now())
	})
	if err != nil {
		return err
	}

	s.logger.Info("patient deleted", zap.String("patient_id", id.String()))
	s.record(ctx, actor, audit.ActionSoftDelete, id, before, nil)
	return nil
}

func (s *Service) record(ctx context.Context, actor uuid.UUID, action string, id uuid.UUID, before, after *Patient) {
	ev := audit.Event{
		UserID:     audit.Actor(actor),
		Action:     action,
		Module:     auditModule,
		EntityType: "Patient",
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
