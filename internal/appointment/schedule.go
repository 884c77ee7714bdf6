package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinica/internal/apperr"
	"github.com/hackgods/clinica/internal/audit"
)

var ErrInvalidSchedule = apperr.New(apperr.KindValidation, "invalid_schedule", "invalid weekly schedule")

type DoctorWithSchedules struct {
	Doctor
	Schedules []WeeklySchedule `json:"schedules"`
}

// ListDoctors returns active doctors, optionally of one specialty, with
// their weekly schedules.
func (s *Service) ListDoctors(ctx context.Context, specialtyID *uuid.UUID) ([]DoctorWithSchedules, error) {
	doctors, err := s.repo.ListDoctors(ctx, specialtyID)
	if err != nil {
		return nil, err
	}

	result := make([]DoctorWithSchedules, 0, len(doctors))
	for _, d := range doctors {
		schedules, err := s.repo.ListWeeklySchedules(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		if schedules == nil {
			schedules = []WeeklySchedule{}
		}
		result = append(result, DoctorWithSchedules{Doctor: d, Schedules: schedules})
	}
	return result, nil
}

// SetWeeklySchedule creates or replaces the doctor's schedule for one weekday.
func (s *Service) SetWeeklySchedule(ctx context.Context, ws WeeklySchedule, actor uuid.UUID) (*WeeklySchedule, error) {
	if ws.DayOfWeek < 0 || ws.DayOfWeek > 6 {
		return nil, ErrInvalidSchedule.Withf(nil, "dayOfWeek must be between 0 and 6, got %d", ws.DayOfWeek)
	}
	if ws.StartTime.Minutes() >= ws.EndTime.Minutes() {
		return nil, ErrInvalidSchedule.Withf(nil, "startTime %s must be before endTime %s", ws.StartTime, ws.EndTime)
	}
	if ws.SlotMinutes <= 0 {
		return nil, ErrInvalidSchedule.Withf(nil, "slotDuration must be positive, got %d", ws.SlotMinutes)
	}

	if _, err := s.repo.GetDoctorByID(ctx, ws.DoctorID); err != nil {
		return nil, err
	}
	if err := s.repo.UpsertWeeklySchedule(ctx, ws); err != nil {
		return nil, err
	}

	if (ws.EndTime.Minutes()-ws.StartTime.Minutes())%ws.SlotMinutes != 0 {
		s.logger.Warn("schedule window is not a multiple of the slot duration",
			zap.String("doctor_id", ws.DoctorID.String()),
			zap.Int("day_of_week", ws.DayOfWeek),
			zap.String("overflow", string(s.cfg.SlotOverflow)))
	}

	s.audit.Record(ctx, audit.Event{
		UserID:     audit.Actor(actor),
		Action:     audit.ActionUpdate,
		Module:     auditModule,
		EntityType: "DoctorSchedule",
		EntityID:   ws.DoctorID.String(),
		After:      audit.Snapshot(ws),
	})
	return &ws, nil
}

type BlockCommand struct {
	DoctorID uuid.UUID
	Start    time.Time
	End      time.Time
	Reason   string
	Actor    uuid.UUID
}

func (s *Service) CreateScheduleBlock(ctx context.Context, cmd BlockCommand) (*ScheduleBlock, error) {
	if !cmd.Start.Before(cmd.End) {
		return nil, ErrInvalidInterval
	}
	if cmd.Reason == "" {
		return nil, ErrReasonRequired.Withf(nil, "a reason is required for a schedule block")
	}
	if _, err := s.repo.GetDoctorByID(ctx, cmd.DoctorID); err != nil {
		return nil, err
	}

	b := ScheduleBlock{
		ID:        uuid.New(),
		DoctorID:  cmd.DoctorID,
		StartDate: cmd.Start,
		EndDate:   cmd.End,
		Reason:    cmd.Reason,
		CreatedBy: audit.Actor(cmd.Actor),
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.CreateScheduleBlock(ctx, b); err != nil {
		return nil, err
	}

	s.logger.Info("schedule block created",
		zap.String("doctor_id", b.DoctorID.String()),
		zap.Time("start", b.StartDate),
		zap.Time("end", b.EndDate))
	s.audit.Record(ctx, audit.Event{
		UserID:     audit.Actor(cmd.Actor),
		Action:     audit.ActionCreate,
		Module:     auditModule,
		EntityType: "ScheduleBlock",
		EntityID:   b.ID.String(),
		After:      audit.Snapshot(b),
	})
	return &b, nil
}

// ListScheduleBlocks returns the doctor's blocks overlapping [from, to).
func (s *Service) ListScheduleBlocks(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]ScheduleBlock, error) {
	if !from.Before(to) {
		return nil, ErrInvalidInterval
	}
	blocks, err := s.repo.ListBlocksOverlapping(ctx, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	if blocks == nil {
		blocks = []ScheduleBlock{}
	}
	return blocks, nil
}
