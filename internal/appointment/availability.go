package appointment

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinica/internal/config"
)

type SlotReason string

const (
	SlotBlocked SlotReason = "blocked"
	SlotBooked  SlotReason = "booked"
)

type Slot struct {
	Start     time.Time  `json:"start"`
	End       time.Time  `json:"end"`
	Available bool       `json:"available"`
	Reason    SlotReason `json:"reason,omitempty"`
}

// Availability describes one doctor's day. Slots can be ranged over any
// number of times; each pass regenerates the sequence.
type Availability struct {
	DoctorID uuid.UUID
	Date     time.Time
	Schedule *WeeklySchedule

	blocks   []ScheduleBlock
	booked   []Appointment
	overflow config.SlotOverflow
}

// Working reports whether the doctor has a schedule on this day.
func (a *Availability) Working() bool {
	return a.Schedule != nil
}

func (a *Availability) Slots() iter.Seq[Slot] {
	if a.Schedule == nil {
		return func(func(Slot) bool) {}
	}
	return GenerateSlots(a.Date, *a.Schedule, a.blocks, a.booked, a.overflow)
}

// GenerateSlots tiles the schedule window of day with slots of the
// schedule's duration, starting at the opening time. A slot is emitted while
// its start is before closing time, so with SlotOverflowExtend the last slot
// may end after closing; SlotOverflowDrop omits it. Each slot is marked
// blocked if any block overlaps it, else booked if any appointment does.
func GenerateSlots(day time.Time, ws WeeklySchedule, blocks []ScheduleBlock, booked []Appointment, overflow config.SlotOverflow) iter.Seq[Slot] {
	open := ws.StartTime.On(day)
	closing := ws.EndTime.On(day)
	step := ws.SlotDuration()

	return func(yield func(Slot) bool) {
		if step <= 0 {
			return
		}
		for start := open; start.Before(closing); start = start.Add(step) {
			end := start.Add(step)
			if overflow == config.SlotOverflowDrop && end.After(closing) {
				return
			}

			slot := Slot{Start: start, End: end, Available: true}
			if overlapsAnyBlock(blocks, start, end) {
				slot.Available = false
				slot.Reason = SlotBlocked
			} else if overlapsAnyAppointment(booked, start, end) {
				slot.Available = false
				slot.Reason = SlotBooked
			}

			if !yield(slot) {
				return
			}
		}
	}
}

func overlapsAnyBlock(blocks []ScheduleBlock, start, end time.Time) bool {
	for _, b := range blocks {
		if Overlaps(b.StartDate, b.EndDate, start, end) {
			return true
		}
	}
	return false
}

func overlapsAnyAppointment(appts []Appointment, start, end time.Time) bool {
	for _, a := range appts {
		if a.Status == StatusCancelled || a.DeletedAt != nil {
			continue
		}
		if Overlaps(a.DateTime, a.EndTime, start, end) {
			return true
		}
	}
	return false
}

// window returns the span covered by the generated slots of a day.
func window(day time.Time, ws WeeklySchedule, overflow config.SlotOverflow) (time.Time, time.Time) {
	open := ws.StartTime.On(day)
	closing := ws.EndTime.On(day)
	if overflow == config.SlotOverflowDrop || ws.SlotMinutes <= 0 {
		return open, closing
	}
	step := ws.SlotDuration()
	n := (closing.Sub(open) + step - 1) / step
	return open, open.Add(n * step)
}

// ComputeAvailability loads the doctor's schedule, blocks and bookings for
// date (midnight in the clinic timezone) and returns the day's slots.
func (s *Service) ComputeAvailability(ctx context.Context, doctorID uuid.UUID, date time.Time) (*Availability, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}

	day := date.In(s.cfg.ClinicTimezone)
	result := &Availability{DoctorID: doctorID, Date: day, overflow: s.cfg.SlotOverflow}

	ws, err := s.repo.GetWeeklySchedule(ctx, doctorID, int(day.Weekday()))
	if errors.Is(err, ErrScheduleNotFound) {
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	result.Schedule = ws

	from, to := window(day, *ws, s.cfg.SlotOverflow)

	if result.blocks, err = s.repo.ListBlocksOverlapping(ctx, doctorID, from, to); err != nil {
		return nil, err
	}
	if result.booked, err = s.repo.ListActiveOverlapping(ctx, doctorID, from, to, nil); err != nil {
		return nil, err
	}

	return result, nil
}
