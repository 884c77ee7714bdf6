package appointment

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinica/internal/apperr"
	"github.com/hackgods/clinica/internal/config"
)

func mondaySchedule(doctorID uuid.UUID, start, end string, slot int) WeeklySchedule {
	s, _ := ParseClockTime(start)
	e, _ := ParseClockTime(end)
	return WeeklySchedule{DoctorID: doctorID, DayOfWeek: int(time.Monday), StartTime: s, EndTime: e, SlotMinutes: slot}
}

func TestAvailabilityScenario(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.UpsertWeeklySchedule(context.Background(), mondaySchedule(f.doctor.ID, "08:00", "17:00", 30)))
	f.book(t, at(9, 0), 30)
	f.block(at(14, 0), at(15, 0), "Reunión")

	av, err := f.svc.ComputeAvailability(context.Background(), f.doctor.ID, monday)
	require.NoError(t, err)
	require.True(t, av.Working())

	slots := slices.Collect(av.Slots())
	require.Len(t, slots, 18)
	assert.Equal(t, at(8, 0), slots[0].Start)

	for i, slot := range slots {
		if i > 0 {
			assert.Equal(t, slots[i-1].End, slot.Start, "slots must be contiguous")
		}
		switch {
		case slot.Start.Equal(at(9, 0)):
			assert.False(t, slot.Available)
			assert.Equal(t, SlotBooked, slot.Reason)
		case slot.Start.Equal(at(14, 0)), slot.Start.Equal(at(14, 30)):
			assert.False(t, slot.Available)
			assert.Equal(t, SlotBlocked, slot.Reason)
		default:
			assert.True(t, slot.Available, "slot %s", slot.Start.Format("15:04"))
			assert.Empty(t, slot.Reason)
		}
	}
}

func TestAvailabilityBlockedWinsOverBooked(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.UpsertWeeklySchedule(context.Background(), mondaySchedule(f.doctor.ID, "08:00", "10:00", 30)))
	f.book(t, at(8, 0), 30)
	f.block(at(7, 0), at(8, 30), "Emergencia")

	av, err := f.svc.ComputeAvailability(context.Background(), f.doctor.ID, monday)
	require.NoError(t, err)

	first := slices.Collect(av.Slots())[0]
	assert.Equal(t, SlotBlocked, first.Reason)
}

func TestAvailabilityNoScheduleThatDay(t *testing.T) {
	f := newFixture(t)

	av, err := f.svc.ComputeAvailability(context.Background(), f.doctor.ID, monday.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.False(t, av.Working())
	assert.Empty(t, slices.Collect(av.Slots()))
}

func TestAvailabilityUnknownDoctor(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ComputeAvailability(context.Background(), uuid.New(), monday)
	assert.ErrorIs(t, err, ErrDoctorNotFound)
}

func TestSlotOverflowPolicy(t *testing.T) {
	ws := mondaySchedule(uuid.New(), "08:00", "09:45", 30)

	extended := slices.Collect(GenerateSlots(monday, ws, nil, nil, config.SlotOverflowExtend))
	require.Len(t, extended, 4)
	assert.Equal(t, at(9, 30), extended[3].Start)
	assert.Equal(t, at(10, 0), extended[3].End)

	dropped := slices.Collect(GenerateSlots(monday, ws, nil, nil, config.SlotOverflowDrop))
	require.Len(t, dropped, 3)
	assert.Equal(t, at(9, 30), dropped[2].End)
}

func TestSlotsAreRestartableAndStopEarly(t *testing.T) {
	ws := mondaySchedule(uuid.New(), "08:00", "12:00", 60)
	seq := GenerateSlots(monday, ws, nil, nil, config.SlotOverflowExtend)

	assert.Equal(t, slices.Collect(seq), slices.Collect(seq))

	var seen int
	for range seq {
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestSlotsIgnoreCancelledAppointments(t *testing.T) {
	ws := mondaySchedule(uuid.New(), "08:00", "09:00", 30)
	booked := []Appointment{
		{DateTime: at(8, 0), EndTime: at(8, 30), Status: StatusCancelled},
		{DateTime: at(8, 30), EndTime: at(9, 0), Status: StatusConfirmed},
	}

	slots := slices.Collect(GenerateSlots(monday, ws, nil, booked, config.SlotOverflowExtend))
	require.Len(t, slots, 2)
	assert.True(t, slots[0].Available)
	assert.Equal(t, SlotBooked, slots[1].Reason)
}

func TestSetWeeklyScheduleValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		ws   WeeklySchedule
	}{
		{"day out of range", mondaySchedule(f.doctor.ID, "08:00", "12:00", 30).withDay(7)},
		{"start after end", mondaySchedule(f.doctor.ID, "12:00", "08:00", 30)},
		{"zero slot", mondaySchedule(f.doctor.ID, "08:00", "12:00", 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SetWeeklySchedule(ctx, tt.ws, f.actor)
			require.ErrorIs(t, err, ErrInvalidSchedule)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}

	saved, err := f.svc.SetWeeklySchedule(ctx, mondaySchedule(f.doctor.ID, "08:00", "12:00", 20), f.actor)
	require.NoError(t, err)
	assert.Equal(t, 20, saved.SlotMinutes)

	doctors, err := f.svc.ListDoctors(ctx, nil)
	require.NoError(t, err)
	require.Len(t, doctors, 1)
	require.Len(t, doctors[0].Schedules, 1)
	assert.Equal(t, "08:00", doctors[0].Schedules[0].StartTime.String())
}

func (w WeeklySchedule) withDay(d int) WeeklySchedule {
	w.DayOfWeek = d
	return w
}

func TestScheduleBlocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateScheduleBlock(ctx, BlockCommand{DoctorID: f.doctor.ID, Start: at(12, 0), End: at(11, 0), Reason: "x"})
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = f.svc.CreateScheduleBlock(ctx, BlockCommand{DoctorID: f.doctor.ID, Start: at(11, 0), End: at(12, 0)})
	assert.ErrorIs(t, err, ErrReasonRequired)

	b, err := f.svc.CreateScheduleBlock(ctx, BlockCommand{DoctorID: f.doctor.ID, Start: at(11, 0), End: at(12, 0), Reason: "Congreso", Actor: f.actor})
	require.NoError(t, err)
	require.NotNil(t, b.CreatedBy)
	assert.Equal(t, f.actor, *b.CreatedBy)

	blocks, err := f.svc.ListScheduleBlocks(ctx, f.doctor.ID, monday, monday.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "Congreso", blocks[0].Reason)

	empty, err := f.svc.ListScheduleBlocks(ctx, f.doctor.ID, monday.AddDate(0, 0, 1), monday.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Empty(t, empty)
}
