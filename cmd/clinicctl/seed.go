package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hackgods/clinica/internal/appointment"
	"github.com/hackgods/clinica/internal/auth"
	"github.com/hackgods/clinica/internal/billing"
	"github.com/hackgods/clinica/internal/patient"
)

type seedOptions struct {
	doctors  int
	patients int
	password string
	seed     int64
	migrate  bool
}

type seeder struct {
	pool     *pgxpool.Pool
	logger   *zap.Logger
	opts     seedOptions
	users    *auth.PgRepository
	schedule *appointment.PgRepository
	catalog  *billing.PgRepository
	patients *patient.PgRepository
	roles    map[string]uuid.UUID
	hash     string
}

func newSeeder(pool *pgxpool.Pool, logger *zap.Logger, opts seedOptions) *seeder {
	return &seeder{
		pool:     pool,
		logger:   logger,
		opts:     opts,
		users:    auth.NewPgRepository(pool),
		schedule: appointment.NewPgRepository(pool),
		catalog:  billing.NewPgRepository(pool),
		patients: patient.NewPgRepository(pool),
		roles:    make(map[string]uuid.UUID),
	}
}

var specialties = []string{
	"Medicina General",
	"Pediatría",
	"Cardiología",
	"Dermatología",
	"Ginecología",
	"Traumatología",
}

var staff = []struct {
	username, role, first, last string
}{
	{"admin", auth.RoleAdministrator, "Ana", "Salazar"},
	{"recepcion", "Recepción", "Rosa", "Mendoza"},
	{"facturacion", "Facturación", "Fabián", "Torres"},
	{"gerencia", "Gerencia", "Gabriela", "Paredes"},
}

var services = []struct {
	code, name, category, price string
}{
	{"CONS-GEN", "Consulta medicina general", "consultation", "25.00"},
	{"CONS-ESP", "Consulta de especialidad", "consultation", "40.00"},
	{"CTRL", "Control subsecuente", "consultation", "20.00"},
	{"ECG", "Electrocardiograma", "procedure", "35.00"},
	{"CUR", "Curación simple", "procedure", "15.00"},
	{"NEB", "Nebulización", "procedure", "10.00"},
	{"CERT", "Certificado médico", "administrative", "12.50"},
}

func (s *seeder) Run(ctx context.Context) error {
	seed := s.opts.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if err := gofakeit.Seed(seed); err != nil {
		return fmt.Errorf("seed faker: %w", err)
	}
	s.logger.Info("seed starting", zap.Int64("seed", seed))

	hash, err := auth.HashPassword(s.opts.password)
	if err != nil {
		return err
	}
	s.hash = hash

	steps := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"roles", s.seedRoles},
		{"staff", s.seedStaff},
		{"doctors", s.seedDoctors},
		{"patients", s.seedPatients},
		{"services", s.seedServices},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("seed %s: %w", step.name, err)
		}
	}

	s.logger.Info("seed complete")
	return nil
}

func (s *seeder) seedRoles(ctx context.Context) error {
	for _, role := range auth.DefaultRoles() {
		id, err := s.users.CreateRole(ctx, role)
		if err != nil {
			return err
		}
		s.roles[role.Name] = id
		s.logger.Info("role ready", zap.String("role", role.Name), zap.Int("capabilities", len(role.Capabilities)))
	}
	return nil
}

// createUser inserts u and reports whether it was new. Existing usernames
// are left untouched so seeding can be repeated.
func (s *seeder) createUser(ctx context.Context, u auth.User) (bool, error) {
	err := s.users.CreateUser(ctx, u)
	if errors.Is(err, auth.ErrUserExists) {
		s.logger.Info("user exists, skipping", zap.String("username", u.Username))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *seeder) seedStaff(ctx context.Context) error {
	for _, st := range staff {
		_, err := s.createUser(ctx, auth.User{
			ID:           uuid.New(),
			Username:     st.username,
			Email:        st.username + "@clinica.local",
			PasswordHash: s.hash,
			FirstName:    st.first,
			LastName:     st.last,
			RoleID:       s.roles[st.role],
			IsActive:     true,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *seeder) seedDoctors(ctx context.Context) error {
	specialtyIDs := make([]uuid.UUID, 0, len(specialties))
	for _, name := range specialties {
		var id uuid.UUID
		err := s.pool.QueryRow(ctx, `
			INSERT INTO specialties (id, name) VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id
		`, uuid.New(), name).Scan(&id)
		if err != nil {
			return fmt.Errorf("upsert specialty %s: %w", name, err)
		}
		specialtyIDs = append(specialtyIDs, id)
	}

	start, _ := appointment.ParseClockTime("08:00")
	end, _ := appointment.ParseClockTime("17:00")

	for i := 1; i <= s.opts.doctors; i++ {
		user := auth.User{
			ID:           uuid.New(),
			Username:     fmt.Sprintf("medico%02d", i),
			PasswordHash: s.hash,
			FirstName:    gofakeit.FirstName(),
			LastName:     gofakeit.LastName(),
			RoleID:       s.roles[auth.RoleDoctor],
			IsActive:     true,
		}
		user.Email = user.Username + "@clinica.local"

		created, err := s.createUser(ctx, user)
		if err != nil {
			return err
		}
		if !created {
			continue
		}

		doctorID := uuid.New()
		_, err = s.pool.Exec(ctx, `
			INSERT INTO doctors (id, user_id, specialty_id, license_number)
			VALUES ($1, $2, $3, $4)
		`, doctorID, user.ID, specialtyIDs[(i-1)%len(specialtyIDs)], gofakeit.Numerify("MSP-#####"))
		if err != nil {
			return fmt.Errorf("insert doctor %s: %w", user.Username, err)
		}

		for day := time.Monday; day <= time.Friday; day++ {
			err := s.schedule.UpsertWeeklySchedule(ctx, appointment.WeeklySchedule{
				DoctorID:    doctorID,
				DayOfWeek:   int(day),
				StartTime:   start,
				EndTime:     end,
				SlotMinutes: 30,
			})
			if err != nil {
				return err
			}
		}
	}

	s.logger.Info("doctors seeded", zap.Int("count", s.opts.doctors))
	return nil
}

var genders = []patient.Gender{patient.GenderMale, patient.GenderFemale, patient.GenderOther}

func (s *seeder) seedPatients(ctx context.Context) error {
	const batchSize = 500
	year := time.Now().Year()

	for offset := 0; offset < s.opts.patients; offset += batchSize {
		end := min(offset+batchSize, s.opts.patients)

		first, err := s.patients.ReserveRecordNumbers(ctx, year, end-offset)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i := range end - offset {
			firstName, lastName := gofakeit.FirstName(), gofakeit.LastName()
			dob := gofakeit.DateRange(time.Now().AddDate(-90, 0, 0), time.Now().AddDate(-1, 0, 0))
			batch.Queue(`
				INSERT INTO patients (id, medical_record_number, id_type, id_number, first_name, last_name,
				                      date_of_birth, gender, phone, email, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
				ON CONFLICT DO NOTHING
			`, uuid.New(), patient.FormatRecordNumber(year, first+int64(i)), patient.DefaultIDType,
				gofakeit.Numerify("##########"), firstName, lastName,
				dob, genders[gofakeit.IntN(len(genders))], gofakeit.Numerify("09########"),
				strings.ToLower(firstName+"."+lastName)+"@"+gofakeit.DomainName())
		}

		if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert patients: %w", err)
		}
		s.logger.Info("patients seeded", zap.Int("done", end), zap.Int("total", s.opts.patients))
	}
	return nil
}

func (s *seeder) seedServices(ctx context.Context) error {
	for _, svc := range services {
		err := s.catalog.CreateCatalogItem(ctx, billing.CatalogItem{
			ID:        uuid.New(),
			Code:      svc.code,
			Name:      svc.name,
			Price:     decimal.RequireFromString(svc.price),
			Category:  svc.category,
			IsActive:  true,
			CreatedAt: time.Now(),
		})
		if errors.Is(err, billing.ErrDuplicateService) {
			continue
		}
		if err != nil {
			return err
		}
	}
	s.logger.Info("service catalog seeded", zap.Int("count", len(services)))
	return nil
}
