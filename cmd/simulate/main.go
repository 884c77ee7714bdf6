package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hackgods/clinica/internal/api"
	"github.com/hackgods/clinica/internal/appointment"
	"github.com/hackgods/clinica/internal/auth"
	"github.com/hackgods/clinica/internal/billing"
	"github.com/hackgods/clinica/internal/config"
	"github.com/hackgods/clinica/internal/db"
	"github.com/hackgods/clinica/internal/logging"
)

type SimConfig struct {
	APIBaseURL    string
	Username      string
	Password      string
	Workers       int
	Rounds        int
	PaymentAmount decimal.Decimal
	InvoiceTotal  decimal.Decimal
	PatientLimit  int
	Location      *time.Location
	PostgresDSN   string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	lo = latencies[0]
	hi = latencies[len(latencies)-1]
	p50 = latencies[min(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, lo, hi, p50, p95
}

type Metrics struct {
	Booking      OperationMetrics
	Payment      OperationMetrics
	Availability OperationMetrics
	List         OperationMetrics
}

type Simulator struct {
	config   SimConfig
	client   *http.Client
	token    string
	patients []uuid.UUID
	doctor   appointment.DoctorWithSchedules
	metrics  Metrics
	logger   *zap.Logger

	violations atomic.Int64
}

func main() {
	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := logging.New("dev", "info")
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("simulator starting",
		zap.String("api", cfg.APIBaseURL),
		zap.Int("workers", cfg.Workers),
		zap.Int("rounds", cfg.Rounds))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	patients, err := loadPatients(ctx, pgPool, cfg.PatientLimit)
	pgPool.Close()
	if err != nil {
		logger.Fatal("load patients", zap.Error(err))
	}

	sim := &Simulator{
		config:   cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		patients: patients,
		logger:   logger,
	}
	if err := sim.Setup(ctx); err != nil {
		logger.Fatal("setup", zap.Error(err))
	}
	logger.Info("loaded fixtures",
		zap.Int("patients", len(sim.patients)),
		zap.String("doctor", sim.doctor.FirstName+" "+sim.doctor.LastName))

	sim.RunBookingRace(ctx)
	sim.RunPaymentRace(ctx)
	sim.RunReads(ctx)

	sim.PrintReport()
	if n := sim.violations.Load(); n > 0 {
		logger.Error("invariant violations detected", zap.Int64("count", n))
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	return SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Username:      getEnv("SIM_USERNAME", "admin"),
		Password:      getEnv("SIM_PASSWORD", "Clinica2025!"),
		Workers:       getInt("SIM_WORKERS", 10),
		Rounds:        getInt("SIM_ROUNDS", 20),
		PaymentAmount: decimal.RequireFromString(getEnv("SIM_PAYMENT_AMOUNT", "30.00")),
		InvoiceTotal:  decimal.RequireFromString(getEnv("SIM_INVOICE_TOTAL", "100.00")),
		PatientLimit:  getInt("SIM_PATIENT_LIMIT", 500),
		Location:      baseCfg.ClinicTimezone,
		PostgresDSN:   baseCfg.PostgresDSN,
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return errors.New("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 1 {
		return errors.New("SIM_WORKERS must be > 1 to race")
	}
	if cfg.Rounds <= 0 {
		return errors.New("SIM_ROUNDS must be > 0")
	}
	if !cfg.PaymentAmount.IsPositive() || !cfg.InvoiceTotal.IsPositive() {
		return errors.New("SIM_PAYMENT_AMOUNT and SIM_INVOICE_TOTAL must be positive")
	}
	return nil
}

func loadPatients(ctx context.Context, pool *pgxpool.Pool, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, `SELECT id FROM patients WHERE deleted_at IS NULL LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errors.New("no patients loaded, run clinicctl seed first")
	}
	return ids, nil
}

// call sends body as JSON and decodes a 2xx response into out.
func (s *Simulator) call(ctx context.Context, method, path string, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return resp.StatusCode, fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, apiErr.Error)
	}
	if out != nil {
		return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, nil
}

func (s *Simulator) Setup(ctx context.Context) error {
	var login auth.LoginResult
	if _, err := s.call(ctx, http.MethodPost, "/api/auth/login",
		api.LoginRequest{Username: s.config.Username, Password: s.config.Password}, &login); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	s.token = login.Token

	var doctors []appointment.DoctorWithSchedules
	if _, err := s.call(ctx, http.MethodGet, "/api/doctors", nil, &doctors); err != nil {
		return fmt.Errorf("list doctors: %w", err)
	}
	for _, d := range doctors {
		if len(d.Schedules) > 0 {
			s.doctor = d
			return nil
		}
	}
	return errors.New("no doctor with a weekly schedule, run clinicctl seed first")
}

// nextWorkingDay returns the first day after today the doctor works.
func (s *Simulator) nextWorkingDay() (time.Time, appointment.WeeklySchedule) {
	now := time.Now().In(s.config.Location)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.config.Location)
	for i := 1; i <= 14; i++ {
		d := day.AddDate(0, 0, i)
		for _, ws := range s.doctor.Schedules {
			if ws.DayOfWeek == int(d.Weekday()) {
				return d, ws
			}
		}
	}
	return day.AddDate(0, 0, 1), s.doctor.Schedules[0]
}

// RunBookingRace has every worker book overlapping intervals for the same
// doctor in each round. At most one booking per round may succeed.
func (s *Simulator) RunBookingRace(ctx context.Context) {
	day, ws := s.nextWorkingDay()
	windowStart := ws.StartTime.On(day)
	s.logger.Info("booking race", zap.Time("day", day), zap.Int("rounds", s.config.Rounds))

	for round := 0; round < s.config.Rounds; round++ {
		// rounds are 45 minutes apart so they never overlap each other
		base := windowStart.Add(time.Duration(round) * 45 * time.Minute)

		var booked atomic.Int64
		var wg sync.WaitGroup
		for w := 0; w < s.config.Workers; w++ {
			wg.Add(1)
			go func(worker int) {
				defer wg.Done()
				rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)))
				start := base.Add(time.Duration(rng.Intn(4)*5) * time.Minute)

				began := time.Now()
				var appt appointment.Appointment
				code, err := s.call(ctx, http.MethodPost, "/api/appointments", api.CreateAppointmentRequest{
					PatientID: s.patients[rng.Intn(len(s.patients))],
					DoctorID:  s.doctor.ID,
					DateTime:  start.Format(time.RFC3339),
					Duration:  30,
					Reason:    "simulated booking",
				}, &appt)
				ok := err == nil && code == http.StatusCreated
				s.metrics.Booking.Record(time.Since(began), ok, code == http.StatusConflict)
				if ok {
					booked.Add(1)
				} else if code != http.StatusConflict {
					s.logger.Warn("booking failed", zap.Int("status", code), zap.Error(err))
				}
			}(w)
		}
		wg.Wait()

		if n := booked.Load(); n > 1 {
			s.violations.Add(1)
			s.logger.Error("double booking", zap.Int("round", round), zap.Int64("bookings", n))
		}
	}
}

// RunPaymentRace creates one invoice and has every worker try to pay it at
// once. The sum of accepted payments must never exceed the total.
func (s *Simulator) RunPaymentRace(ctx context.Context) {
	price := s.config.InvoiceTotal
	var inv billing.Invoice
	_, err := s.call(ctx, http.MethodPost, "/api/billing/invoices", api.CreateInvoiceRequest{
		PatientID: s.patients[0],
		Items: []api.InvoiceItemRequest{
			{Description: "Consulta simulada", Quantity: 1, UnitPrice: &price},
		},
		TaxRate: decimal.Zero,
	}, &inv)
	if err != nil {
		s.logger.Error("create invoice", zap.Error(err))
		s.violations.Add(1)
		return
	}
	s.logger.Info("payment race", zap.String("invoice", inv.Number), zap.String("total", inv.Total.StringFixed(2)))

	var wg sync.WaitGroup
	for w := 0; w < s.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			began := time.Now()
			code, err := s.call(ctx, http.MethodPost, "/api/billing/invoices/"+inv.ID.String()+"/payments", api.PaymentRequest{
				Amount: s.config.PaymentAmount,
				Method: billing.MethodCash,
			}, nil)
			s.metrics.Payment.Record(time.Since(began), err == nil, code == http.StatusConflict)
			if err != nil && code != http.StatusConflict {
				s.logger.Warn("payment failed", zap.Int("status", code), zap.Error(err))
			}
		}()
	}
	wg.Wait()

	var final billing.Invoice
	if _, err := s.call(ctx, http.MethodGet, "/api/billing/invoices/"+inv.ID.String(), nil, &final); err != nil {
		s.logger.Error("reload invoice", zap.Error(err))
		return
	}
	paid := decimal.Zero
	for _, p := range final.Payments {
		paid = paid.Add(p.Amount)
	}
	s.logger.Info("payment race settled",
		zap.String("paid", paid.StringFixed(2)),
		zap.String("status", string(final.PaymentStatus)),
		zap.Int("payments", len(final.Payments)))
	if paid.GreaterThan(final.Total) {
		s.violations.Add(1)
		s.logger.Error("invoice overpaid", zap.String("paid", paid.StringFixed(2)), zap.String("total", final.Total.StringFixed(2)))
	}
}

// RunReads issues availability and listing queries from every worker.
func (s *Simulator) RunReads(ctx context.Context) {
	day, _ := s.nextWorkingDay()
	date := day.Format(time.DateOnly)

	var wg sync.WaitGroup
	for w := 0; w < s.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < s.config.Rounds; i++ {
				began := time.Now()
				_, err := s.call(ctx, http.MethodGet,
					fmt.Sprintf("/api/doctors/%s/availability?date=%s", s.doctor.ID, date), nil, &api.AvailabilityResponse{})
				s.metrics.Availability.Record(time.Since(began), err == nil, false)

				began = time.Now()
				_, err = s.call(ctx, http.MethodGet,
					fmt.Sprintf("/api/appointments?doctorId=%s&date=%s&limit=50", s.doctor.ID, date), nil, nil)
				s.metrics.List.Record(time.Since(began), err == nil, false)
			}
		}()
	}
	wg.Wait()
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Workers: %d  Rounds: %d\n", s.config.Workers, s.config.Rounds)
	fmt.Printf("Invariant violations: %d\n", s.violations.Load())
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Payment", &s.metrics.Payment)
	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("List appointments", &s.metrics.List)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
