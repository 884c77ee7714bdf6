package patient

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRepo is a map-backed Repository. WithinTx serializes callers.
type memRepo struct {
	txMu sync.Mutex
	mu   sync.Mutex

	sequences map[int]int64
	patients  map[uuid.UUID]Patient
}

func newMemRepo() *memRepo {
	return &memRepo{
		sequences: map[int]int64{},
		patients:  map[uuid.UUID]Patient{},
	}
}

func (r *memRepo) ReserveRecordNumbers(_ context.Context, year, n int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sequences[year] += int64(n)
	return r.sequences[year] - int64(n) + 1, nil
}

func (r *memRepo) duplicate(p *Patient) error {
	for _, other := range r.patients {
		if other.ID == p.ID {
			continue
		}
		if other.IDNumber == p.IDNumber {
			return ErrDuplicateIDNumber
		}
		if other.MedicalRecordNumber == p.MedicalRecordNumber {
			return ErrDuplicateRecordNo
		}
	}
	return nil
}

func (r *memRepo) Create(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.duplicate(p); err != nil {
		return err
	}
	r.patients[p.ID] = *p
	return nil
}

func (r *memRepo) Get(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok || p.DeletedAt != nil {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *memRepo) List(_ context.Context, f Filter) ([]Patient, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	search := strings.ToLower(f.Search)
	var all []Patient
	for _, p := range r.patients {
		if p.DeletedAt != nil {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.FirstName+" "+p.LastName+" "+p.IDNumber+" "+p.MedicalRecordNumber), search) {
			continue
		}
		all = append(all, p)
	}
	slices.SortFunc(all, func(a, b Patient) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.MedicalRecordNumber, a.MedicalRecordNumber)
	})

	total := len(all)
	start := min(f.Offset, total)
	end := min(start+f.Limit, total)
	return all[start:end], total, nil
}

func (r *memRepo) Update(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, ok := r.patients[p.ID]; !ok || stored.DeletedAt != nil {
		return ErrPatientNotFound
	}
	if err := r.duplicate(p); err != nil {
		return err
	}
	r.patients[p.ID] = *p
	return nil
}

func (r *memRepo) SoftDelete(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok || p.DeletedAt != nil {
		return ErrPatientNotFound
	}
	p.DeletedAt = &at
	r.patients[id] = p
	return nil
}

func (r *memRepo) WithinTx(_ context.Context, fn func(tx Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return fn(r)
}
