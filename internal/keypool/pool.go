// Package keypool hands out model API credentials in round-robin order,
// skipping credentials that are cooling down after a rate limit.
package keypool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/splax/pagesmith/internal/apperr"
	"github.com/splax/pagesmith/internal/domain"
)

const dayLayout = "2006-01-02"

var (
	// ErrNoCredentials is returned when the pool holds no credentials.
	ErrNoCredentials = apperr.New(apperr.KindConfiguration, "no model API credentials configured")
	// ErrAllCoolingDown is returned when every credential is in cooldown.
	ErrAllCoolingDown = apperr.New(apperr.KindRateLimited, "all model API credentials are rate limited")
	// ErrUnknownCredential is returned for an id outside the pool.
	ErrUnknownCredential = errors.New("keypool: unknown credential")
)

// Store persists pool state between restarts.
type Store interface {
	LoadPoolState(ctx context.Context) (*domain.KeyPoolState, error)
	SavePoolState(ctx context.Context, state domain.KeyPoolState) error
}

// Pool owns the credential list, usage counters and rotation cursor.
type Pool struct {
	mu     sync.Mutex
	creds  []domain.Credential
	cursor int
	day    string
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// Option customises a Pool.
type Option func(*Pool)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

// New builds a pool from secrets in configuration order. Blank secrets are
// skipped; ids are 1-based positions among the remaining ones.
func New(secrets []string, store Store, logger *slog.Logger, opts ...Option) *Pool {
	p := &Pool{
		cursor: -1,
		store:  store,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	for _, s := range secrets {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		p.creds = append(p.creds, domain.Credential{ID: len(p.creds) + 1, Secret: s})
	}
	p.day = p.today()
	return p
}

// Size returns the number of configured credentials.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// Load restores persisted usage counters, cooldowns and cursor.
func (p *Pool) Load(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	state, err := p.store.LoadPoolState(ctx)
	if err != nil {
		return fmt.Errorf("load key pool state: %w", err)
	}
	if state == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	byID := make(map[int]domain.CredentialUsage, len(state.Credentials))
	for _, u := range state.Credentials {
		byID[u.ID] = u
	}
	for i := range p.creds {
		u, ok := byID[p.creds[i].ID]
		if !ok {
			continue
		}
		p.creds[i].RequestsToday = u.RequestsToday
		p.creds[i].LastUsedAt = u.LastUsedAt
		p.creds[i].CooldownUntil = u.CooldownUntil
	}
	if len(p.creds) > 0 && state.Cursor >= 0 {
		p.cursor = state.Cursor % len(p.creds)
	}
	if state.Day != "" {
		p.day = state.Day
	}
	p.rollDayLocked()
	return nil
}

// Acquire advances the cursor to the next usable credential, records the use
// and returns a copy of it.
func (p *Pool) Acquire(ctx context.Context) (domain.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.creds)
	if n == 0 {
		return domain.Credential{}, ErrNoCredentials
	}
	p.rollDayLocked()
	now := p.now()
	for step := 1; step <= n; step++ {
		idx := (p.cursor + step) % n
		if idx < 0 {
			idx += n
		}
		if !p.creds[idx].Usable(now) {
			continue
		}
		p.cursor = idx
		used := now
		p.creds[idx].RequestsToday++
		p.creds[idx].LastUsedAt = &used
		p.creds[idx].CooldownUntil = nil
		if err := p.persistLocked(ctx); err != nil {
			p.logger.Warn("key pool state not persisted", "error", err)
		}
		return p.creds[idx], nil
	}
	return domain.Credential{}, ErrAllCoolingDown
}

// Quarantine excludes a credential from acquisition for cooldown.
func (p *Pool) Quarantine(ctx context.Context, id int, cooldown time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.indexLocked(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownCredential, id)
	}
	p.rollDayLocked()
	until := p.now().Add(cooldown)
	p.creds[idx].CooldownUntil = &until
	p.logger.Info("credential quarantined", "credential_id", id, "cooldown_seconds", int(cooldown.Seconds()))
	if err := p.persistLocked(ctx); err != nil {
		return fmt.Errorf("persist quarantine: %w", err)
	}
	return nil
}

// Release clears a credential's cooldown and today's counter.
func (p *Pool) Release(ctx context.Context, id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.indexLocked(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownCredential, id)
	}
	p.rollDayLocked()
	p.creds[idx].CooldownUntil = nil
	p.creds[idx].RequestsToday = 0
	if err := p.persistLocked(ctx); err != nil {
		return fmt.Errorf("persist release: %w", err)
	}
	return nil
}

func (p *Pool) indexLocked(id int) (int, bool) {
	for i := range p.creds {
		if p.creds[i].ID == id {
			return i, true
		}
	}
	return 0, false
}

// rollDayLocked zeroes daily counters once the local date changes.
func (p *Pool) rollDayLocked() {
	today := p.today()
	if p.day == today {
		return
	}
	for i := range p.creds {
		p.creds[i].RequestsToday = 0
	}
	p.day = today
}

func (p *Pool) today() string {
	return p.now().Local().Format(dayLayout)
}

func (p *Pool) persistLocked(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	return p.store.SavePoolState(ctx, p.snapshotLocked())
}

func (p *Pool) snapshotLocked() domain.KeyPoolState {
	usage := make([]domain.CredentialUsage, 0, len(p.creds))
	for _, c := range p.creds {
		usage = append(usage, domain.CredentialUsage{
			ID:            c.ID,
			RequestsToday: c.RequestsToday,
			LastUsedAt:    c.LastUsedAt,
			CooldownUntil: c.CooldownUntil,
		})
	}
	return domain.KeyPoolState{Cursor: p.cursor, Day: p.day, Credentials: usage}
}
