package keypool

import "time"

// KeyStatus is an operator view of one credential. The secret is masked.
type KeyStatus struct {
	ID              int        `json:"id"`
	Preview         string     `json:"preview"`
	RequestsToday   int        `json:"requests_today"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
	CooldownUntil   *time.Time `json:"cooldown_until,omitempty"`
	CooldownSeconds int        `json:"cooldown_seconds"`
	Usable          bool       `json:"usable"`
}

// Stats summarises the pool.
type Stats struct {
	Keys          int    `json:"keys"`
	Usable        int    `json:"usable"`
	CoolingDown   int    `json:"cooling_down"`
	RequestsToday int    `json:"requests_today"`
	Day           string `json:"day"`
}

// Status reports every credential in pool order.
func (p *Pool) Status() []KeyStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rollDayLocked()
	now := p.now()
	out := make([]KeyStatus, 0, len(p.creds))
	for _, c := range p.creds {
		st := KeyStatus{
			ID:            c.ID,
			Preview:       MaskSecret(c.Secret),
			RequestsToday: c.RequestsToday,
			LastUsedAt:    c.LastUsedAt,
			Usable:        c.Usable(now),
		}
		if !st.Usable {
			st.CooldownUntil = c.CooldownUntil
			st.CooldownSeconds = int(c.CooldownUntil.Sub(now).Round(time.Second).Seconds())
		}
		out = append(out, st)
	}
	return out
}

// Stats aggregates usage across the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rollDayLocked()
	now := p.now()
	st := Stats{Keys: len(p.creds), Day: p.day}
	for _, c := range p.creds {
		st.RequestsToday += c.RequestsToday
		if c.Usable(now) {
			st.Usable++
		} else {
			st.CoolingDown++
		}
	}
	return st
}

// MaskSecret keeps the first 8 and last 4 characters of a secret.
func MaskSecret(secret string) string {
	if len(secret) <= 12 {
		return "****"
	}
	return secret[:8] + "..." + secret[len(secret)-4:]
}
