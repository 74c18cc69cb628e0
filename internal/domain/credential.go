package domain

import "time"

// Credential is one entry of the model API key rotation pool.
type Credential struct {
	ID            int
	Secret        string
	RequestsToday int
	LastUsedAt    *time.Time
	CooldownUntil *time.Time
}

// Usable reports whether the credential may be handed out at now.
func (c Credential) Usable(now time.Time) bool {
	return c.CooldownUntil == nil || !c.CooldownUntil.After(now)
}

// CredentialUsage is the persisted, secret-free part of a Credential.
type CredentialUsage struct {
	ID            int        `json:"id"`
	RequestsToday int        `json:"requests_today"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

// KeyPoolState is the snapshot persisted between process restarts.
type KeyPoolState struct {
	Cursor      int               `json:"cursor"`
	Day         string            `json:"day"`
	Credentials []CredentialUsage `json:"credentials"`
}
