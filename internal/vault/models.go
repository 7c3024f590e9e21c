package vault

import "time"

// Credential is a decrypted vault record.
type Credential struct {
	Service  string    `json:"service"`
	Username string    `json:"username"`
	Password string    `json:"password"`
	Email    string    `json:"email"`
	StoredAt time.Time `json:"stored_at"`
}

// Summary is the listing projection. It has no password field at all.
type Summary struct {
	Service  string    `json:"service"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
	StoredAt time.Time `json:"stored_at"`
}

// Summarize drops the secret.
func (c *Credential) Summarize() Summary {
	return Summary{
		Service:  c.Service,
		Username: c.Username,
		Email:    c.Email,
		StoredAt: c.StoredAt,
	}
}

// StoreInput is a credential to save for one service.
type StoreInput struct {
	Service  string
	Username string
	Password string
	Email    string
}
