package domain

import "time"

// Credential grants bearer access to exactly one workload. The plaintext
// secret is returned to the caller once at issuance and never persisted.
type Credential struct {
	ID         string
	OwnerID    string
	WorkloadID string
	SecretHash []byte
	IsActive   bool
	CreatedAt  time.Time
}
