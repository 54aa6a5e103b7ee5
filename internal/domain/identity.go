package domain

// Identity is the authenticated principal resolved by the auth service.
type Identity struct {
	ID    string
	Email string
}
