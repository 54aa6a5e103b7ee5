package crypto

import "golang.org/x/crypto/bcrypt"

// HashSecret hashes a plaintext secret using bcrypt.
func HashSecret(plain string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
}

// CompareSecret compares a plaintext secret to a stored bcrypt hash.
func CompareSecret(hash []byte, plain string) error {
	return bcrypt.CompareHashAndPassword(hash, []byte(plain))
}
