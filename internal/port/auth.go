package port

import "github.com/rl1809/storefront/internal/core/domain"

type TokenIssuer interface {
	IssueToken(userID string, role domain.Role) (string, error)
}

type TokenVerifier interface {
	// VerifyToken accepts a raw token or a "Bearer " prefixed header value
	VerifyToken(token string) (*domain.Principal, error)
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}
