package application

import "context"

//go:generate mockgen -source=secrets.go -destination=mock_secrets_test.go -package=application

// SecretProvider resolves named credentials. Unknown names yield
// domain.ErrSecretNotFound.
type SecretProvider interface {
	Get(ctx context.Context, name string) (string, error)
}
