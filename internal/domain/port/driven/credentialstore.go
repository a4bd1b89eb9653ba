package driven

import "context"

// Credential names persisted through CredentialStore.
const (
	CredentialAccessKey  = "access_key"
	CredentialSecretKey  = "secret_key"
	CredentialPartnerTag = "partner_tag"
)

// CredentialStore defines the driven port for credential persistence.
// The adapter encrypts values at rest; this interface operates on plaintext.
type CredentialStore interface {
	// Set stores or replaces the credential with the given name.
	Set(ctx context.Context, name, plaintext string) error

	// Get retrieves the plaintext credential. Returns ("", nil) if none exists.
	Get(ctx context.Context, name string) (string, error)

	// Delete removes the credential with the given name.
	Delete(ctx context.Context, name string) error
}
