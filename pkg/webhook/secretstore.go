package webhook

import (
	"context"
	"fmt"

	"github.com/mnemom/aip/pkg/types"
)

// SecretCipher is the narrow kms.Manager surface a store needs to keep
// signing secrets encrypted at rest; spelled out here rather than
// importing pkg/kms directly so this package doesn't take on a
// dependency it only needs for one optional decorator.
type SecretCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// RegisteringEndpointStore is EndpointStore plus the registration path
// (Create), which the concrete checkpointstore backends implement but
// EndpointStore itself omits since the dispatcher never registers
// endpoints, only reads and updates them.
type RegisteringEndpointStore interface {
	EndpointStore
	Create(ctx context.Context, ep types.WebhookEndpoint) error
}

// EncryptedEndpointStore wraps a RegisteringEndpointStore so the
// signing secret is encrypted before it ever reaches the database and
// decrypted transparently on read, the same at-rest discipline
// pkg/kms was built for credential storage in general. A dispatcher
// holding the plaintext secret for an instant to compute an HMAC is
// unavoidable; what this closes is the secret sitting in the database
// in the clear.
type EncryptedEndpointStore struct {
	inner  RegisteringEndpointStore
	cipher SecretCipher
}

func NewEncryptedEndpointStore(inner RegisteringEndpointStore, cipher SecretCipher) *EncryptedEndpointStore {
	return &EncryptedEndpointStore{inner: inner, cipher: cipher}
}

func (s *EncryptedEndpointStore) Create(ctx context.Context, ep types.WebhookEndpoint) error {
	encrypted, err := s.cipher.Encrypt(ep.SigningSecret)
	if err != nil {
		return fmt.Errorf("webhook: encrypt signing secret: %w", err)
	}
	ep.SigningSecret = encrypted
	return s.inner.Create(ctx, ep)
}

func (s *EncryptedEndpointStore) ActiveEndpointsForAccount(ctx context.Context, accountID, eventType string) ([]types.WebhookEndpoint, error) {
	endpoints, err := s.inner.ActiveEndpointsForAccount(ctx, accountID, eventType)
	if err != nil {
		return nil, err
	}
	for i := range endpoints {
		decrypted, err := s.cipher.Decrypt(endpoints[i].SigningSecret)
		if err != nil {
			return nil, fmt.Errorf("webhook: decrypt signing secret for endpoint %s: %w", endpoints[i].EndpointID, err)
		}
		endpoints[i].SigningSecret = decrypted
	}
	return endpoints, nil
}

func (s *EncryptedEndpointStore) RecordSuccess(ctx context.Context, endpointID string) error {
	return s.inner.RecordSuccess(ctx, endpointID)
}

func (s *EncryptedEndpointStore) RecordFailure(ctx context.Context, endpointID string) (int, error) {
	return s.inner.RecordFailure(ctx, endpointID)
}

func (s *EncryptedEndpointStore) Disable(ctx context.Context, endpointID, reason string) error {
	return s.inner.Disable(ctx, endpointID, reason)
}
