package webhook

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/mnemom/aip/pkg/types"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// RegisterEndpointParams is the caller-supplied shape for subscribing
// a new delivery target; validated before a types.WebhookEndpoint is
// constructed so a malformed URL never reaches the store.
type RegisterEndpointParams struct {
	AccountID   string   `validate:"required"`
	URL         string   `validate:"required,url,startswith=https://"`
	Description string   `validate:"max=500"`
	EventTypes  []string `validate:"dive,required"`
}

// NewEndpoint validates params and builds the endpoint record, minting
// a fresh signing secret's ID slot (the secret value itself is
// generated and stored at-rest by the kms-backed caller, not here).
func NewEndpoint(params RegisterEndpointParams, signingSecret string) (types.WebhookEndpoint, error) {
	if err := validate.Struct(params); err != nil {
		return types.WebhookEndpoint{}, fmt.Errorf("webhook: invalid endpoint registration: %w", err)
	}
	return types.WebhookEndpoint{
		EndpointID:    types.NewWebhookEndpointID(),
		AccountID:     params.AccountID,
		URL:           params.URL,
		Description:   params.Description,
		SigningSecret: signingSecret,
		EventTypes:    params.EventTypes,
		IsActive:      true,
	}, nil
}
