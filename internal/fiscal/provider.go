package fiscal

//go:generate mockgen -source=provider.go -destination=mocks/mocks.go -package=mocks Provider

import (
	"context"
	"errors"
)

// ErrUnsupported means the provider can never issue this document (wrong
// document class, unsupported jurisdiction). Submission jobs treat it as
// terminal instead of retrying.
var ErrUnsupported = errors.New("fiscal provider does not support this document")

// Provider is the external fiscal authority gateway.
type Provider interface {
	// Submit sends the issuance request and returns the provider's reference.
	// The authorization outcome arrives later through the provider webhook.
	Submit(ctx context.Context, doc *Document) (providerRef string, err error)
}
