// Package identityservice resolves character and corporation identities
// against external EVE Online APIs.
package identityservice

import (
	"net/http"
	"time"

	"github.com/antihax/goesi"
)

// IdentityService provides access to character identities with rate
// limiting and retries on transient failures.
type IdentityService struct {
	// Now returns the current time in UTC. Can be overwritten for tests.
	Now func() time.Time

	esiClient     *goesi.APIClient
	httpClient    *http.Client
	limiter       Limiter
	retry         RetryPolicy
	corporationID int64
}

type Params struct {
	ESIClient     *goesi.APIClient
	HTTPClient    *http.Client
	Limiter       Limiter
	Retry         RetryPolicy
	CorporationID int64
}

// New returns a new instance of an identity service.
func New(args Params) *IdentityService {
	s := &IdentityService{
		esiClient:     args.ESIClient,
		httpClient:    args.HTTPClient,
		limiter:       args.Limiter,
		retry:         args.Retry,
		corporationID: args.CorporationID,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
	if s.httpClient == nil {
		s.httpClient = http.DefaultClient
	}
	if s.limiter == nil {
		s.limiter = NoLimit
	}
	if s.retry.MaxAttempts == 0 {
		s.retry = DefaultRetryPolicy()
	}
	return s
}
