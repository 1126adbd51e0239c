// Package killmailservice ingests the daily killmail feed and keeps the
// static reference data current.
package killmailservice

import (
	"context"
	"net/http"
	"time"

	"github.com/eveqx/corpstat/internal/app/identityservice"
	"github.com/eveqx/corpstat/internal/app/storage"
)

// KillmailService downloads killmail archives, credits kills to corporation
// members and maintains solar system and item type reference data.
type KillmailService struct {
	// Now returns the current time. Can be overwritten for tests.
	Now func() time.Time

	st            *storage.Storage
	ids           *identityservice.IdentityService
	httpClient    *http.Client
	corporationID int64
	allianceID    int64
	location      *time.Location
}

type Params struct {
	Storage         *storage.Storage
	IdentityService *identityservice.IdentityService
	HTTPClient      *http.Client
	CorporationID   int64
	AllianceID      int64 // 0 for corporations outside any alliance
	Location        *time.Location
}

func New(arg Params) *KillmailService {
	s := &KillmailService{
		Now:           time.Now,
		st:            arg.Storage,
		ids:           arg.IdentityService,
		httpClient:    arg.HTTPClient,
		corporationID: arg.CorporationID,
		allianceID:    arg.AllianceID,
		location:      arg.Location,
	}
	if s.httpClient == nil {
		s.httpClient = http.DefaultClient
	}
	if s.location == nil {
		s.location = time.UTC
	}
	return s
}

// isIndependent reports whether the corporation flies outside any alliance.
// Independent corporations only count kills on their own members.
func (s *KillmailService) isIndependent() bool {
	return s.allianceID == 0
}

// CleanupDummyPlayers removes players that no longer own any character
// and returns how many were removed.
func (s *KillmailService) CleanupDummyPlayers(ctx context.Context) (int, error) {
	return s.st.DeleteDummyPlayers(ctx)
}
