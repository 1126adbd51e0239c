package app

import (
	"time"

	"github.com/eveqx/corpstat/internal/optional"
)

// Player is a real-world participant owning one or more characters.
type Player struct {
	ID              int64
	Title           string
	JoinDate        optional.Optional[time.Time]
	MainCharacterID optional.Optional[int64]
	IsSentinel      bool
}

// Character is an in-game identity owned by exactly one player.
//
// A positive ID is the authoritative id from the external identity system.
// A negative ID marks a placeholder that is still pending verification.
// The id transitions at most once from negative to positive and a positive id
// never changes again.
type Character struct {
	ID        int64
	Name      string
	Title     string
	JoinDate  optional.Optional[time.Time]
	PlayerID  int64
	CreatedAt time.Time
}

// IsPlaceholder reports whether the character is an unverified placeholder.
func (c Character) IsPlaceholder() bool {
	return c.ID < 0
}

// CharacterInfo is the character detail returned by the external identity system.
type CharacterInfo struct {
	ID       int64
	Name     string
	Title    string
	JoinDate optional.Optional[time.Time]
}
