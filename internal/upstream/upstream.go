// Package upstream provides the HTTP client for the Wonky player feed and
// the canonical PlayerRecord type the rest of the system consumes.
//
// The feed refreshes each player independently, so records carry the
// upstream's own per-player refresh timestamp (updatedAt). That field drives
// the snapshot decision engine.
package upstream

import "time"

// Progression is one endpoint (start or end) of a yearly gain interval.
type Progression struct {
	SE        float64 `json:"SE"`
	PE        int     `json:"PE"`
	EB        float64 `json:"EB"`
	Role      string  `json:"role"`
	Prestiges int     `json:"prestiges"`
}

// YearlyGain is the per-year egg day progression interval for a player.
type YearlyGain struct {
	Year  int         `json:"year"`
	Start Progression `json:"start"`
	End   Progression `json:"end"`
}

// PlayerRecord is one player as reported by the upstream for a single poll.
// UpdatedAt is nil when the upstream timestamp could not be parsed; such
// records are kept for caching but excluded from sync-window math.
type PlayerRecord struct {
	ID              string
	IGN             string
	DisplayName     *string
	DiscordName     string
	FarmerRole      *string
	Grade           string
	Active          bool
	IsGuest         bool
	EB              float64
	SE              float64
	PE              int
	TE              *int
	NumPrestiges    *int
	UpdatedAt       *time.Time
	GainsSaturday   *float64
	MaxMysticalEggs *int
	EggDay          []YearlyGain
}
