package selection

import (
	"time"

	"github.com/quizsprint/quizsprint/go/internal/models"
	"github.com/quizsprint/quizsprint/go/internal/outbox"
)

// tieWindow bounds how far a total may sit above the minimum and still
// count as a tie. Totals are wall-clock measurements; anything closer
// than a microsecond is the same time, and the lowest id wins among them.
const tieWindow = time.Microsecond

// Config tunes winner selection.
type Config struct {
	// ClaimTokenTTL is how long a winner has to claim the prize.
	ClaimTokenTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		ClaimTokenTTL: 72 * time.Hour,
	}
}

// CommitWinnerRequest is the atomic winner commit: winner flags, round
// fields, the claim token and the outbox events land in one serializable
// transaction guarded by the compare-and-swap on the round's winner
// column.
type CommitWinnerRequest struct {
	RoundID      int64
	AttemptID    int64
	Method       models.SelectionMethod
	Token        string
	TokenExpires time.Time
	Now          time.Time
	Events       []outbox.EventInsert
}

// CommitOutcome reports how a commit resolved. Conflict means another
// selection won the compare-and-swap; WinnerAttemptID then carries the
// committed winner (zero when the round closed without one) and nothing
// was written by this call.
type CommitOutcome struct {
	Conflict        bool
	WinnerAttemptID int64
	Token           *models.ClaimToken
}

// Result is the outcome of one Select call. Winner is nil when no
// eligible attempt remained; AlreadyDecided is true when a previous
// selection had committed a winner and this call changed nothing.
type Result struct {
	Round          *models.Round
	Winner         *models.Attempt
	Method         models.SelectionMethod
	EligibleCount  int
	ExcludedCount  int
	Token          *models.ClaimToken
	AlreadyDecided bool
}
