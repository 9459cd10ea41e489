package round

import (
	"time"

	"github.com/quizsprint/quizsprint/go/internal/models"
)

// CreateRoundRequest carries the data needed to open a round.
type CreateRoundRequest struct {
	Settings models.RoundSettings
	ClosesAt *time.Time // nil means the round closes by admin action only
}
