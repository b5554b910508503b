package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock is the single time source consulted by the redemption engine so all
// window comparisons within one call agree on "now".
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func NewSystemClock() *SystemClock { return &SystemClock{} }

func (SystemClock) Now() time.Time { return time.Now().UTC() }

var Module = fx.Module("clock",
	fx.Provide(
		fx.Annotate(NewSystemClock, fx.As(new(Clock))),
	),
)
