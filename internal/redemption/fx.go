package redemption

import (
	"github.com/vlabcloud/vlab/internal/redemption/repository"
	"github.com/vlabcloud/vlab/internal/redemption/service"
	"go.uber.org/fx"
)

var Module = fx.Module("redemption",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
