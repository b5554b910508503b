package promocode

import (
	"github.com/vlabcloud/vlab/internal/promocode/repository"
	"github.com/vlabcloud/vlab/internal/promocode/service"
	"go.uber.org/fx"
)

var Module = fx.Module("promocode",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
