package virtuallab

import (
	"github.com/vlabcloud/vlab/internal/virtuallab/repository"
	"github.com/vlabcloud/vlab/internal/virtuallab/service"
	"go.uber.org/fx"
)

var Module = fx.Module("virtuallab.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
