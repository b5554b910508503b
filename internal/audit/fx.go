package audit

import (
	"github.com/vlabcloud/vlab/internal/audit/repository"
	"github.com/vlabcloud/vlab/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
