package accounting

import (
	"github.com/vlabcloud/vlab/internal/accounting/client"
	"go.uber.org/fx"
)

var Module = fx.Module("accounting",
	fx.Provide(client.NewHTTPClient),
)
