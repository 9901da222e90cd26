package export

import "go.uber.org/fx"

// Module provides the export service to Fx.
var Module = fx.Provide(NewService)
