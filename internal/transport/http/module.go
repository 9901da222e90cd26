package http

import (
	"go.uber.org/fx"

	authtransport "github.com/satguru/tiffin/internal/transport/http/auth"
	catalogtransport "github.com/satguru/tiffin/internal/transport/http/catalog"
	exporttransport "github.com/satguru/tiffin/internal/transport/http/export"
	"github.com/satguru/tiffin/internal/transport/http/middleware"
	ordertransport "github.com/satguru/tiffin/internal/transport/http/order"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	middleware.Module,
	authtransport.Module,
	catalogtransport.Module,
	exporttransport.Module,
	ordertransport.Module,
)
