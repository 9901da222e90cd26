package app

import (
	"go.uber.org/fx"

	"github.com/satguru/tiffin/internal/authz"
	"github.com/satguru/tiffin/internal/cache"
	"github.com/satguru/tiffin/internal/config"
	"github.com/satguru/tiffin/internal/database"
	"github.com/satguru/tiffin/internal/job"
	"github.com/satguru/tiffin/internal/logger"
	"github.com/satguru/tiffin/internal/messaging"
	"github.com/satguru/tiffin/internal/notify"
	"github.com/satguru/tiffin/internal/observability"
	repositorycatalog "github.com/satguru/tiffin/internal/repository/catalog"
	repositoryorder "github.com/satguru/tiffin/internal/repository/order"
	repositoryuser "github.com/satguru/tiffin/internal/repository/user"
	"github.com/satguru/tiffin/internal/scheduler"
	grpcserver "github.com/satguru/tiffin/internal/server/grpc"
	httpserver "github.com/satguru/tiffin/internal/server/http"
	serviceauth "github.com/satguru/tiffin/internal/service/auth"
	servicecatalog "github.com/satguru/tiffin/internal/service/catalog"
	serviceexport "github.com/satguru/tiffin/internal/service/export"
	serviceorder "github.com/satguru/tiffin/internal/service/order"
	transporthttp "github.com/satguru/tiffin/internal/transport/http"
	"github.com/satguru/tiffin/internal/worker"
	workerorder "github.com/satguru/tiffin/internal/worker/order"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
	notify.Module,
	authz.Module,
	repositoryorder.Module,
	repositorycatalog.Module,
	repositoryuser.Module,
	servicecatalog.Module,
	serviceorder.Module,
	serviceauth.Module,
	serviceexport.Module,
)

// Jobs registers the recurring jobs without starting the cron loop.
var Jobs = fx.Options(
	Core,
	scheduler.Module,
	job.Module,
)

// HTTP wires the HTTP and gRPC transports plus the cron loop on top of the core modules.
var HTTP = fx.Options(
	Jobs,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
	scheduler.Cron,
)

// Worker exposes background worker processing.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerorder.Module,
)

// Module is the default application wiring.
var Module = HTTP
