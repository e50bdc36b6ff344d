//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"AlertGate/pkg/config"
	"AlertGate/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire generates the implementation in wire_gen.go.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// infrastructure clients
		ProvideSQLite,
		ProvideRedis,
		ProvideClickHouseClient,
		ProvideKafkaProducer,

		// stores
		ProvideDedupStore,
		ProvideQueueStore,
		ProvideDeliveryQueue,
		ProvideHistory,

		// detection
		ProvideScorer,
		ProvideCollector,
		ProvideAnalyzer,
		ProvideRegistry,
		ProvideBundler,
		ProvidePipeline,

		// delivery and streams
		ProvideSink,
		ProvideDispatcher,
		ProvideStreamGate,
		ProvideStreamMonitor,
		ProvideKafkaConsumer,

		// operator surface
		ProvideOperations,
		ProvideHTTPServer,
		ProvideScheduler,

		ProvideApp,
	)
	return &server.App{}, nil
}
