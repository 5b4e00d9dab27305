package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/johnny-rice/fw24"
	"github.com/johnny-rice/fw24/internal/config"
	"github.com/johnny-rice/fw24/internal/logging"
	"github.com/johnny-rice/fw24/localstore"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// app is the wired set of entity services the commands run against.
type app struct {
	logger   *zap.Logger
	store    fw24.Persistence
	registry *fw24.Registry
	services map[string]*fw24.EntityService
	close    func() error
}

func (a *app) service(entity string) (*fw24.EntityService, error) {
	svc, ok := a.services[entity]
	if !ok {
		names := make([]string, 0, len(a.services))
		for name := range a.services {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown entity %q (known: %v)", entity, names)
	}
	return svc, nil
}

func (a *app) Close() error {
	_ = a.logger.Sync()
	if a.close == nil {
		return nil
	}
	return a.close()
}

// newApp wires schemas into services sharing one store, registry and
// metrics registry.
func newApp(store fw24.Persistence, schemas []*fw24.Schema, logger *zap.Logger) (*app, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := fw24.NewMetrics(prometheus.NewRegistry())
	registry := fw24.NewRegistry()
	services := make(map[string]*fw24.EntityService, len(schemas))
	for _, schema := range schemas {
		svc := fw24.NewEntityService(schema, store,
			fw24.WithRegistry(registry),
			fw24.WithLogger(logger),
			fw24.WithMetrics(metrics),
		)
		if err := registry.Register(svc); err != nil {
			return nil, err
		}
		services[schema.Entity] = svc
	}
	return &app{logger: logger, store: store, registry: registry, services: services}, nil
}

// openApp loads the configuration for env and opens the configured store.
func openApp(ctx context.Context, env string) (*app, error) {
	if err := config.InitConfig(env); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	schemas, err := fw24.LoadSchemas(cfg.Schema.Path)
	if err != nil {
		return nil, err
	}
	logger.Debug("loaded schemas", zap.Int("count", len(schemas)), zap.String("path", cfg.Schema.Path))

	var (
		store   fw24.Persistence
		closeFn func() error
	)
	switch cfg.Store.Driver {
	case config.DriverLocal:
		local, err := localstore.Open(localstore.Options{
			Path:         cfg.Store.Path,
			Logger:       logger.Named("badger"),
			KeyDelimiter: cfg.Table.KeyDelimiter,
		})
		if err != nil {
			return nil, err
		}
		store, closeFn = local, local.Close
	case config.DriverDynamoDB:
		client, err := newDynamoClient(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		table := fw24.NewTable(cfg.Table.Name)
		table.ListIndexName = cfg.Table.ListIndex
		table.KeyDelimiter = cfg.Table.KeyDelimiter
		table.PaginationTTL = cfg.Table.PaginationTTL
		store = fw24.NewDynamoStore(client, table, fw24.WithStoreLogger(logger))
	}

	a, err := newApp(store, schemas, logger)
	if err != nil {
		if closeFn != nil {
			_ = closeFn()
		}
		return nil, err
	}
	a.close = closeFn
	return a, nil
}

func newDynamoClient(ctx context.Context, cfg config.AWSConfig) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}
