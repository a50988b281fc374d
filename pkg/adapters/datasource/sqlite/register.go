package sqlite

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlrest/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        "sqlite",
			DisplayName: "SQLite",
			Description: "Embedded SQLite database file",
		},
		Factory: func(ctx context.Context, config map[string]any, logger *zap.Logger) (datasource.StatementExecutor, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewExecutor(ctx, cfg, logger)
		},
	})
}
