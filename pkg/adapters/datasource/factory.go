package datasource

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ExecutorFactory creates executors from the registry.
type ExecutorFactory interface {
	// NewExecutor creates a statement executor for the given datasource type.
	NewExecutor(ctx context.Context, dsType string, config map[string]any) (StatementExecutor, error)

	// ListTypes returns info for all registered adapter types.
	ListTypes() []AdapterInfo
}

type registryFactory struct {
	logger *zap.Logger
}

// NewExecutorFactory returns a factory that uses the global registry.
func NewExecutorFactory(logger *zap.Logger) ExecutorFactory {
	return &registryFactory{logger: logger}
}

func (f *registryFactory) NewExecutor(ctx context.Context, dsType string, config map[string]any) (StatementExecutor, error) {
	factory := GetExecutorFactory(dsType)
	if factory == nil {
		return nil, fmt.Errorf("unsupported datasource type: %s (not compiled in)", dsType)
	}
	return factory(ctx, config, f.logger.Named(dsType))
}

func (f *registryFactory) ListTypes() []AdapterInfo {
	return RegisteredAdapters()
}

// Ensure registryFactory implements ExecutorFactory at compile time.
var _ ExecutorFactory = (*registryFactory)(nil)
