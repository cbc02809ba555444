package runlog

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finlake/internal/db"
)

// Drivers accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverNone     = "none"
)

// Open connects the configured run log and applies its migration.
func Open(ctx context.Context, driver, dsn string) (Log, error) {
	var (
		l   Log
		err error
	)
	switch driver {
	case DriverNone, "":
		return Noop{}, nil
	case DriverSQLite:
		l, err = NewSQLite(dsn)
	case DriverPostgres:
		pool, perr := db.Connect(ctx, dsn, db.PoolConfig{})
		if perr != nil {
			return nil, eris.Wrap(perr, "runlog: connect postgres")
		}
		l = NewPostgres(pool, pool.Close)
	default:
		return nil, eris.Errorf("runlog: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := l.Migrate(ctx); err != nil {
		_ = l.Close()
		return nil, err
	}
	zap.L().Debug("run log ready", zap.String("component", "runlog"), zap.String("driver", driver))
	return l, nil
}
