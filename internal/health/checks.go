package health

import (
	"context"
	"database/sql"
	"strconv"
	"time"
)

// PingTimeout bounds a single database ping.
const PingTimeout = 2 * time.Second

// DBChecker reports whether db answers a ping.
func DBChecker(name string, db *sql.DB) Checker {
	return func(ctx context.Context) Status {
		ctx, cancel := context.WithTimeout(ctx, PingTimeout)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return Status{Name: name, Healthy: false, Detail: err.Error()}
		}
		return Status{Name: name, Healthy: true}
	}
}

// LoopChecker reports whether a background loop is running.
func LoopChecker(name string, running func() bool) Checker {
	return func(context.Context) Status {
		if running() {
			return Status{Name: name, Healthy: true}
		}
		return Status{Name: name, Healthy: false, Detail: "not running"}
	}
}

// CatalogChecker fails when the loaded plan catalog is empty.
func CatalogChecker(name string, size func() int) Checker {
	return func(context.Context) Status {
		n := size()
		if n == 0 {
			return Status{Name: name, Healthy: false, Detail: "no plans loaded"}
		}
		return Status{Name: name, Healthy: true, Detail: strconv.Itoa(n) + " plans"}
	}
}
