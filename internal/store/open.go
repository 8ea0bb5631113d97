package store

import (
	"context"
	"fmt"
	"time"
)

// Options selects and configures a backend for Open.
type Options struct {
	Driver       Driver
	SQLitePath   string
	PostgresDSN  string
	S3           S3Config
	ReadCacheTTL time.Duration
}

// Open constructs the configured backend wrapped in a read-through cache.
func Open(ctx context.Context, opts Options) (*Cached, error) {
	var (
		inner Store
		err   error
	)
	switch opts.Driver {
	case DriverMemory:
		inner = NewMemory()
	case DriverSQLite, "":
		inner, err = NewSQLite(ctx, opts.SQLitePath)
	case DriverPostgres:
		inner, err = NewPostgres(ctx, opts.PostgresDSN)
	case DriverS3:
		inner, err = NewS3(ctx, opts.S3)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	return NewCached(inner, opts.ReadCacheTTL), nil
}
