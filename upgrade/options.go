/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package upgrade

import (
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/spf13/afero"

	"github.com/acronis/go-dbpatch"
	"github.com/acronis/go-dbpatch/conn"
	"github.com/acronis/go-dbpatch/patchfile"
	"github.com/acronis/go-dbpatch/progress"
)

// Option is a functional option for the Upgrader.
type Option func(*options)

type options struct {
	logger         log.FieldLogger
	listener       progress.Listener
	fs             afero.Fs
	metrics        *dbpatch.PrometheusMetrics
	exclusive      bool
	lockTTL        time.Duration
	source         patchfile.Source
	connectRetries *int
	slowCommand    time.Duration
	connOptions    []conn.Option
}

// WithLogger sets the logger of the engine.
func WithLogger(logger log.FieldLogger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithListener sets the progress listener. It also provides withheld passwords.
func WithListener(l progress.Listener) Option {
	return func(o *options) {
		o.listener = l
	}
}

// WithFs sets the file system the upgrade file is read from.
func WithFs(fs afero.Fs) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// WithMetrics enables Prometheus metrics of patches and commands.
func WithMetrics(metrics *dbpatch.PrometheusMetrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithExclusiveLock makes each upgrade hold a run lock in the default database,
// so concurrent runs against the same database fail instead of interleaving.
func WithExclusiveLock(ttl time.Duration) Option {
	return func(o *options) {
		o.exclusive = true
		o.lockTTL = ttl
	}
}

// WithPatchSource makes the engine use the patches of src instead of the configured upgrade file.
func WithPatchSource(src patchfile.Source) Option {
	return func(o *options) {
		o.source = src
	}
}

// WithConnectRetries overrides the configured number of ping retries of new connections.
func WithConnectRetries(retries int) Option {
	return func(o *options) {
		o.connectRetries = &retries
	}
}

// WithSlowCommandThreshold logs a warning for every command running longer than the threshold.
func WithSlowCommandThreshold(threshold time.Duration) Option {
	return func(o *options) {
		o.slowCommand = threshold
	}
}

// WithConnectionOptions passes options to the connection set.
func WithConnectionOptions(opts ...conn.Option) Option {
	return func(o *options) {
		o.connOptions = append(o.connOptions, opts...)
	}
}
