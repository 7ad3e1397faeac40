// Package app provides the application context and dependency management
// for the extaudit CLI. It centralizes configuration, logging, and the
// directory client stack so commands share one wired instance of each.
package app

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/dialplan/extaudit/internal/export"
	"github.com/dialplan/extaudit/internal/transport"
	"github.com/dialplan/extaudit/pkg/audit"
	"github.com/dialplan/extaudit/pkg/directory"
	"github.com/dialplan/extaudit/pkg/errors"
	"github.com/dialplan/extaudit/pkg/patch"
)

// App represents the extaudit application with all its dependencies.
type App struct {
	// Version information
	version string
	commit  string
	date    string
	builtBy string

	// Configuration
	config *Config

	// Logger
	logger *zerolog.Logger

	// Directory client stack (lazy-initialized, singleton)
	mu     sync.Mutex
	client *directory.Client
}

// Option customizes an App during construction.
type Option func(*App) error

// WithConfig overrides the loaded configuration.
func WithConfig(config *Config) Option {
	return func(a *App) error {
		a.config = config
		return nil
	}
}

// WithLogger overrides the constructed logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// New creates a new App instance with the given version information.
func New(version, commit, date, builtBy string, opts ...Option) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
		builtBy: builtBy,
	}

	config, err := LoadConfig()
	if err != nil {
		return nil, errors.WrapResource("load", "config", "", err)
	}
	app.config = config

	logger := NewLogger(config)
	app.logger = &logger

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	return app, nil
}

// Version returns the version information.
func (a *App) Version() string { return a.version }

// Commit returns the git commit hash.
func (a *App) Commit() string { return a.commit }

// Date returns the build date.
func (a *App) Date() string { return a.date }

// BuiltBy returns the build system identifier.
func (a *App) BuiltBy() string { return a.builtBy }

// Config returns the application configuration.
func (a *App) Config() *Config { return a.config }

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger { return a.logger }

// Client returns the directory client, creating it lazily. Requires a base
// URI and an access token in the configuration.
func (a *App) Client() (*directory.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		return a.client, nil
	}

	if a.config.APIBaseURI == "" {
		return nil, errors.NewConfigError("api", "api_base_uri is required (set EXTAUDIT_API_URL or api_base_uri)", nil)
	}
	if a.config.AccessToken == "" {
		return nil, errors.NewConfigError("api", "access token is required (set EXTAUDIT_TOKEN or access_token)", errors.ErrTokenRequired)
	}

	t := transport.New(transport.Config{
		BaseURL: a.config.APIBaseURI,
		Token:   a.config.AccessToken,
		Logger:  a.logger,
	})

	a.client = directory.NewClient(t)
	return a.client, nil
}

// Auditor returns a snapshot builder over the configured client.
func (a *App) Auditor() (*audit.Auditor, error) {
	client, err := a.Client()
	if err != nil {
		return nil, err
	}
	return audit.New(client, a.logger), nil
}

// Executor returns a patch executor over the configured client.
func (a *App) Executor() (*patch.Executor, error) {
	client, err := a.Client()
	if err != nil {
		return nil, err
	}
	return patch.NewExecutor(client, a.logger), nil
}

// Exporter returns the CSV exporter.
func (a *App) Exporter() *export.Exporter {
	return export.New(a.logger)
}
