package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"irisctl/internal/config"
	"irisctl/internal/credstore"
	"irisctl/internal/identity"
	"irisctl/internal/iris"
	"irisctl/internal/loginflow"
	"irisctl/internal/session"
	"irisctl/pkg/logging"
)

// errLoginDisabled is returned by the login flow when --no-login is set.
var errLoginDisabled = errors.New("interactive login disabled by --no-login")

// currentEndpoint names the Iris server in error messages.
var currentEndpoint string

// newLoginFlow builds the login surface. Tests replace it.
var newLoginFlow = func(cfg config.Config, out io.Writer) (session.LoginFlow, error) {
	return loginflow.New(loginflow.Config{
		RedirectURL: cfg.RedirectURL,
		Out:         out,
		Timeout:     cfg.Login.Timeout,
	})
}

// disabledLoginFlow refuses to open, so a stale session fails instead of
// prompting.
type disabledLoginFlow struct{}

func (disabledLoginFlow) Open(context.Context, string, session.FlowOptions) (session.FlowHandle, error) {
	return nil, errLoginDisabled
}

// app is the wired client used by a single command invocation.
type app struct {
	cfg      config.Config
	store    credstore.Store
	profile  *identity.Profile
	renewer  session.Renewer
	client   *iris.Client
	registry *prometheus.Registry
}

// loadConfig reads the config file and applies the root flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if debugMode {
		cfg.Debug = true
	}
	if logLevel == "" && cfg.LogLevel != "" {
		level, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			return config.Config{}, err
		}
		logging.InitForCLI(level, logOutput)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newApp loads configuration and wires store, session and API client.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	currentEndpoint = cfg.BaseURL

	store, err := credstore.New(credstore.Config{Backend: cfg.Store.Backend, Path: cfg.Store.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Ready(cmd.Context()); err != nil {
		store.Close()
		return nil, fmt.Errorf("%w: %w", session.ErrStoreUnavailable, err)
	}

	a := &app{
		cfg:      cfg,
		store:    store,
		profile:  identity.NewProfile(store),
		registry: prometheus.NewRegistry(),
	}

	var flow session.LoginFlow = disabledLoginFlow{}
	if !noLogin && !cfg.Debug {
		flow, err = newLoginFlow(cfg, cmd.ErrOrStderr())
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	httpClient := &http.Client{Timeout: cfg.HTTP.Timeout}
	a.renewer, err = session.New(session.Config{
		Store:       store,
		LoginFlow:   flow,
		Identity:    a.profile,
		HTTPClient:  httpClient,
		APIBase:     cfg.APIBase(),
		LoginURL:    cfg.EffectiveLoginURL(),
		RedirectURL: cfg.RedirectURL,
		Metrics:     session.NewMetrics(a.registry),
		Debug:       cfg.Debug,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	a.client, err = iris.NewClient(iris.Config{
		APIBase:    cfg.APIBase(),
		Renewer:    a.renewer,
		Store:      store,
		Identity:   a.profile,
		HTTPClient: httpClient,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

// Close writes metrics and releases the store.
func (a *app) Close() {
	writeMetrics(a.registry)
	if err := a.store.Close(); err != nil {
		logging.Debug("CLI", "Closing credential store: %v", err)
	}
}

// withApp runs fn with a wired app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
