package main

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"applytrack/internal/config"
	"applytrack/internal/daemon"
	"applytrack/internal/database"
	"applytrack/internal/logging"
	"applytrack/internal/queue"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, apiFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// apiClient targets the --api flag when given, otherwise the configured bind
// address.
func (c *commandContext) apiClient() (*apiClient, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	base := ""
	if c.apiFlag != nil {
		base = strings.TrimSpace(*c.apiFlag)
	}
	if base == "" {
		base = baseURLFromBind(cfg.Paths.APIBind)
	}
	return newAPIClient(base, cfg.Paths.APIToken), nil
}

func baseURLFromBind(bind string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(bind))
	if err != nil {
		return "http://" + bind
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// withQueue runs fn against the daemon API when it answers, and against the
// database directly when it does not.
func (c *commandContext) withQueue(ctx context.Context, fn func(queueAPI) error) error {
	client, err := c.apiClient()
	if err != nil {
		return err
	}
	if client.reachable(ctx) {
		return fn(&queueHTTPAdapter{client: client})
	}
	cfg, _ := c.ensureConfig()
	db, err := database.Open(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	svc := queue.NewService(queue.NewStore(db), queue.WithLogger(logging.NewNop()))
	return fn(&queueStoreAdapter{svc: svc, stuckTimeout: cfg.StuckTimeout()})
}

// withLocalDaemon builds an unstarted daemon over the database for commands
// that run work in-process when no daemon is listening.
func (c *commandContext) withLocalDaemon(fn func(*daemon.Daemon) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return err
	}
	db, err := database.Open(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	d, err := daemon.New(cfg, db, logger)
	if err != nil {
		db.Close()
		return err
	}
	defer d.Close()
	return fn(d)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
