package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"renderpipe/internal/config"
	"renderpipe/internal/history"
	"renderpipe/internal/logging"
	"renderpipe/internal/pipeline"
	"renderpipe/internal/publish"
	"renderpipe/internal/rendercache"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger

	history *history.Store
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
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

// cliLogger writes to stderr and the shared log file so stdout stays clean
// for tables and JSON.
func (c *commandContext) cliLogger() *slog.Logger {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.logger = logging.NewNop()
			return
		}
		level := cfg.Logging.Level
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			level = *c.logLevelFlag
		}
		outputs := []string{"stderr"}
		if cfg.Paths.LogDir != "" {
			outputs = append(outputs, filepath.Join(cfg.Paths.LogDir, "renderpipe.log"))
		}
		logger, err := logging.New(logging.Options{
			Level:            level,
			Format:           cfg.Logging.Format,
			OutputPaths:      outputs,
			ErrorOutputPaths: outputs,
		})
		if err != nil {
			c.logger = logging.NewNop()
			return
		}
		c.logger = logger
	})
	return c.logger
}

func (c *commandContext) historyStore() (*history.Store, error) {
	if c.history != nil {
		return c.history, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	store, err := history.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	c.history = store
	return store, nil
}

// pipelineOptions wires the render cache, history, and publisher into options
// for one CLI invocation.
func (c *commandContext) pipelineOptions(withHistory bool) (pipeline.Options, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return pipeline.Options{}, err
	}
	logger := c.cliLogger()
	cache, err := rendercache.NewFromConfig(cfg, logger)
	if err != nil {
		return pipeline.Options{}, fmt.Errorf("render cache: %w", err)
	}
	opts := pipeline.OptionsFromConfig(cfg, logger, cache)
	if withHistory {
		store, err := c.historyStore()
		if err != nil {
			logging.WarnWithContext(logger, "job history unavailable", "history_unavailable",
				logging.Error(err),
				logging.String(logging.FieldImpact, "this render is not recorded"),
				logging.String(logging.FieldErrorHint, "check paths.history_db"),
			)
		} else {
			opts.History = store
		}
	}
	publisher, err := publish.New(cfg.Publish, logger)
	if err != nil {
		return pipeline.Options{}, err
	}
	if publisher != nil {
		opts.Publisher = publisher
	}
	return opts, nil
}

func (c *commandContext) close() {
	if c.history != nil {
		_ = c.history.Close()
		c.history = nil
	}
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
