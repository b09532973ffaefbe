package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"mediaforge/internal/apiclient"
	"mediaforge/internal/config"
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

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// apiAddress prefers --api, then MEDIAFORGE_API, then api.bind.
func (c *commandContext) apiAddress() string {
	if c.apiFlag != nil {
		if v := strings.TrimSpace(*c.apiFlag); v != "" {
			return v
		}
	}
	if v := strings.TrimSpace(os.Getenv("MEDIAFORGE_API")); v != "" {
		return v
	}
	if cfg := c.configValue(); cfg != nil {
		return cfg.API.Bind
	}
	return ""
}

func (c *commandContext) client() (*apiclient.Client, error) {
	token := ""
	if cfg := c.configValue(); cfg != nil {
		token = cfg.API.Token
	}
	client, err := apiclient.New(c.apiAddress(), token)
	if err != nil {
		return nil, fmt.Errorf("daemon api: %w", err)
	}
	return client, nil
}

// withClient runs fn against the daemon and rewrites connection failures
// into a hint.
func (c *commandContext) withClient(fn func(*apiclient.Client) error) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	if err := fn(client); err != nil {
		if apiclient.IsUnavailable(err) {
			return fmt.Errorf("connect to daemon at %s: not reachable; start it with `mediaforge start`", client.BaseURL())
		}
		return err
	}
	return nil
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
