package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	apiclient "github.com/splax/pagesmith/pkg/api/client"
	"github.com/splax/pagesmith/pkg/config"
)

var buildVersion = "dev"

const (
	keyAPIBaseURL  = "api_base_url"
	keyAccessToken = "access_token"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// cli carries the state shared by every subcommand.
type cli struct {
	v       *viper.Viper
	out     io.Writer
	cfgFile string
	timeout time.Duration
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), out: out}

	root := &cobra.Command{
		Use:           "pagesmith",
		Short:         "Generate, deploy and operate AI-built websites",
		Version:       buildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.initConfig()
		},
	}
	root.SetOut(out)
	root.SetVersionTemplate("pagesmith {{.Version}}\n")

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default is $HOME/.pagesmith.yaml)")
	flags.String("api", "", "API base URL (default "+apiclient.DefaultBaseURL+")")
	flags.DurationVar(&c.timeout, "timeout", 5*time.Minute, "request timeout")
	_ = c.v.BindPFlag(keyAPIBaseURL, flags.Lookup("api"))

	root.AddCommand(
		c.loginCmd(),
		c.generateCmd(),
		c.projectsCmd(),
		c.deployCmd(),
		c.rollbackCmd(),
		c.historyCmd(),
		c.statusCmd(),
		c.domainCmd(),
		c.undeployCmd(),
		c.logsCmd(),
		c.analyticsCmd(),
		c.keysCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the CLI version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(c.out, strings.TrimSpace(buildVersion))
			},
		},
	)
	return root
}

// initConfig loads .env from the working tree, then the config file, then
// PAGESMITH_* environment overrides.
func (c *cli) initConfig() error {
	if envFile := findEnvFile(); envFile != "" {
		if err := config.LoadDotEnv(envFile); err != nil {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	c.v.SetEnvPrefix("PAGESMITH")
	c.v.AutomaticEnv()
	c.v.SetDefault(keyAPIBaseURL, apiclient.DefaultBaseURL)
	c.v.SetConfigPermissions(0o600)

	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		c.v.SetConfigFile(filepath.Join(home, ".pagesmith.yaml"))
	}
	if err := c.v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func (c *cli) saveSession(baseURL, token string) error {
	c.v.Set(keyAPIBaseURL, baseURL)
	c.v.Set(keyAccessToken, token)
	path := c.v.ConfigFileUsed()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return c.v.WriteConfigAs(path)
}

func (c *cli) client() (*apiclient.Client, error) {
	return apiclient.New(c.v.GetString(keyAPIBaseURL))
}

// session returns a client and the stored token, failing when not logged in.
func (c *cli) session() (*apiclient.Client, string, error) {
	token := strings.TrimSpace(c.v.GetString(keyAccessToken))
	if token == "" {
		return nil, "", errors.New("please login first using 'pagesmith login'")
	}
	api, err := c.client()
	if err != nil {
		return nil, "", err
	}
	return api, token, nil
}

func (c *cli) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

// findEnvFile searches the working directory and its parents for .env.
func findEnvFile() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for i := 0; i < 10; i++ {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
