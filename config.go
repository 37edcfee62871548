package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind           string
	difficulty     string
	firstHolder    string
	fuse           time.Duration
	port           int
	prefix         string
	profile        bool
	redisAddr      string
	redisDB        int
	sessionTimeout time.Duration
	store          string
	storePath      string
	syncInterval   time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if _, err := ParseDifficulty(c.difficulty); err != nil {
		return err
	}
	switch c.firstHolder {
	case "random", "first":
	default:
		return fmt.Errorf("invalid first-holder (must be random or first): %q", c.firstHolder)
	}
	switch c.store {
	case "memory", "disk", "redis":
	default:
		return fmt.Errorf("invalid store backend (must be memory, disk, or redis): %q", c.store)
	}
	if c.store == "disk" && c.storePath == "" {
		return errors.New("--store-path is required with --store=disk")
	}
	if c.syncInterval < time.Second {
		return fmt.Errorf("invalid sync interval (must be at least 1s): %s", c.syncInterval)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func (c *Config) rules() GameRules {
	difficulty, _ := ParseDifficulty(c.difficulty)

	return GameRules{
		Difficulty:   difficulty,
		RandomHolder: c.firstHolder == "random",
		Fuse:         c.fuse,
	}
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("PASSBOMB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "passbomb",
		Short:         "A shared pass-the-bomb party game, served as a single webapp.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: PASSBOMB_BIND)")
	fs.StringVar(&cfg.difficulty, "difficulty", "flat", "pass policy, either flat or escalating (env: PASSBOMB_DIFFICULTY)")
	fs.StringVar(&cfg.firstHolder, "first-holder", "random", "initial bomb holder selection, either random or first (env: PASSBOMB_FIRST_HOLDER)")
	fs.DurationVar(&cfg.fuse, "fuse", time.Minute, "time each holder has to pass the bomb, 0 to disable (env: PASSBOMB_FUSE)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: PASSBOMB_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: PASSBOMB_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: PASSBOMB_PROFILE)")
	fs.StringVar(&cfg.redisAddr, "redis-addr", "localhost:6379", "redis address for --store=redis (env: PASSBOMB_REDIS_ADDR)")
	fs.IntVar(&cfg.redisDB, "redis-db", 0, "redis database for --store=redis (env: PASSBOMB_REDIS_DB)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle game sessions are unloaded (env: PASSBOMB_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.store, "store", "memory", "game state store backend: memory, disk, or redis (env: PASSBOMB_STORE)")
	fs.StringVar(&cfg.storePath, "store-path", "", "directory holding game blobs for --store=disk (env: PASSBOMB_STORE_PATH)")
	fs.DurationVar(&cfg.syncInterval, "sync-interval", 5*time.Second, "how often loaded games re-read the store (env: PASSBOMB_SYNC_INTERVAL)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: PASSBOMB_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: PASSBOMB_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: PASSBOMB_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: PASSBOMB_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("passbomb v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
