package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/unkn0wn-root/layerkv"
	"github.com/unkn0wn-root/layerkv/config"
)

// Build information, set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

const (
	storeKey = "store"
	stackKey = "stack"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "layerkv",
		Usage:   "inspect and edit a layerkv namespace",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			getCommand(),
			setCommand(),
			deleteCommand(),
			keysCommand(),
			clearCommand(),
			metaCommand(),
			versionsCommand(),
			restoreCommand(),
			usageCommand(),
			syncCommand(),
		},
		Before:   open,
		After:    closeStore,
		Metadata: map[string]any{},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML configuration file",
			EnvVars: []string{"LAYERKV_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "namespace",
			Aliases: []string{"n"},
			Usage:   "namespace to operate on (overrides the config)",
		},
		&cli.StringFlag{
			Name:  "backend",
			Usage: "backend type: memory, badger, bigcache, ristretto, redis",
		},
		&cli.StringFlag{
			Name:  "badger-dir",
			Usage: "badger data directory",
		},
		&cli.StringFlag{
			Name:  "redis-addr",
			Usage: "redis address for the redis backend",
		},
	}
}

// overrides maps set flags onto config keys.
func overrides(c *cli.Context) map[string]any {
	m := map[string]any{}
	for flag, key := range map[string]string{
		"namespace":  "namespace",
		"backend":    "backend.type",
		"badger-dir": "backend.badger.dir",
		"redis-addr": "backend.redis.addr",
	} {
		if c.IsSet(flag) {
			m[key] = c.String(flag)
		}
	}
	return m
}

func open(c *cli.Context) error {
	if c.Args().Len() == 0 {
		return nil
	}
	l := config.NewLoader(config.WithConfigFile(c.String("config")))
	if err := l.LoadSources(); err != nil {
		return err
	}
	if err := l.LoadMap(overrides(c)); err != nil {
		return err
	}
	cfg, err := l.Unmarshal()
	if err != nil {
		return err
	}

	st, err := config.Open(c.Context, cfg)
	if err != nil {
		return err
	}
	opts, err := config.Options[any](cfg, st, nil)
	if err != nil {
		_ = st.Close(c.Context)
		return err
	}
	// one-shot commands sync explicitly
	opts.SyncThreshold = -1
	s, err := layerkv.New(opts)
	if err != nil {
		_ = st.Close(c.Context)
		return err
	}
	c.App.Metadata[storeKey] = s
	c.App.Metadata[stackKey] = st
	return nil
}

func closeStore(c *cli.Context) error {
	var errs []error
	if s, ok := c.App.Metadata[storeKey].(layerkv.Store[any]); ok {
		errs = append(errs, s.Close(c.Context))
	}
	if st, ok := c.App.Metadata[stackKey].(*config.Stack); ok {
		errs = append(errs, st.Close(c.Context))
	}
	return errors.Join(errs...)
}

func storeFrom(c *cli.Context) (layerkv.Store[any], error) {
	s, ok := c.App.Metadata[storeKey].(layerkv.Store[any])
	if !ok {
		return nil, errors.New("store not initialized")
	}
	return s, nil
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func keyArg(c *cli.Context) (string, error) {
	if c.Args().Len() < 1 {
		return "", cli.Exit("missing key", 2)
	}
	return c.Args().First(), nil
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "print the value of a key",
		ArgsUsage: "<key>",
		Action: func(c *cli.Context) error {
			key, err := keyArg(c)
			if err != nil {
				return err
			}
			s, err := storeFrom(c)
			if err != nil {
				return err
			}
			v, ok, err := s.Get(c.Context, key)
			if err != nil {
				return err
			}
			if !ok {
				return cli.Exit(fmt.Sprintf("%s: not found", key), 1)
			}
			return printJSON(c, v)
		},
	}
}

func setCommand() *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "write a JSON value",
		ArgsUsage: "<key> <json>",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "ttl", Usage: "expire the value after this duration"},
			&cli.StringSliceFlag{Name: "tag", Usage: "attach a tag (repeatable)"},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return cli.Exit("usage: set <key> <json>", 2)
			}
			var v any
			if err := json.Unmarshal([]byte(c.Args().Get(1)), &v); err != nil {
				return cli.Exit(fmt.Sprintf("value is not JSON: %v", err), 2)
			}
			s, err := storeFrom(c)
			if err != nil {
				return err
			}
			var opts []layerkv.SetOption
			if d := c.Duration("ttl"); d > 0 {
				opts = append(opts, layerkv.WithTTL(d))
			}
			if tags := c.StringSlice("tag"); len(tags) > 0 {
				opts = append(opts, layerkv.WithTags(tags...))
			}
			return s.Set(c.Context, c.Args().First(), v, opts...)
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "delete a key and its versions",
		ArgsUsage: "<key>",
		Action: func(c *cli.Context) error {
			key, err := keyArg(c)
			if err != nil {
				return err
			}
			s, err := storeFrom(c)
			if err != nil {
				return err
			}
			return s.Delete(c.Context, key)
		},
	}
}

func keysCommand() *cli.Command {
	return &cli.Command{
		Name:  "keys",
		Usage: "list keys",
		Action: func(c *cli.Context) error {
			s, err := storeFrom(c)
			if err != nil {
				return err
			}
			ks, err := s.Keys(c.Context)
			if err != nil {
				return err
			}
			for _, k := range ks {
				fmt.Fprintln(c.App.Writer, k)
			}
			return nil
		},
	}
}

func clearCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "remove every key of the namespace",
		Flags: []cli.Flag{&cli.BoolFlag{Name: "yes", Usage: "confirm"}},
		Action: func(c *cli.Context) error {
			if !c.Bool("yes") {
				return cli.Exit("refusing to clear without --yes", 2)
			}
			s, err := storeFrom(c)
			if err != nil {
				return err
			}
			return s.Clear(c.Context)
		},
	}
}

func metaCommand() *cli.Command {
	return &cli.Command{
		Name:      "meta",
		Usage:     "print envelope metadata",
		ArgsUsage: "<key>",
		Action: func(c *cli.Context) error {
			key, err := keyArg(c)
			if err != nil {
				return err
			}
			s, err := storeFrom(c)
			if err != nil {
				return err
			}
			m, ok, err := s.Metadata(c.Context, key)
			if err != nil {
				return err
			}
			if !ok {
				return cli.Exit(fmt.Sprintf("%s: not found", key), 1)
			}
			return printJSON(c, m)
		},
	}
}

func versionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "versions",
		Usage:     "list archived versions, newest first",
		ArgsUsage: "<key>",
		Action: func(c *cli.Context) error {
			key, err := keyArg(c)
			if err != nil {
				return err
			}
			s, err := storeFrom(c)
			if err != nil {
				return err
			}
			vs, err := s.Versions(c.Context, key)
			if err != nil {
				return err
			}
			for _, m := range vs {
				fmt.Fprintf(c.App.Writer, "%d\t%s\t%d\n", m.Version, m.Updated.Format(time.RFC3339), m.Size)
			}
			return nil
		},
	}
}

func restoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "make an archived version current again",
		ArgsUsage: "<key> <version>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return cli.Exit("usage: restore <key> <version>", 2)
			}
			n, err := strconv.ParseInt(c.Args().Get(1), 10, 64)
			if err != nil {
				return cli.Exit(fmt.Sprintf("bad version: %v", err), 2)
			}
			s, err := storeFrom(c)
			if err != nil {
				return err
			}
			return s.Restore(c.Context, c.Args().First(), n)
		},
	}
}

func usageCommand() *cli.Command {
	return &cli.Command{
		Name:  "usage",
		Usage: "print backend usage against the quota",
		Action: func(c *cli.Context) error {
			s, err := storeFrom(c)
			if err != nil {
				return err
			}
			u, err := s.Usage(c.Context)
			if err != nil {
				return err
			}
			return printJSON(c, u)
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "run one sync cycle against the configured providers",
		Action: func(c *cli.Context) error {
			s, err := storeFrom(c)
			if err != nil {
				return err
			}
			res, err := s.Sync(c.Context)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "pushed=%d pulled=%d applied=%d conflicts=%d\n",
				res.Pushed, res.Pulled, res.Applied, len(res.Conflicts))
			if !res.Success {
				return fmt.Errorf("sync finished with errors: %w", errors.Join(res.Errors...))
			}
			return nil
		},
	}
}
