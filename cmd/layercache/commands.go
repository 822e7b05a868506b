package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/layercache"
	bpredis "github.com/unkn0wn-root/layercache/backplane/redis"
	"github.com/unkn0wn-root/layercache/codec"
	"github.com/unkn0wn-root/layercache/internal/wire"
	zaplog "github.com/unkn0wn-root/layercache/log/zap"
	prredis "github.com/unkn0wn-root/layercache/provider/redis"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "layercache",
		Short:         "Operate on a redis-backed layercache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.String("config", "", "YAML config file")
	pf.String("redis", "", "redis address (default localhost:6379)")
	pf.String("cache", "", "cache name (default \"default\")")
	pf.String("log-level", "", "debug, info, warn or error")

	root.AddCommand(getCmd(), setCmd(), removeCmd(), expireCmd(), watchCmd())
	return root
}

// session is one connected cache node.
type session struct {
	cfg    config
	client *goredis.Client
	cache  layercache.Cache[string]
	log    *zap.Logger
}

func open(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg.LogLevel, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	p, err := prredis.New(prredis.Config{Client: client})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	bp, err := bpredis.New(bpredis.Config{Client: client})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	defaults := layercache.DefaultEntryOptions()
	defaults.Duration = cfg.Cache.Duration
	if cfg.Cache.FailSafeMaxDuration > 0 {
		defaults.IsFailSafeEnabled = true
		defaults.FailSafeMaxDuration = cfg.Cache.FailSafeMaxDuration
	}
	// a one-shot command must not exit before its notification is out
	defaults.AllowBackgroundBackplaneOperations = false

	c, err := layercache.New(layercache.Options[string]{
		CacheName:              cfg.Cache.Name,
		Provider:               p,
		Codec:                  codec.String{},
		Backplane:              bp,
		BackplaneChannelPrefix: cfg.Cache.ChannelPrefix,
		Logger:                 zaplog.New(log),
		DefaultEntryOptions:    &defaults,
		DisableAutoRecovery:    true,
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &session{cfg: cfg, client: client, cache: c, log: log}, nil
}

func (s *session) close(ctx context.Context) {
	if err := s.cache.Close(ctx); err != nil {
		s.log.Warn("close cache", zap.Error(err))
	}
	_ = s.client.Close()
	_ = s.log.Sync()
}

func newLogger(level string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	enc := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), lvl)
	return zap.New(core), nil
}

// run opens a session around fn and closes it afterwards.
func run(fn func(cmd *cobra.Command, s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := open(cmd)
		if err != nil {
			return err
		}
		defer s.close(context.WithoutCancel(cmd.Context()))
		return fn(cmd, s, args)
	}
}

var strict = layercache.WithReThrowDistributedCacheErrors(true, false)

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print the value of KEY",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, s *session, args []string) error {
			v, ok, err := s.cache.TryGet(cmd.Context(), args[0], strict, layercache.WithSkipMemoryCache())
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s: not found", args[0])
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), v)
			return err
		}),
	}
}

func setCmd() *cobra.Command {
	var ttl time.Duration
	var tags []string
	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store VALUE under KEY and notify other nodes",
		Args:  cobra.ExactArgs(2),
	}
	cmd.RunE = run(func(cmd *cobra.Command, s *session, args []string) error {
		opts := []layercache.EntryOption{strict}
		if ttl > 0 {
			opts = append(opts, layercache.WithDuration(ttl))
		}
		if len(tags) > 0 {
			opts = append(opts, layercache.WithTags(tags...))
		}
		return s.cache.Set(cmd.Context(), args[0], args[1], opts...)
	})
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "entry duration (default from config)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "entry tag, repeatable")
	return cmd
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove KEY",
		Short: "Remove KEY everywhere",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, s *session, args []string) error {
			return s.cache.Remove(cmd.Context(), args[0], strict)
		}),
	}
}

func expireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire KEY",
		Short: "Mark KEY stale everywhere, keeping it as a fail-safe fallback",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, s *session, args []string) error {
			return s.cache.Expire(cmd.Context(), args[0], strict)
		}),
	}
}

func watchCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print backplane notifications until interrupted",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		bp, err := bpredis.New(bpredis.Config{Client: client})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		seen := make(chan struct{})
		channel := layercache.ChannelName(cfg.Cache.ChannelPrefix, cfg.Cache.Name)
		sub, err := bp.Subscribe(ctx, channel, func(_ context.Context, payload []byte) {
			msg, err := wire.DecodeMessage(payload)
			if err != nil {
				fmt.Fprintf(out, "invalid message: %v\n", err)
				return
			}
			fmt.Fprintf(out, "%s %-6s %s from=%s\n",
				time.Unix(0, msg.Timestamp).UTC().Format(time.RFC3339Nano), msg.Kind, msg.Key, msg.SenderID)
			select {
			case seen <- struct{}{}:
			case <-ctx.Done():
			}
		})
		if err != nil {
			return err
		}
		defer sub.Close()
		fmt.Fprintf(cmd.ErrOrStderr(), "watching %s\n", channel)

		for n := 0; count <= 0 || n < count; n++ {
			select {
			case <-ctx.Done():
				return nil
			case <-seen:
			}
		}
		return nil
	}
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many messages (0 = never)")
	return cmd
}
