package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/robfig/cron/v3"
	"github.com/umputun/go-flags"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/sitemaster/app/digest"
	"github.com/umputun/sitemaster/app/enums"
	"github.com/umputun/sitemaster/app/replicate"
	"github.com/umputun/sitemaster/app/seed"
	"github.com/umputun/sitemaster/app/site"
	"github.com/umputun/sitemaster/app/store"
	"github.com/umputun/sitemaster/app/web"
)

var opts struct {
	DataDir string `short:"d" long:"data" env:"SITEMASTER_DATA" default:"var" description:"data directory"`
	MinFree uint64 `long:"min-free" env:"SITEMASTER_MIN_FREE" default:"104857600" description:"minimum free disk space in bytes, writes are rejected below it"`
	Seed    string `long:"seed" env:"SITEMASTER_SEED" description:"yaml file with checklists, crew and inventory for empty collections"`
	Dbg     bool   `long:"dbg" env:"SITEMASTER_DEBUG" description:"debug mode"`

	Web struct {
		Address      string        `long:"address" env:"ADDRESS" default:":8080" description:"web server listen address"`
		BaseURL      string        `long:"base-url" env:"BASE_URL" description:"base url path for reverse proxy, e.g. /sitemaster"`
		MaxBodySize  int64         `long:"max-body" env:"MAX_BODY" default:"16777216" description:"max request body size in bytes"`
		PollInterval time.Duration `long:"poll" env:"POLL" default:"1s" description:"change feed poll interval for websocket clients"`
	} `group:"web" namespace:"web" env-namespace:"SITEMASTER_WEB"`

	Auth struct {
		Password     string        `long:"password" env:"PASSWORD" description:"password, hashed on start"`
		PasswordHash string        `long:"password-hash" env:"PASSWORD_HASH" description:"bcrypt password hash, takes precedence over password"`
		LoginTTL     time.Duration `long:"login-ttl" env:"LOGIN_TTL" default:"24h" description:"session lifetime"`
	} `group:"auth" namespace:"auth" env-namespace:"SITEMASTER_AUTH"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"write logs to file"`
		Filename        string `long:"filename" env:"FILENAME" default:"sitemaster.log" description:"log file name"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log file size in megabytes"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of rotated files"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"30" description:"max days to keep rotated files"`
		EnabledCompress bool   `long:"compress" env:"COMPRESS" description:"compress rotated files"`
	} `group:"log" namespace:"log" env-namespace:"SITEMASTER_LOG"`

	Sync struct {
		Remote      string        `long:"remote" env:"REMOTE" description:"couchdb-compatible remote url, replication disabled if empty"`
		Prefix      string        `long:"prefix" env:"PREFIX" default:"sitemaster-" description:"remote database name prefix"`
		Collections []string      `long:"collection" env:"COLLECTIONS" env-delim:"," description:"collections to replicate, all if empty"`
		Interval    time.Duration `long:"interval" env:"INTERVAL" default:"30s" description:"live sync interval"`
		BatchSize   int           `long:"batch" env:"BATCH" default:"100" description:"documents per request"`
		Concurrency int           `long:"concurrency" env:"CONCURRENCY" default:"4" description:"collections synced in parallel"`
		Retries     int           `long:"retries" env:"RETRIES" default:"3" description:"attempts per push or pull"`
		Timeout     time.Duration `long:"timeout" env:"TIMEOUT" default:"30s" description:"remote request timeout"`
	} `group:"sync" namespace:"sync" env-namespace:"SITEMASTER_SYNC"`

	Digest struct {
		Enabled    bool          `long:"enabled" env:"ENABLED" description:"send daily digest"`
		Schedule   string        `long:"schedule" env:"SCHEDULE" default:"0 7 * * *" description:"digest cron schedule"`
		To         []string      `long:"to" env:"TO" env-delim:"," description:"digest destinations, webhook urls or slack:channel"`
		SlackToken string        `long:"slack-token" env:"SLACK_TOKEN" description:"slack bot token"`
		Timeout    time.Duration `long:"timeout" env:"TIMEOUT" default:"10s" description:"webhook timeout"`
		Retries    int           `long:"retries" env:"RETRIES" default:"3" description:"delivery attempts"`
	} `group:"digest" namespace:"digest" env-namespace:"SITEMASTER_DIGEST"`
}

var revision = "unknown"

func main() {
	fmt.Printf("sitemaster %s\n", revision)

	p := flags.NewParser(&opts, flags.Default)
	if _, err := p.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	setupLog(opts.Dbg, setupLogs(), opts.Auth.Password, opts.Digest.SlackToken)

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT and SIGTERM

	if err := run(ctx); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
	log.Printf("[INFO] sitemaster stopped")
}

// run opens the store and runs the web server with optional replication and digest until ctx is canceled
func run(ctx context.Context) error {
	if err := os.MkdirAll(opts.DataDir, 0o750); err != nil {
		return fmt.Errorf("failed to make data directory: %w", err)
	}
	st, err := store.NewSQLite(ctx, filepath.Join(opts.DataDir, "sitemaster.db"))
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("[WARN] failed to close store, %v", err)
		}
	}()
	st.SetGuard(store.DiskGuard(opts.DataDir, opts.MinFree))
	app := site.New(st, site.Params{})

	if opts.Seed != "" {
		f, err := seed.Load(opts.Seed)
		if err != nil {
			return err
		}
		res, err := seed.Apply(ctx, app, f)
		if err != nil {
			return fmt.Errorf("failed to seed: %w", err)
		}
		log.Printf("[INFO] seed %s applied, added %v, skipped %v, rejected %d", opts.Seed, res.Added, res.Skipped, res.Rejected)
	}

	hash, err := makePasswordHash()
	if err != nil {
		return err
	}
	srv, err := web.New(web.Config{
		App:          app,
		Feed:         st,
		DataDir:      opts.DataDir,
		BaseURL:      validateBaseURL(opts.Web.BaseURL),
		Version:      revision,
		PasswordHash: hash,
		LoginTTL:     opts.Auth.LoginTTL,
		MaxBodySize:  opts.Web.MaxBodySize,
		PollInterval: opts.Web.PollInterval,
	})
	if err != nil {
		return err
	}

	var rpl *replicate.Replicator
	if opts.Sync.Remote != "" {
		if rpl, err = makeReplicator(st); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx, opts.Web.Address) })
	if rpl != nil {
		g.Go(func() error { return ignoreCanceled(rpl.Run(gctx)) })
	}
	if opts.Digest.Enabled {
		svc := makeDigest(app)
		g.Go(func() error { return ignoreCanceled(svc.Do(gctx)) })
	}
	return g.Wait()
}

func makeReplicator(st replicate.Store) (*replicate.Replicator, error) {
	colls := make([]enums.Collection, 0, len(opts.Sync.Collections))
	for _, c := range opts.Sync.Collections {
		coll, err := enums.ParseCollection(c)
		if err != nil {
			return nil, err
		}
		colls = append(colls, coll)
	}
	return replicate.New(st, replicate.Params{
		Remote:      opts.Sync.Remote,
		Prefix:      opts.Sync.Prefix,
		Collections: colls,
		Interval:    opts.Sync.Interval,
		BatchSize:   opts.Sync.BatchSize,
		Concurrency: opts.Sync.Concurrency,
		Retries:     opts.Sync.Retries,
		Timeout:     opts.Sync.Timeout,
	})
}

func makeDigest(app *site.App) *digest.Service {
	notifiers := []digest.Notifier{notify.NewWebhook(notify.WebhookParams{Timeout: opts.Digest.Timeout})}
	if opts.Digest.SlackToken != "" {
		notifiers = append(notifiers, notify.NewSlack(opts.Digest.SlackToken))
	}
	return &digest.Service{
		Cron:         cron.New(),
		App:          app,
		Notifiers:    notifiers,
		Destinations: opts.Digest.To,
		Schedule:     opts.Digest.Schedule,
		Repeater:     repeater.New(&strategy.Backoff{Repeats: opts.Digest.Retries, Duration: time.Second, Factor: 2, Jitter: true}),
	}
}

// makePasswordHash returns the configured hash, or hashes the plain password. Empty result disables auth.
func makePasswordHash() (string, error) {
	if opts.Auth.PasswordHash != "" {
		return opts.Auth.PasswordHash, nil
	}
	if opts.Auth.Password == "" {
		return "", nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Auth.Password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// validateBaseURL normalizes base url path, root becomes empty and trailing slash is dropped
func validateBaseURL(s string) string {
	s = strings.TrimRight(s, "/")
	if s != "" && !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	return s
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// setupLogs returns the log destination, rotated file if enabled
func setupLogs() io.Writer {
	if !opts.Log.Enabled {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   opts.Log.Filename,
		MaxSize:    opts.Log.MaxSize,
		MaxBackups: opts.Log.MaxBackups,
		MaxAge:     opts.Log.MaxAge,
		Compress:   opts.Log.EnabledCompress,
	}
}

func setupLog(dbg bool, out io.Writer, secrets ...string) {
	logOpts := []log.Option{log.Msec, log.LevelBraces, log.Out(out)}
	if out != os.Stdout {
		logOpts = append(logOpts, log.Err(out))
	}
	if dbg {
		logOpts = append(logOpts, log.Debug, log.CallerFunc)
	}
	var masked []string
	for _, s := range secrets {
		if strings.TrimSpace(s) != "" {
			masked = append(masked, s)
		}
	}
	if len(masked) > 0 {
		logOpts = append(logOpts, log.Secret(masked...))
	}
	log.Setup(logOpts...)
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			log.Printf("[WARN] signal %v received, shutting down", sig)
			cancel()
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
}
