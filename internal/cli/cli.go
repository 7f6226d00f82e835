// Package cli implements the server's single implicit subcommand (run
// the server), in the same flag-set-and-Execute(args)-int shape the
// teacher's migration-tool CLI uses, so that adding a real subcommand
// later is a small, idiomatic step rather than a rewrite.
package cli

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"redis-server/internal/config"
	"redis-server/internal/logger"
	"redis-server/internal/master"
	"redis-server/internal/rdb"
	"redis-server/internal/replica"
	"redis-server/internal/snapshot"
	"redis-server/internal/store"
)

// Execute parses args, starts the server, and blocks until shutdown.
// It returns a process exit code: 0 on clean shutdown (SIGINT), non-zero
// on startup failure, matching spec.md §6.
func Execute(args []string) int {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("[redis-server] ")

	fs := flag.NewFlagSet("redis-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var (
		port          int
		replicaOf     string
		dir           string
		dbFilename    string
		configPath    string
		saveEvery     string
		snapshotCodec string
		s3Bucket      string
		s3Prefix      string
		logDir        string
		logLevel      string
	)
	fs.IntVar(&port, "port", 6379, "listen port")
	fs.StringVar(&replicaOf, "replicaof", "", `"<host> <port>" of a master to replicate; omit to run as master`)
	fs.StringVar(&dir, "dir", "", "directory containing the RDB snapshot (master only)")
	fs.StringVar(&dbFilename, "dbfilename", "", "RDB snapshot filename (master only)")
	fs.StringVar(&configPath, "config", "", "optional YAML defaults file")
	fs.StringVar(&saveEvery, "save-every", "", "enable the cron snapshotter, e.g. 10m")
	fs.StringVar(&snapshotCodec, "snapshot-codec", "", "on-disk snapshot codec: gzip or zstd")
	fs.StringVar(&s3Bucket, "s3-bucket", "", "optional snapshot upload bucket")
	fs.StringVar(&s3Prefix, "s3-prefix", "", "optional snapshot upload key prefix")
	fs.StringVar(&logDir, "log-dir", "", "log directory")
	fs.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		log.Printf("failed to parse arguments: %v", err)
		return 1
	}

	var cfg config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			log.Printf("failed to load config: %v", err)
			return 1
		}
		cfg = *loaded
	}
	cfg.ApplyDefaults()

	// CLI flags always override config-file values.
	applyFlagOverrides(&cfg, fs, port, replicaOf, dir, dbFilename, saveEvery, snapshotCodec, s3Bucket, s3Prefix, logDir, logLevel)

	if err := logger.Init(cfg.Logging.Dir, logger.ParseLevel(cfg.Logging.Level), "redis-server"); err != nil {
		log.Printf("failed to initialize logging: %v", err)
		return 1
	}
	defer logger.Close()

	s := store.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.ReplicaOf != "" {
		return runReplica(ctx, &cfg, s)
	}
	return runMaster(ctx, &cfg, s)
}

func applyFlagOverrides(cfg *config.Config, fs *flag.FlagSet, port int, replicaOf, dir, dbFilename, saveEvery, snapshotCodec, s3Bucket, s3Prefix, logDir, logLevel string) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = port
		case "replicaof":
			cfg.ReplicaOf = replicaOf
		case "dir":
			cfg.Dir = dir
		case "dbfilename":
			cfg.DBFilename = dbFilename
		case "save-every":
			cfg.SaveEvery = saveEvery
		case "snapshot-codec":
			cfg.SnapshotCodec = snapshotCodec
		case "s3-bucket":
			cfg.S3Bucket = s3Bucket
		case "s3-prefix":
			cfg.S3Prefix = s3Prefix
		case "log-dir":
			cfg.Logging.Dir = logDir
		case "log-level":
			cfg.Logging.Level = logLevel
		}
	})
}

func runMaster(ctx context.Context, cfg *config.Config, s *store.Store) int {
	if cfg.Dir != "" && cfg.DBFilename != "" {
		path := cfg.Dir + string(os.PathSeparator) + cfg.DBFilename
		if err := rdb.Load(path, s); err != nil {
			logger.Error("startup: failed to load RDB %s: %v", path, err)
			return 1
		}
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.Port))
	if err != nil {
		logger.Error("startup: failed to bind port %d: %v", cfg.Port, err)
		return 1
	}
	defer ln.Close()

	m := master.New(s, master.Config{
		Port:         cfg.Port,
		Dir:          cfg.Dir,
		DBFilename:   cfg.DBFilename,
		GetackRateHz: cfg.GetackRateHz,
	})

	var sched *snapshot.Scheduler
	if cfg.SaveEveryDuration() > 0 && cfg.Dir != "" && cfg.DBFilename != "" {
		sched = startSnapshotScheduler(ctx, s, cfg)
	}

	logger.Console("redis-server: master listening on port %d", cfg.Port)
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	err = m.Serve(ctx, ln)
	if sched != nil {
		sched.Stop()
	}
	if err != nil && ctx.Err() == nil {
		logger.Error("master: serve error: %v", err)
		return 1
	}
	return 0
}

func runReplica(ctx context.Context, cfg *config.Config, s *store.Store) int {
	parts := strings.Fields(cfg.ReplicaOf)
	if len(parts) != 2 {
		logger.Error(`startup: --replicaof must be "<host> <port>", got %q`, cfg.ReplicaOf)
		return 1
	}
	masterPort, err := strconv.Atoi(parts[1])
	if err != nil {
		logger.Error("startup: invalid replicaof port %q: %v", parts[1], err)
		return 1
	}
	masterAddr := fmt.Sprintf("%s:%d", parts[0], masterPort)

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.Port))
	if err != nil {
		logger.Error("startup: failed to bind port %d: %v", cfg.Port, err)
		return 1
	}
	defer ln.Close()

	r := replica.New(s, masterAddr, cfg.Port, cfg.ReconnectEveryDuration())
	go r.Run(ctx)

	logger.Console("redis-server: replica of %s listening on port %d", masterAddr, cfg.Port)
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	if err := r.Serve(ctx, ln); err != nil && ctx.Err() == nil {
		logger.Error("replica: serve error: %v", err)
		return 1
	}
	return 0
}

func startSnapshotScheduler(ctx context.Context, s *store.Store, cfg *config.Config) *snapshot.Scheduler {
	var uploader snapshot.Uploader
	if cfg.S3Bucket != "" {
		u, err := snapshot.NewS3Uploader(ctx)
		if err != nil {
			logger.Error("snapshot: failed to initialize S3 uploader, snapshots will stay local: %v", err)
		} else {
			uploader = u
		}
	}
	sched := snapshot.New(s, snapshot.Config{
		Dir:        cfg.Dir,
		DBFilename: cfg.DBFilename,
		Codec:      snapshot.Codec(cfg.SnapshotCodec),
		S3Bucket:   cfg.S3Bucket,
		S3Prefix:   cfg.S3Prefix,
	}, uploader)
	if err := sched.Start("@every " + cfg.SaveEvery); err != nil {
		logger.Error("snapshot: failed to start scheduler: %v", err)
		return nil
	}
	return sched
}
