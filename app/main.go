package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/avoro/chat-guard/app/guard"
	"github.com/avoro/chat-guard/app/storage"
	"github.com/avoro/chat-guard/app/webapi"
	"github.com/avoro/chat-guard/lib/filter"
	"github.com/avoro/chat-guard/lib/lexicon"
	"github.com/avoro/chat-guard/lib/modcheck"
	"github.com/avoro/chat-guard/lib/sanctions"
)

type options struct {
	DB       string `long:"db" env:"DB" default:"chat-guard.db" description:"sqlite database file"`
	Listen   string `long:"listen" env:"LISTEN" default:":8080" description:"listen address"`
	Auth     string `long:"auth" env:"AUTH" description:"basic auth password for user chat-guard, disabled if empty"`
	WordsDir string `long:"words-dir" env:"WORDS_DIR" description:"directory with word list files, uses sqlite store if empty"`

	SimilarityThreshold float64 `long:"similarity-threshold" env:"SIMILARITY_THRESHOLD" default:"0" description:"levenshtein similarity threshold for fuzzy matching, 0 to disable"`

	Sanctions struct {
		MaxWarnings    int           `long:"max-warnings" env:"MAX_WARNINGS" default:"1000" description:"warnings before a block"`
		BlockDuration  time.Duration `long:"block-duration" env:"BLOCK_DURATION" default:"24h" description:"block duration"`
		StorageTimeout time.Duration `long:"storage-timeout" env:"STORAGE_TIMEOUT" default:"5s" description:"timeout for storage operations"`
	} `group:"sanctions" namespace:"sanctions" env-namespace:"SANCTIONS"`

	Message struct {
		Blocked string `long:"blocked" env:"BLOCKED" default:"You are temporarily blocked from sending messages" description:"message shown to blocked users"`
	} `group:"message" namespace:"message" env-namespace:"MESSAGE"`

	Logger struct {
		Enabled    bool   `long:"enabled" env:"ENABLED" description:"enable rotated violations log"`
		FileName   string `long:"file" env:"FILE" default:"chat-guard.log" description:"location of violations log"`
		MaxSize    string `long:"max-size" env:"MAX_SIZE" default:"100M" description:"maximum size before it gets rotated"`
		MaxBackups int    `long:"max-backups" env:"MAX_BACKUPS" default:"10" description:"maximum number of old log files to retain"`
	} `group:"logger" namespace:"logger" env-namespace:"LOGGER"`

	Dry bool `long:"dry" env:"DRY" description:"dry mode, classify and warn but never suppress"`
	Dbg bool `long:"dbg" env:"DEBUG" description:"debug mode"`
}

var revision = "local"

func main() {
	fmt.Printf("chat-guard %s\n", revision)
	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		if err.(*flags.Error).Type != flags.ErrHelp {
			log.Printf("[ERROR] cli error: %v", err)
		}
		os.Exit(2)
	}

	setupLog(opts.Dbg, opts.Auth)
	log.Printf("[DEBUG] options: %+v", opts)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		// catch signal and invoke graceful termination
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Printf("[WARN] interrupt signal")
		cancel()
	}()

	if err := execute(ctx, opts); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, opts options) error {
	if opts.Dry {
		log.Print("[WARN] dry mode, no actual sanctions")
	}

	db, err := storage.NewSqliteDB(opts.DB)
	if err != nil {
		return fmt.Errorf("can't open database %s, %w", opts.DB, err)
	}
	defer db.Close()

	// lexicon store: word-list files if a directory is set, sqlite otherwise
	var lexStore lexicon.Store
	if opts.WordsDir != "" {
		fileStore, err := storage.NewFileLexicon(opts.WordsDir)
		if err != nil {
			return fmt.Errorf("can't make file lexicon store, %w", err)
		}
		lexStore = fileStore
		log.Printf("[INFO] using file lexicon store in %s", opts.WordsDir)
	} else {
		sqlStore, err := storage.NewLexicon(db)
		if err != nil {
			return fmt.Errorf("can't make lexicon store, %w", err)
		}
		lexStore = sqlStore
	}

	lex := lexicon.New(lexStore)
	if err := lex.Load(ctx); err != nil {
		log.Printf("[WARN] lexicon load degraded, %v", err) // defaults are in place, keep going
	}
	go func() {
		if err := lex.Watch(ctx); err != nil {
			log.Printf("[WARN] lexicon watcher failed: %v", err)
		}
	}()

	detector := filter.NewDetector(lex, filter.Config{SimilarityThreshold: opts.SimilarityThreshold})
	log.Printf("[DEBUG] detector config: {similarity: %0.2f}", opts.SimilarityThreshold)

	sanctionsStore, err := storage.NewSanctions(db)
	if err != nil {
		return fmt.Errorf("can't make sanctions store, %w", err)
	}
	engine := sanctions.NewEngine(sanctionsStore, sanctions.Config{
		MaxWarnings:    opts.Sanctions.MaxWarnings,
		BlockDuration:  opts.Sanctions.BlockDuration,
		StorageTimeout: opts.Sanctions.StorageTimeout,
	})

	violations, err := storage.NewViolations(db)
	if err != nil {
		return fmt.Errorf("can't make violations store, %w", err)
	}

	// make violations logger with optional json-lines file output
	loggerWr, err := makeViolationLogWriter(opts)
	if err != nil {
		return fmt.Errorf("can't make violations log writer, %w", err)
	}
	defer loggerWr.Close()

	mod := guard.NewGuard(detector, engine, &violationLogger{store: violations, wr: loggerWr}, guard.Config{
		MaxWarnings: opts.Sanctions.MaxWarnings,
		BlockedMsg:  opts.Message.Blocked,
		Dry:         opts.Dry,
	})

	srv := webapi.NewServer(webapi.Config{
		Version:    revision,
		ListenAddr: opts.Listen,
		Guard:      mod,
		Detector:   detector,
		Lexicon:    lex,
		Violations: violations,
		AuthPasswd: opts.Auth,
		Dbg:        opts.Dbg,
	})
	return srv.Run(ctx)
}

// violationLogger persists violations to the store and mirrors them as json
// lines to the rotated log file
type violationLogger struct {
	store *storage.Violations
	wr    io.Writer
}

func (v *violationLogger) Write(ctx context.Context, entry storage.ViolationInfo, verdict modcheck.Verdict) error {
	m := struct {
		TimeStamp string           `json:"ts"`
		UserName  string           `json:"user_name"`
		UserID    string           `json:"user_id"`
		Text      string           `json:"text"`
		Verdict   modcheck.Verdict `json:"verdict"`
	}{
		TimeStamp: time.Now().In(time.Local).Format(time.RFC3339),
		UserName:  entry.UserName,
		UserID:    entry.UserID,
		Text:      strings.TrimSpace(strings.ReplaceAll(entry.Text, "\n", " ")),
		Verdict:   verdict,
	}
	if line, err := json.Marshal(&m); err == nil {
		if _, err := v.wr.Write(append(line, '\n')); err != nil {
			log.Printf("[WARN] can't write to violations log, %v", err)
		}
	}
	return v.store.Write(ctx, entry, verdict)
}

type nopWriteCloser struct{ io.Writer }

func (n nopWriteCloser) Close() error { return nil }

// makeViolationLogWriter creates violations log writer, parses options and
// makes lumberjack logger with rotation
func makeViolationLogWriter(opts options) (io.WriteCloser, error) {
	if !opts.Logger.Enabled {
		return nopWriteCloser{io.Discard}, nil
	}

	sizeParse := func(inp string) (uint64, error) {
		if inp == "" {
			return 0, errors.New("empty value")
		}
		for i, sfx := range []string{"k", "m", "g", "t"} {
			if strings.HasSuffix(inp, strings.ToUpper(sfx)) || strings.HasSuffix(inp, strings.ToLower(sfx)) {
				val, err := strconv.Atoi(inp[:len(inp)-1])
				if err != nil {
					return 0, fmt.Errorf("can't parse %s: %w", inp, err)
				}
				return uint64(float64(val) * math.Pow(float64(1024), float64(i+1))), nil
			}
		}
		return strconv.ParseUint(inp, 10, 64)
	}

	maxSize, perr := sizeParse(opts.Logger.MaxSize)
	if perr != nil {
		return nil, fmt.Errorf("can't parse logger MaxSize: %w", perr)
	}
	maxSize /= 1048576

	log.Printf("[INFO] violations logger enabled for %s, max size %dM", opts.Logger.FileName, maxSize)
	return &lumberjack.Logger{
		Filename:   opts.Logger.FileName,
		MaxSize:    int(maxSize), // in MB
		MaxBackups: opts.Logger.MaxBackups,
		Compress:   true,
		LocalTime:  true,
	}, nil
}

func setupLog(dbg bool, secrets ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	secrets = func(ss []string) (res []string) { // keep only non-empty secrets
		for _, s := range ss {
			if s != "" {
				res = append(res, s)
			}
		}
		return res
	}(secrets)
	if len(secrets) > 0 {
		logOpts = append(logOpts, lgr.Secret(secrets...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
