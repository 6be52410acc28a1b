package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage
	DBPath    string `long:"db-path" env:"DB_PATH" default:"./data/digest.db" description:"SQLite database file"`
	TasksFile string `long:"tasks-file" env:"TASKS_FILE" default:"./tasks.yml" description:"Task registry YAML file"`

	// HTTP server
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Run coordination
	SchedulerInterval time.Duration `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"60s" description:"How often schedule triggers are checked"`
	IdleTimeout       time.Duration `long:"idle-timeout" env:"IDLE_TIMEOUT" default:"5m" description:"How long the run worker waits for work before idling"`
	HistorySize       int           `long:"history-size" env:"HISTORY_SIZE" default:"100" description:"Number of finished runs kept in memory"`
	RetentionDays     int           `long:"retention-days" env:"RETENTION_DAYS" default:"30" description:"Days to keep item records (0 disables purging)"`
	SkipProcessed     bool          `long:"skip-processed" env:"SKIP_PROCESSED" description:"Skip items that were already evaluated"`
	FeedDelay         time.Duration `long:"feed-delay" env:"FEED_DELAY" default:"1s" description:"Delay between feed fetches within a task"`
	FeedConcurrency   int           `long:"feed-concurrency" env:"FEED_CONCURRENCY" default:"4" description:"Concurrent feed fetches per task"`
	UserAgent         string        `long:"user-agent" env:"USER_AGENT" default:"RSS Digest/1.0" description:"User agent string for HTTP requests"`
	FetchTimeout      time.Duration `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"30s" description:"Timeout for a single feed fetch"`

	// Evaluation and summaries
	AIProvider     string        `long:"ai-provider" env:"AI_PROVIDER" default:"none" description:"AI provider (none, ollama, openai)"`
	AIHost         string        `long:"ai-host" env:"AI_HOST" description:"AI provider base URL"`
	AIModel        string        `long:"ai-model" env:"AI_MODEL" description:"AI model name"`
	AIKey          string        `long:"ai-key" env:"AI_KEY" description:"AI provider API key"`
	AITimeout      time.Duration `long:"ai-timeout" env:"AI_TIMEOUT" default:"60s" description:"Timeout for a single AI call"`
	AIRetries      int           `long:"ai-retries" env:"AI_RETRIES" default:"3" description:"Attempts per AI call"`
	EvaluatorMode  string        `long:"evaluator-mode" env:"EVALUATOR_MODE" default:"auto" description:"Evaluator mode (auto, ai, rules)"`
	ErrorThreshold int           `long:"ai-error-threshold" env:"AI_ERROR_THRESHOLD" default:"3" description:"Consecutive AI failures before falling back to rules"`
	CooldownPeriod time.Duration `long:"ai-cooldown" env:"AI_COOLDOWN" default:"30m" description:"How long to stay on rules after AI failures"`
	SummaryStyle   string        `long:"summary-style" env:"SUMMARY_STYLE" default:"informative" description:"Summary style (informative, concise, conversational)"`

	// Outgoing mail
	SMTPHost     string `long:"smtp-host" env:"SMTP_HOST" description:"SMTP server host"`
	SMTPPort     int    `long:"smtp-port" env:"SMTP_PORT" default:"587" description:"SMTP server port"`
	SMTPSecurity string `long:"smtp-security" env:"SMTP_SECURITY" default:"STARTTLS" description:"SMTP security (STARTTLS, SSL/TLS, NONE)"`
	SMTPUser     string `long:"smtp-user" env:"SMTP_USER" description:"SMTP username"`
	SMTPPassword string `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP password"`
	SMTPSender   string `long:"smtp-sender" env:"SMTP_SENDER" description:"Sender address for digests"`

	// Unsubscribe mailbox
	IMAPHost      string        `long:"imap-host" env:"IMAP_HOST" description:"IMAP server host for unsubscribe requests"`
	IMAPPort      int           `long:"imap-port" env:"IMAP_PORT" default:"993" description:"IMAP server port"`
	IMAPUser      string        `long:"imap-user" env:"IMAP_USER" description:"IMAP username"`
	IMAPPassword  string        `long:"imap-password" env:"IMAP_PASSWORD" description:"IMAP password"`
	CheckInterval time.Duration `long:"imap-check-interval" env:"IMAP_CHECK_INTERVAL" default:"5m" description:"How often the unsubscribe mailbox is checked"`

	// Events
	NATSURL string `long:"nats-url" env:"NATS_URL" description:"NATS server URL for run events (optional)"`

	// Application metadata
	Timezone string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for schedules and timestamps (e.g., UTC, Asia/Shanghai)"`
	Debug    bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

// Load reads an optional .env file, then flags and environment.
// It returns nil, nil when help was requested.
func Load() (*Cfg, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg, err := parse(os.Args[1:])
	if err != nil || cfg == nil {
		return nil, err
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func parse(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:            raw.DBPath,
		TasksFile:         raw.TasksFile,
		Port:              raw.Port,
		APIAccessKey:      raw.APIAccessKey,
		SchedulerInterval: raw.SchedulerInterval,
		IdleTimeout:       raw.IdleTimeout,
		HistorySize:       raw.HistorySize,
		RetentionDays:     raw.RetentionDays,
		SkipProcessed:     raw.SkipProcessed,
		FeedDelay:         raw.FeedDelay,
		FeedConcurrency:   raw.FeedConcurrency,
		UserAgent:         raw.UserAgent,
		FetchTimeout:      raw.FetchTimeout,
		AIProvider:        strings.ToLower(raw.AIProvider),
		AIHost:            raw.AIHost,
		AIModel:           raw.AIModel,
		AIKey:             raw.AIKey,
		AITimeout:         raw.AITimeout,
		AIRetries:         raw.AIRetries,
		EvaluatorMode:     strings.ToLower(raw.EvaluatorMode),
		ErrorThreshold:    raw.ErrorThreshold,
		CooldownPeriod:    raw.CooldownPeriod,
		SummaryStyle:      strings.ToLower(raw.SummaryStyle),
		SMTPHost:          raw.SMTPHost,
		SMTPPort:          raw.SMTPPort,
		SMTPSecurity:      strings.ToUpper(raw.SMTPSecurity),
		SMTPUser:          raw.SMTPUser,
		SMTPPassword:      raw.SMTPPassword,
		SMTPSender:        raw.SMTPSender,
		IMAPHost:          raw.IMAPHost,
		IMAPPort:          raw.IMAPPort,
		IMAPUser:          raw.IMAPUser,
		IMAPPassword:      raw.IMAPPassword,
		CheckInterval:     raw.CheckInterval,
		NATSURL:           raw.NATSURL,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	cfg.Location = time.Local
	if loc, err := loadLocation(cfg.Timezone); err != nil {
		slog.Warn("Invalid timezone, using system default", "timezone", cfg.Timezone, "error", err)
	} else if loc != nil {
		time.Local = loc
		cfg.Location = loc
	}

	return cfg, nil
}

func validate(cfg *Cfg) error {
	switch cfg.EvaluatorMode {
	case "auto", "ai", "rules":
	default:
		return fmt.Errorf("invalid evaluator mode %q", cfg.EvaluatorMode)
	}

	switch cfg.SMTPSecurity {
	case "STARTTLS", "SSL/TLS", "NONE":
	default:
		return fmt.Errorf("invalid SMTP security %q", cfg.SMTPSecurity)
	}

	if cfg.SchedulerInterval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %s", cfg.SchedulerInterval)
	}
	if cfg.FeedConcurrency < 1 {
		return fmt.Errorf("feed concurrency must be at least 1, got %d", cfg.FeedConcurrency)
	}
	if cfg.RetentionDays < 0 {
		return fmt.Errorf("retention days must not be negative, got %d", cfg.RetentionDays)
	}

	return nil
}

func loadLocation(timezone string) (*time.Location, error) {
	if timezone == "" {
		return nil, nil
	}
	return time.LoadLocation(timezone)
}
