package cfg

import "time"

type Cfg struct {
	// Storage
	DBPath    string
	TasksFile string

	// HTTP server
	Port         string
	APIAccessKey string

	// Run coordination
	SchedulerInterval time.Duration
	IdleTimeout       time.Duration
	HistorySize       int
	RetentionDays     int
	SkipProcessed     bool
	FeedDelay         time.Duration
	FeedConcurrency   int
	UserAgent         string
	FetchTimeout      time.Duration

	// Evaluation and summaries
	AIProvider     string
	AIHost         string
	AIModel        string
	AIKey          string
	AITimeout      time.Duration
	AIRetries      int
	EvaluatorMode  string
	ErrorThreshold int
	CooldownPeriod time.Duration
	SummaryStyle   string

	// Outgoing mail
	SMTPHost     string
	SMTPPort     int
	SMTPSecurity string
	SMTPUser     string
	SMTPPassword string
	SMTPSender   string

	// Unsubscribe mailbox
	IMAPHost      string
	IMAPPort      int
	IMAPUser      string
	IMAPPassword  string
	CheckInterval time.Duration

	// Events
	NATSURL string

	// Application metadata
	Timezone string
	Location *time.Location
	Debug    bool
	Version  string
}

// UnsubscribeAddress is the mailbox recipients write to when opting out.
func (c *Cfg) UnsubscribeAddress() string {
	if c.IMAPUser != "" {
		return c.IMAPUser
	}
	return c.SMTPSender
}
