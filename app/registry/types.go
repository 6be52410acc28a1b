package registry

import (
	"time"
)

const (
	StatusSuccess = "success"
	StatusFail    = "fail"

	FeedTypeRSS    = "rss"
	FeedTypeWeChat = "wechat"

	DefaultItemsCount = 10
)

type Document struct {
	Tasks []Task `yaml:"tasks"`
}

type Task struct {
	ID               string                     `yaml:"id" json:"id"`
	Name             string                     `yaml:"name" json:"name"`
	Feeds            []FeedRef                  `yaml:"feeds" json:"feeds"`
	Schedule         Schedule                   `yaml:"schedule" json:"schedule"`
	Recipients       []string                   `yaml:"recipients" json:"recipients"`
	FeedsStatus      map[string]FeedStatus      `yaml:"feeds_status,omitempty" json:"feeds_status,omitempty"`
	RecipientsStatus map[string]RecipientStatus `yaml:"recipients_status,omitempty" json:"recipients_status,omitempty"`
	LastRun          *time.Time                 `yaml:"last_run,omitempty" json:"last_run,omitempty"`
}

// FeedRef is one feed a task pulls from, with its per-feed settings.
type FeedRef struct {
	URL            string       `yaml:"url" json:"url"`
	Type           string       `yaml:"type,omitempty" json:"type,omitempty"`
	ItemsCount     int          `yaml:"items_count,omitempty" json:"items_count,omitempty"`
	Labels         []string     `yaml:"labels,omitempty" json:"labels,omitempty"`
	ExtractContent bool         `yaml:"extract_content,omitempty" json:"extract_content,omitempty"`
	Filters        []FeedFilter `yaml:"filters,omitempty" json:"filters,omitempty"`
}

// FeedFilter applies include/exclude substring rules to one item field.
type FeedFilter struct {
	Field    string   `yaml:"field" json:"field"`
	Includes []string `yaml:"includes,omitempty" json:"includes,omitempty"`
	Excludes []string `yaml:"excludes,omitempty" json:"excludes,omitempty"`
}

// Schedule fires at Time ("HH:MM") on each weekday in Days (0 = Monday),
// at most once every Weeks weeks.
type Schedule struct {
	Weeks int    `yaml:"weeks" json:"weeks"`
	Time  string `yaml:"time" json:"time"`
	Days  []int  `yaml:"days" json:"days"`
}

type FeedStatus struct {
	Status    string    `yaml:"status" json:"status"`
	LastFetch time.Time `yaml:"last_fetch" json:"last_fetch"`
	Error     string    `yaml:"error,omitempty" json:"error,omitempty"`
}

type RecipientStatus struct {
	Status   string    `yaml:"status" json:"status"`
	LastSent time.Time `yaml:"last_sent" json:"last_sent"`
	Error    string    `yaml:"error,omitempty" json:"error,omitempty"`
}

func (f FeedRef) Count() int {
	if f.ItemsCount <= 0 {
		return DefaultItemsCount
	}
	return f.ItemsCount
}
