package database

// ItemStore is the durable dedup and delivery bookkeeping used by the
// digest pipeline. Identities are canonicalized by the repository as well as
// by callers.
type ItemStore interface {
	AddItem(item NewItem) (bool, error)
	GetItem(itemID string) (*Item, error)
	Exists(itemID string) (bool, error)

	MarkProcessed(itemID string) (bool, error)
	IsProcessed(itemID string) (bool, error)
	GetProcessedIDs() ([]string, error)

	MarkDiscardedForTask(itemID, taskID string) error
	IsDiscardedForTask(itemID, taskID string) (bool, error)

	MarkSentToRecipient(itemID, recipient, taskID string) error
	IsSentToRecipient(itemID, recipient string) (bool, error)
	IsSentForTask(itemID, taskID string) (bool, error)
	IsSentToAllRecipients(itemID string, recipients []string) (bool, error)

	PurgeOlderThan(days int) (int, error)
	GetStats() (Stats, error)
}
