package base

import (
	"strings"
	"time"

	"github.com/emersion/go-imap"
)

const AuditLogFile = "audit_log.jsonl"

// Provider identifies the mailbox service an account lives on.
type Provider string

const (
	ProviderGmail       Provider = "gmail"
	ProviderYahoo       Provider = "yahoo"
	ProviderOutlook     Provider = "outlook"
	ProviderGenericIMAP Provider = "generic_imap"
)

// ProviderFromAddress derives the provider from an account's email domain.
func ProviderFromAddress(email string) Provider {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ProviderGenericIMAP
	}
	domain := strings.ToLower(email[at+1:])
	switch {
	case strings.Contains(domain, "gmail"):
		return ProviderGmail
	case strings.Contains(domain, "yahoo"):
		return ProviderYahoo
	case strings.Contains(domain, "outlook"),
		strings.Contains(domain, "hotmail"),
		strings.Contains(domain, "live"):
		return ProviderOutlook
	default:
		return ProviderGenericIMAP
	}
}

// ImapAddr returns the TLS endpoint for the provider. Generic accounts fall
// back to imap.<domain> on the standard IMAPS port.
func (p Provider) ImapAddr(email string) string {
	switch p {
	case ProviderGmail:
		return "imap.gmail.com:993"
	case ProviderYahoo:
		return "imap.mail.yahoo.com:993"
	case ProviderOutlook:
		return "outlook.office365.com:993"
	default:
		at := strings.LastIndex(email, "@")
		if at < 0 {
			return ""
		}
		return "imap." + strings.ToLower(email[at+1:]) + ":993"
	}
}

// Account is a configured mailbox. Immutable once loaded for a run.
type Account struct {
	ID            string   `yaml:"id" json:"id"`
	Name          string   `yaml:"name" json:"name"`
	Email         string   `yaml:"email" json:"email"`
	Provider      Provider `yaml:"provider" json:"provider"`
	CredentialRef string   `yaml:"credential_ref" json:"-"`
	Folders       []string `yaml:"folders" json:"folders"`
}

// ScanFolders returns the folders to scan, defaulting to INBOX.
func (a Account) ScanFolders() []string {
	if len(a.Folders) == 0 {
		return []string{"INBOX"}
	}
	return a.Folders
}

// Message is a read-only snapshot of a remote message. The UID is only
// meaningful within its account and folder.
type Message struct {
	UID        uint32    `json:"uid"`
	Folder     string    `json:"folder"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"receivedAt"`
	Size       uint32    `json:"size"`
}

// MatchCriteria is the search/deletion rule applied during a scan. At least
// one filter must be present; empty criteria match nothing.
type MatchCriteria struct {
	Sender      string        `json:"sender,omitempty"`
	SenderExact bool          `json:"senderExact,omitempty"`
	Subject     string        `json:"subject,omitempty"`
	MinAge      time.Duration `json:"minAge,omitempty"`
}

// Empty reports whether no filter is present at all.
func (c MatchCriteria) Empty() bool {
	return strings.TrimSpace(c.Sender) == "" &&
		strings.TrimSpace(c.Subject) == "" &&
		c.MinAge <= 0
}

// Mode selects what a run does with its candidates.
type Mode string

const (
	ModeSearch Mode = "search"
	ModeDryRun Mode = "dry_run"
	ModeLive   Mode = "live"
)

// Outcome is the result of one deletion decision.
type Outcome string

const (
	OutcomeDeleted       Outcome = "deleted"
	OutcomeSkippedDryRun Outcome = "skipped_dry_run"
	OutcomeFailed        Outcome = "failed"
)

// Candidate is a message that satisfied the criteria during a scan,
// together with the account it lives on.
type Candidate struct {
	Account Account `json:"account"`
	Message Message `json:"message"`
}

// DeletionRecord is the append-only audit entry for one considered
// candidate. Exactly one record exists per candidate, whatever the outcome.
type DeletionRecord struct {
	RunID       string    `json:"runId"`
	AccountID   string    `json:"accountId"`
	Folder      string    `json:"folder"`
	MessageUID  uint32    `json:"messageUid"`
	Sender      string    `json:"sender"`
	Subject     string    `json:"subject"`
	ReceivedAt  time.Time `json:"receivedAt"`
	Outcome     Outcome   `json:"outcome"`
	ErrorDetail string    `json:"errorDetail,omitempty"`
	ActionedAt  time.Time `json:"actionedAt"`
}

// Client is an interface to abstract the go-imap client.Client methods used
type Client interface {
	Login(username string, password string) error
	Logout() error
	State() imap.ConnState
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	List(ref, name string, ch chan *imap.MailboxInfo) error
	UidSearch(criteria *imap.SearchCriteria) (uids []uint32, err error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	Expunge(ch chan uint32) error
}
