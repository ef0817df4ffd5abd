package adapter

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"aaronromeo.com/mailsweep/pkg/base"
	"aaronromeo.com/mailsweep/pkg/utils"
	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/pkg/errors"
)

// Credentials is the resolved login material for one account.
type Credentials struct {
	Username string
	Password string
}

// CredentialResolver turns an account's opaque credential reference into
// login material. The default resolver reads the password from the
// environment variable named by the reference.
type CredentialResolver func(account base.Account) (Credentials, error)

// MailboxClient connects to one account's mailbox service.
type MailboxClient interface {
	Connect(ctx context.Context, account base.Account) (Conn, error)
}

// Conn is an open connection to one account. Every successful Connect must
// be paired with a Close on all exit paths.
type Conn interface {
	ListMessages(ctx context.Context, folder string) ([]base.Message, error)
	FetchFull(ctx context.Context, folder string, uid uint32) (*imap.Message, error)
	DeleteMessage(ctx context.Context, folder string, uid uint32) error
	Close() error
}

type ImapAdapter struct {
	dialTLS   func(address string, tlsConfig *tls.Config) (base.Client, error)
	resolve   CredentialResolver
	logger    *slog.Logger
	tlsConfig *tls.Config
}

type ImapAdapterOption func(*ImapAdapter) error

func NewImapAdapter(opts ...ImapAdapterOption) (*ImapAdapter, error) {
	var ad ImapAdapter
	for _, opt := range opts {
		err := opt(&ad)
		if err != nil {
			return nil, err
		}
	}

	if ad.dialTLS == nil {
		ad.dialTLS = func(address string, tlsConfig *tls.Config) (base.Client, error) {
			c, err := imapclient.DialTLS(address, tlsConfig)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}

	if ad.resolve == nil {
		ad.resolve = EnvCredentialResolver
	}

	if ad.logger == nil {
		return nil, errors.New("requires slogger")
	}

	return &ad, nil
}

func WithDialTLS(d func(address string, tlsConfig *tls.Config) (base.Client, error)) ImapAdapterOption {
	return func(ad *ImapAdapter) error {
		ad.dialTLS = d
		return nil
	}
}

func WithTLSConfig(tlsConfig *tls.Config) ImapAdapterOption {
	return func(ad *ImapAdapter) error {
		ad.tlsConfig = tlsConfig
		return nil
	}
}

func WithCredentialResolver(r CredentialResolver) ImapAdapterOption {
	return func(ad *ImapAdapter) error {
		ad.resolve = r
		return nil
	}
}

func WithLogger(logger *slog.Logger) ImapAdapterOption {
	// slog.New(slog.NewJSONHandler(os.Stdout, nil))
	return func(ad *ImapAdapter) error {
		ad.logger = logger
		return nil
	}
}

// EnvCredentialResolver reads the account password from the environment
// variable named by the account's credential reference. The username is the
// account's email address.
func EnvCredentialResolver(account base.Account) (Credentials, error) {
	ref := strings.TrimSpace(account.CredentialRef)
	if ref == "" {
		return Credentials{}, errors.Errorf("account %s has no credential reference", account.ID)
	}
	password := os.Getenv(ref)
	if password == "" {
		return Credentials{}, errors.Errorf("environment variable %s is not set", ref)
	}
	return Credentials{Username: account.Email, Password: password}, nil
}

// Connect dials the account's provider endpoint and logs in. Auth rejections
// come back as *base.AuthError, network or protocol failures as
// *base.ConnectError.
func (ad *ImapAdapter) Connect(ctx context.Context, account base.Account) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := account.Provider.ImapAddr(account.Email)
	if addr == "" {
		return nil, &base.ConnectError{AccountID: account.ID, Err: errors.New("cannot derive IMAP endpoint")}
	}

	creds, err := ad.resolve(account)
	if err != nil {
		return nil, &base.AuthError{AccountID: account.ID, Err: err}
	}

	c, err := ad.dialTLS(addr, ad.tlsConfig)
	if err != nil {
		ad.logger.ErrorContext(ctx, fmt.Sprintf("Failed to dial %s: %v", addr, err), slog.Any("error", utils.WrapError(err)))
		return nil, &base.ConnectError{AccountID: account.ID, Addr: addr, Err: err}
	}

	if err := c.Login(creds.Username, creds.Password); err != nil {
		ad.logger.ErrorContext(ctx, fmt.Sprintf("Failed to login: %v", err), slog.Any("error", utils.WrapError(err)))
		if logoutErr := c.Logout(); logoutErr != nil {
			ad.logger.Warn("Logout after failed login", slog.Any("error", logoutErr))
		}
		return nil, &base.AuthError{AccountID: account.ID, Err: err}
	}
	ad.logger.Info("Login success", slog.String("account", account.ID))

	return &imapConn{
		client:    c,
		accountID: account.ID,
		logger:    ad.logger,
	}, nil
}

type imapConn struct {
	client    base.Client
	accountID string
	logger    *slog.Logger

	selected string
	readOnly bool
}

func (conn *imapConn) selectFolder(folder string, readOnly bool) error {
	if conn.selected == folder && conn.readOnly == readOnly {
		return nil
	}
	if _, err := conn.client.Select(folder, readOnly); err != nil {
		return err
	}
	conn.selected = folder
	conn.readOnly = readOnly
	return nil
}

// ListMessages fetches a snapshot of every message in folder, in mailbox
// order. It never mutates remote state.
func (conn *imapConn) ListMessages(ctx context.Context, folder string) ([]base.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := conn.selectFolder(folder, true); err != nil {
		return nil, errors.Wrapf(err, "selecting folder %s", folder)
	}

	uids, err := conn.client.UidSearch(&imap.SearchCriteria{})
	if err != nil {
		return nil, errors.Wrapf(err, "searching folder %s", folder)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, imap.FetchRFC822Size, imap.FetchInternalDate}
	messageCh := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- conn.client.UidFetch(seqSet, items, messageCh)
	}()

	msgs := make([]base.Message, 0, len(uids))
	for msg := range messageCh {
		msgs = append(msgs, snapshotMessage(folder, msg))
	}

	if err := <-done; err != nil {
		conn.logger.ErrorContext(ctx, err.Error(), slog.Any("error", utils.WrapError(err)))
		return nil, errors.Wrapf(err, "fetching folder %s", folder)
	}

	return msgs, nil
}

// FetchFull retrieves the complete message body without setting \Seen.
func (conn *imapConn) FetchFull(ctx context.Context, folder string, uid uint32) (*imap.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := conn.selectFolder(folder, true); err != nil {
		return nil, errors.Wrapf(err, "selecting folder %s", folder)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, section.FetchItem()}
	messageCh := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- conn.client.UidFetch(seqSet, items, messageCh)
	}()

	var fetched *imap.Message
	for msg := range messageCh {
		fetched = msg
	}

	if err := <-done; err != nil {
		return nil, errors.Wrapf(err, "fetching message %d from %s", uid, folder)
	}
	if fetched == nil {
		return nil, errors.Errorf("message %d no longer exists in %s", uid, folder)
	}

	return fetched, nil
}

// DeleteMessage flags the message \Deleted and expunges it. A UID STORE on
// an already-expunged UID is a server-side no-op, so repeating a delete
// reports success rather than an error.
func (conn *imapConn) DeleteMessage(ctx context.Context, folder string, uid uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := conn.selectFolder(folder, false); err != nil {
		return &base.DeleteError{AccountID: conn.accountID, Folder: folder, MessageUID: uid, Err: err}
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.DeletedFlag}
	if err := conn.client.UidStore(seqSet, item, flags, nil); err != nil {
		return &base.DeleteError{AccountID: conn.accountID, Folder: folder, MessageUID: uid, Err: err}
	}

	if err := conn.client.Expunge(nil); err != nil {
		return &base.DeleteError{AccountID: conn.accountID, Folder: folder, MessageUID: uid, Err: err}
	}

	return nil
}

func (conn *imapConn) Close() error {
	if err := conn.client.Logout(); err != nil {
		conn.logger.Warn("Failed to logout", slog.String("account", conn.accountID), slog.Any("error", err))
		return err
	}
	return nil
}

func snapshotMessage(folder string, msg *imap.Message) base.Message {
	snapshot := base.Message{
		UID:    msg.Uid,
		Folder: folder,
		Size:   msg.Size,
	}

	if env := msg.Envelope; env != nil {
		snapshot.Subject = env.Subject
		if len(env.From) > 0 {
			snapshot.Sender = env.From[0].Address()
		}
		snapshot.ReceivedAt = env.Date
	}
	if snapshot.ReceivedAt.IsZero() {
		snapshot.ReceivedAt = msg.InternalDate
	}

	return snapshot
}
