package base

import "fmt"

// AuthError means an account's credentials were rejected. It is scoped to
// one account and never aborts the other accounts in a run.
type AuthError struct {
	AccountID string
	Err       error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for account %s: %v", e.AccountID, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ConnectError means the remote mailbox could not be reached. Transient;
// retryable by a future run but not retried within one.
type ConnectError struct {
	AccountID string
	Addr      string
	Err       error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect failed for account %s (%s): %v", e.AccountID, e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// DeleteError is a single-message deletion failure. It is recorded as a
// FAILED outcome and the batch continues.
type DeleteError struct {
	AccountID  string
	Folder     string
	MessageUID uint32
	Err        error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("delete failed for message %d in %s/%s: %v", e.MessageUID, e.AccountID, e.Folder, e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }

// AuditWriteError means an audit record could not be persisted. This is
// fatal to the executing batch, since continuing would risk unrecorded
// deletions.
type AuditWriteError struct {
	Err error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit log write failed: %v", e.Err)
}

func (e *AuditWriteError) Unwrap() error { return e.Err }
