package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/upeohq/staffdesk/internal/domain/identity"
	"github.com/upeohq/staffdesk/internal/port/directory"
)

// Resolution is the answer the dedup resolver gives for one email address.
type Resolution int

const (
	// ResolutionFound means the directory holds an account for the address.
	ResolutionFound Resolution = iota
	// ResolutionNotFound means a complete listing did not contain the address.
	ResolutionNotFound
	// ResolutionUnknown means the listing was partial, so absence proves
	// nothing. Callers must not create accounts on an Unknown answer.
	ResolutionUnknown
)

// Snapshot is a point-in-time view of the identity directory, keyed by
// lowercased email. It is built once per provisioning batch and discarded
// when the batch ends.
type Snapshot struct {
	accounts map[string]identity.Account
	// Partial is set when pagination stopped early. Err carries the cause.
	Partial bool
	Err     error
}

// Resolve answers whether an email address has a directory account.
func (s *Snapshot) Resolve(email string) (*identity.Account, Resolution) {
	key := strings.ToLower(strings.TrimSpace(email))
	if acct, ok := s.accounts[key]; ok {
		return &acct, ResolutionFound
	}
	if s.Partial {
		return nil, ResolutionUnknown
	}
	return nil, ResolutionNotFound
}

// Add records a freshly created account so later items in the same batch see
// it without re-listing the directory.
func (s *Snapshot) Add(acct identity.Account) {
	s.accounts[acct.Key()] = acct
}

// Len returns the number of accounts in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.accounts)
}

// DirectoryLister builds directory snapshots by walking the paginated
// listing endpoint.
type DirectoryLister struct {
	dir      directory.Directory
	pageSize int
	log      *slog.Logger
}

// NewDirectoryLister creates a lister with the given page size.
func NewDirectoryLister(dir directory.Directory, pageSize int, log *slog.Logger) *DirectoryLister {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &DirectoryLister{dir: dir, pageSize: pageSize, log: log}
}

// ListAll walks pages from 1 until a short or empty page. A page fetch error
// does not discard what was already read: the snapshot is returned with
// Partial set so resolution degrades to Unknown instead of NotFound.
func (l *DirectoryLister) ListAll(ctx context.Context) *Snapshot {
	snap := &Snapshot{accounts: make(map[string]identity.Account)}

	for page := 1; ; page++ {
		accounts, err := l.dir.List(ctx, page, l.pageSize)
		if err != nil {
			l.log.Error("directory listing stopped early",
				"page", page, "loaded", len(snap.accounts), "error", err)
			snap.Partial = true
			snap.Err = err
			return snap
		}
		for _, acct := range accounts {
			snap.accounts[acct.Key()] = acct
		}
		if len(accounts) < l.pageSize {
			return snap
		}
	}
}
