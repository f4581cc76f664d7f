package gmail

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"applytrack/internal/configstore"
)

// Account is a connected mailbox and its OAuth credentials.
type Account struct {
	Email        string    `json:"email"`
	AccessToken  string    `json:"accessToken,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	TokenExpiry  time.Time `json:"tokenExpiry"`
	HistoryID    string    `json:"historyId,omitempty"`
}

// Token converts the stored credentials to an oauth2 token.
func (a Account) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  a.AccessToken,
		RefreshToken: a.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       a.TokenExpiry,
	}
}

// AccountStore persists accounts in the config store under gmail-accounts.
type AccountStore struct {
	mu    sync.Mutex
	store *configstore.Store
}

// NewAccountStore wraps a config store.
func NewAccountStore(store *configstore.Store) *AccountStore {
	return &AccountStore{store: store}
}

type accountsDocument struct {
	Accounts []Account `json:"accounts"`
}

// List returns all accounts sorted by email.
func (s *AccountStore) List(ctx context.Context) ([]Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Upsert stores account, replacing any account with the same email.
func (s *AccountStore) Upsert(ctx context.Context, account Account) error {
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	if account.Email == "" {
		return errors.New("account email is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts, err := s.load(ctx)
	if err != nil {
		return err
	}
	replaced := false
	for i := range accounts {
		if accounts[i].Email == account.Email {
			accounts[i] = account
			replaced = true
		}
	}
	if !replaced {
		accounts = append(accounts, account)
	}
	return s.store.Save(ctx, configstore.KeyGmailAccounts, accountsDocument{Accounts: accounts}, "gmail")
}

// UpdateHistory moves the history checkpoint of email forward.
func (s *AccountStore) UpdateHistory(ctx context.Context, email, historyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts, err := s.load(ctx)
	if err != nil {
		return err
	}
	for i := range accounts {
		if accounts[i].Email == strings.ToLower(email) {
			if !HistoryNewer(historyID, accounts[i].HistoryID) {
				return nil
			}
			accounts[i].HistoryID = historyID
			return s.store.Save(ctx, configstore.KeyGmailAccounts, accountsDocument{Accounts: accounts}, "gmail")
		}
	}
	return nil
}

// Remove deletes the account for email.
func (s *AccountStore) Remove(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts, err := s.load(ctx)
	if err != nil {
		return err
	}
	kept := accounts[:0]
	for _, account := range accounts {
		if account.Email != strings.ToLower(strings.TrimSpace(email)) {
			kept = append(kept, account)
		}
	}
	return s.store.Save(ctx, configstore.KeyGmailAccounts, accountsDocument{Accounts: kept}, "gmail")
}

func (s *AccountStore) load(ctx context.Context) ([]Account, error) {
	var doc accountsDocument
	if _, err := s.store.Load(ctx, configstore.KeyGmailAccounts, &doc); err != nil {
		return nil, err
	}
	sort.Slice(doc.Accounts, func(i, j int) bool { return doc.Accounts[i].Email < doc.Accounts[j].Email })
	return doc.Accounts, nil
}

// HistoryNewer compares numeric history ids, treating longer strings as larger.
func HistoryNewer(candidate, current string) bool {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return false
	}
	if len(candidate) != len(current) {
		return len(candidate) > len(current)
	}
	return candidate > current
}
