package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	ra "github.com/panyam/reelauth"
)

// FSAccountStore implements ra.AccountStore using JSON files.
//
// # File Structure
//
//	{StoragePath}/
//	├── accounts/{id}.json              # the account record
//	├── emails/{sha256(email)}.json     # {"email": ..., "account_id": ...}
//	└── links/{provider}-{sha256(subject)}.json
//
// # Concurrency Model
//
// Email and provider-link index files are published by hard linking a fully
// written temp file into place. link(2) fails if the name exists, so exactly
// one of two racing CreateAccount calls for the same email wins even across
// processes sharing the directory. Account records are replaced with temp
// file + rename. Read-modify-write of an account record is serialized by a
// mutex, which only covers a single process.
//
// An account record is only live while its email index points back at it.
// Records left behind by a lost race or a crash are skipped by ListAccounts.
type FSAccountStore struct {
	StoragePath string

	mu  sync.Mutex
	now func() time.Time
}

type fsIndexEntry struct {
	Key       string    `json:"key"`
	AccountID string    `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewFSAccountStore creates a new filesystem-backed AccountStore
func NewFSAccountStore(storagePath string) *FSAccountStore {
	return &FSAccountStore{StoragePath: storagePath, now: time.Now}
}

func (s *FSAccountStore) timeNow() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func hashKey(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func (s *FSAccountStore) accountPath(id string) string {
	return filepath.Join(s.StoragePath, "accounts", id+".json")
}

func (s *FSAccountStore) emailPath(email string) string {
	return filepath.Join(s.StoragePath, "emails", hashKey(email)+".json")
}

func (s *FSAccountStore) linkPath(link ra.ProviderLink) string {
	return filepath.Join(s.StoragePath, "links", string(link.Provider)+"-"+hashKey(link.Subject)+".json")
}

func (s *FSAccountStore) readAccount(id string) (*ra.Account, error) {
	// ids are generated here; anything with a separator did not come from us
	if id == "" || strings.ContainsAny(id, `/\.`) {
		return nil, ra.ErrAccountNotFound
	}
	data, err := os.ReadFile(s.accountPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ra.ErrAccountNotFound
		}
		return nil, err
	}
	var account ra.Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, fmt.Errorf("corrupt account %s: %w", id, err)
	}
	return &account, nil
}

func (s *FSAccountStore) writeAccount(account *ra.Account) error {
	path := s.accountPath(account.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(account, "", "  ")
	if err != nil {
		return err
	}
	tmpPath, err := writeTemp(filepath.Dir(path), ".account-*", data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace account %s: %w", account.ID, err)
	}
	return nil
}

// writeTemp writes data to a new temp file in dir and returns its path.
// The caller moves it into place and removes it on failure.
func writeTemp(dir, pattern string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tmpPath, nil
}

func (s *FSAccountStore) readIndex(path string) (*fsIndexEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entry fsIndexEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// claimIndex publishes the index file at path, failing with os.ErrExist if
// someone else holds it. The entry is written to a temp file and hard linked
// into place so readers never see a partial file.
func (s *FSAccountStore) claimIndex(path string, entry *fsIndexEntry) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	tmpPath, err := writeTemp(dir, ".claim-*", data)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)
	return os.Link(tmpPath, path)
}

func (s *FSAccountStore) FindByEmail(ctx context.Context, email string) (*ra.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, err := s.readIndex(s.emailPath(ra.NormalizeEmail(email)))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ra.ErrAccountNotFound
	}
	return s.readAccount(entry.AccountID)
}

func (s *FSAccountStore) GetAccount(ctx context.Context, id string) (*ra.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.readAccount(id)
}

func (s *FSAccountStore) FindByProvider(ctx context.Context, link ra.ProviderLink) (*ra.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, err := s.readIndex(s.linkPath(link))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ra.ErrAccountNotFound
	}
	return s.readAccount(entry.AccountID)
}

func (s *FSAccountStore) CreateAccount(ctx context.Context, email string, digest *string) (*ra.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	email = ra.NormalizeEmail(email)
	now := s.timeNow().UTC()
	account := &ra.Account{
		ID:             uuid.NewString(),
		Email:          email,
		PasswordDigest: digest,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// The account record goes first so a claimed email never points at a
	// missing file. A losing racer removes its orphaned record.
	if err := s.writeAccount(account); err != nil {
		return nil, err
	}
	err := s.claimIndex(s.emailPath(email), &fsIndexEntry{Key: email, AccountID: account.ID, CreatedAt: now})
	if err != nil {
		os.Remove(s.accountPath(account.ID))
		if errors.Is(err, os.ErrExist) {
			return nil, ra.ErrEmailTaken
		}
		return nil, err
	}
	return account, nil
}

func (s *FSAccountStore) LinkProvider(ctx context.Context, accountID string, link ra.ProviderLink) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	account, err := s.readAccount(accountID)
	if err != nil {
		return err
	}
	if account.IsLinked(link) {
		return nil
	}

	path := s.linkPath(link)
	err = s.claimIndex(path, &fsIndexEntry{Key: string(link.Provider) + ":" + link.Subject, AccountID: accountID, CreatedAt: s.timeNow().UTC()})
	if errors.Is(err, os.ErrExist) {
		existing, rerr := s.readIndex(path)
		if rerr != nil {
			return rerr
		}
		if existing == nil || existing.AccountID != accountID {
			return fmt.Errorf("%w: %s subject already linked", ra.ErrConflict, link.Provider)
		}
	} else if err != nil {
		return err
	}

	account.Providers = append(account.Providers, link)
	account.UpdatedAt = s.timeNow().UTC()
	return s.writeAccount(account)
}

func (s *FSAccountStore) ListAccounts(ctx context.Context, limit int) ([]*ra.Account, error) {
	entries, err := os.ReadDir(filepath.Join(s.StoragePath, "accounts"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []*ra.Account
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		account, err := s.readAccount(strings.TrimSuffix(name, ".json"))
		if errors.Is(err, ra.ErrAccountNotFound) {
			continue
		} else if err != nil {
			return nil, err
		}
		index, err := s.readIndex(s.emailPath(account.Email))
		if err != nil {
			return nil, err
		}
		if index == nil || index.AccountID != account.ID {
			continue
		}
		out = append(out, account)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
