package spooler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is the persistence boundary of the pipeline.
type Store interface {
	// InsertDocument fails with ErrConstraintViolation when the access key
	// or content hash already exists.
	InsertDocument(ctx context.Context, doc *FiscalDocument) error
	InsertOutcome(ctx context.Context, o *IngestionOutcome) error
	// FindByAccessKeyOrHash returns nil, nil when nothing matches. A hash
	// match takes precedence over a key match.
	FindByAccessKeyOrHash(ctx context.Context, accessKey string, contentHash string) (*FiscalDocument, error)
	// FindSuccessfulOutcomeByHash ignores failed outcomes: a rejected file may
	// be resubmitted unchanged once the cause outside it is fixed.
	FindSuccessfulOutcomeByHash(ctx context.Context, contentHash string) (*IngestionOutcome, error)
	// Atomic runs fn in one transaction, serialized against every other
	// Atomic call on the same store. Returning an error rolls back.
	Atomic(ctx context.Context, fn func(Store) error) error
}

type GormStore struct {
	db   *gorm.DB
	mu   *sync.Mutex
	inTx bool
}

// OpenStore opens (and migrates) the SQLite database at path. ":memory:"
// gives a private in-memory database.
func OpenStore(path string, debug bool) (*GormStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is empty")
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if debug {
		cfg.Logger = logger.Default.LogMode(logger.Info)
	}
	db, err := gorm.Open(sqlite.Open(sqliteDSN(path)), cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrPersistenceFailure, path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	// One connection keeps :memory: a single database and makes SQLite's
	// single-writer rule explicit.
	sqlDB.SetMaxOpenConns(1)
	return NewGormStore(db)
}

// NewGormStore wraps an open gorm handle and migrates the schema.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&FiscalDocument{}, &LineItem{}, &IngestionOutcome{}); err != nil {
		return nil, fmt.Errorf("%w: migrate: %v", ErrPersistenceFailure, err)
	}
	return &GormStore{db: db, mu: &sync.Mutex{}}, nil
}

func sqliteDSN(path string) string {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path
	}
	values := url.Values{}
	values.Add("_pragma", "foreign_keys(ON)")
	values.Add("_pragma", "journal_mode(WAL)")
	values.Add("_pragma", "busy_timeout(5000)")
	return fmt.Sprintf("file:%s?%s", path, values.Encode())
}

func (s *GormStore) DB() *gorm.DB { return s.db }

func (s *GormStore) Close() error {
	if s == nil || s.db == nil || s.inTx {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) InsertDocument(ctx context.Context, doc *FiscalDocument) error {
	if doc == nil {
		return fmt.Errorf("insert document: nil document")
	}
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return wrapDBError("insert document", err)
	}
	return nil
}

func (s *GormStore) InsertOutcome(ctx context.Context, o *IngestionOutcome) error {
	if o == nil {
		return fmt.Errorf("insert outcome: nil outcome")
	}
	if err := s.db.WithContext(ctx).Create(o).Error; err != nil {
		return wrapDBError("insert outcome", err)
	}
	return nil
}

func (s *GormStore) FindByAccessKeyOrHash(ctx context.Context, accessKey string, contentHash string) (*FiscalDocument, error) {
	if contentHash != "" {
		doc, err := s.firstDocument(ctx, "content_hash = ?", contentHash)
		if doc != nil || err != nil {
			return doc, err
		}
	}
	if accessKey != "" {
		return s.firstDocument(ctx, "access_key = ?", accessKey)
	}
	return nil, nil
}

func (s *GormStore) firstDocument(ctx context.Context, query string, arg string) (*FiscalDocument, error) {
	var doc FiscalDocument
	err := s.db.WithContext(ctx).Where(query, arg).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBError("find document", err)
	}
	return &doc, nil
}

// FindSuccessfulOutcomeByHash returns the first success outcome with the
// hash. Failures are skipped: a rejected file may come back after a fix.
func (s *GormStore) FindSuccessfulOutcomeByHash(ctx context.Context, contentHash string) (*IngestionOutcome, error) {
	if contentHash == "" {
		return nil, nil
	}
	var o IngestionOutcome
	err := s.db.WithContext(ctx).
		Where("content_hash = ? AND result = ?", contentHash, ResultSuccess).
		Order("id asc").
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBError("find outcome", err)
	}
	return &o, nil
}

func (s *GormStore) Atomic(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&GormStore{db: tx, mu: s.mu, inTx: true})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return wrapDBError("commit", err)
	}
	return nil
}

// wrapDBError maps driver errors onto the taxonomy. Unique-index conflicts
// are ErrConstraintViolation, everything else ErrPersistenceFailure.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s: %v", ErrConstraintViolation, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrPersistenceFailure, op, err)
}
