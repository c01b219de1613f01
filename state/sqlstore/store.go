// Package sqlstore persists bounty records through gorm. Postgres serves
// production deployments; the pure-Go sqlite driver serves single-node
// installs and tests.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/glebarez/sqlite"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"whistlechain/native/bounty"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store implements bounty.Store with gorm transactions. Updates issued
// through one Store are serialised in process; on postgres they also run at
// serializable isolation so several gateway replicas can share a database.
// A serialization failure from another replica surfaces as
// bounty.ErrStatusConflict.
type Store struct {
	db *gorm.DB
	mu sync.RWMutex
}

var _ bounty.Store = (*Store)(nil)

// Open connects to the database identified by driver and dsn and migrates
// the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying gorm handle.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) txOptions() []*sql.TxOptions {
	if s.db.Dialector.Name() == DriverPostgres {
		return []*sql.TxOptions{{Isolation: sql.LevelSerializable}}
	}
	return nil
}

// View runs fn inside a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(bounty.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&tx{db: db})
	}, s.txOptions()...)
}

// Update runs fn inside a database transaction that is rolled back when fn
// fails.
func (s *Store) Update(ctx context.Context, fn func(bounty.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&tx{db: db})
	}, s.txOptions()...)
	return serializationConflict(err)
}

// serializationConflict maps postgres serialization and deadlock aborts onto
// ErrStatusConflict. The transaction was rolled back, so no write survived.
func serializationConflict(err error) error {
	if err == nil || errors.Is(err, bounty.ErrStatusConflict) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: %s", bounty.ErrStatusConflict, pgErr.Message)
	}
	return err
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type tx struct {
	db *gorm.DB
}

func (t *tx) first(out interface{}, query string, args ...interface{}) error {
	err := t.db.Where(query, args...).First(out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return bounty.ErrNotFound
	}
	return err
}

func (t *tx) exists(model interface{}, query string, args ...interface{}) (bool, error) {
	var count int64
	if err := t.db.Model(model).Where(query, args...).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (t *tx) create(model interface{}, id string) error {
	found, err := t.exists(model, "id = ?", id)
	if err != nil {
		return err
	}
	if found {
		return bounty.ErrRecordExists
	}
	if err := t.db.Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return bounty.ErrRecordExists
		}
		return err
	}
	return nil
}

func (t *tx) BountyGet(id bounty.ID) (*bounty.Bounty, error) {
	var row bountyRow
	if err := t.first(&row, "id = ?", id.Hex()); err != nil {
		return nil, err
	}
	return row.toBounty()
}

func (t *tx) TipGet(id bounty.ID) (*bounty.Tip, error) {
	var row tipRow
	if err := t.first(&row, "id = ?", id.Hex()); err != nil {
		return nil, err
	}
	return row.toTip()
}

func (t *tx) ClaimGet(id bounty.ID) (*bounty.Claim, error) {
	var row claimRow
	if err := t.first(&row, "id = ?", id.Hex()); err != nil {
		return nil, err
	}
	return row.toClaim()
}

func (t *tx) Bounties(filter bounty.BountyFilter) ([]*bounty.Bounty, error) {
	query := t.db.Model(&bountyRow{})
	if filter.Status != 0 {
		query = query.Where("status = ?", uint8(filter.Status))
	}
	if !filter.Creator.IsZero() {
		query = query.Where("creator = ?", filter.Creator.Normalize().String())
	}
	var rows []bountyRow
	if err := query.Order("created_unix DESC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*bounty.Bounty, 0, len(rows))
	for i := range rows {
		b, err := rows[i].toBounty()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (t *tx) Tips(bountyID bounty.ID) ([]*bounty.Tip, error) {
	var rows []tipRow
	if err := t.db.Where("bounty_id = ?", bountyID.Hex()).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*bounty.Tip, 0, len(rows))
	for i := range rows {
		tip, err := rows[i].toTip()
		if err != nil {
			return nil, err
		}
		out = append(out, tip)
	}
	return out, nil
}

func (t *tx) Claims(bountyID bounty.ID) ([]*bounty.Claim, error) {
	var rows []claimRow
	if err := t.db.Where("bounty_id = ?", bountyID.Hex()).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*bounty.Claim, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toClaim()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (t *tx) BalanceGet(owner bounty.Identity, token bounty.TokenType) (*uint256.Int, error) {
	var row balanceRow
	err := t.first(&row, "owner = ? AND token = ?", owner.Normalize().String(), uint8(token))
	if errors.Is(err, bounty.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	amount, err := uint256.FromDecimal(row.Amount)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: balance of %s: %w", owner, err)
	}
	return amount, nil
}

func (t *tx) EscrowGet(bountyID bounty.ID) (*bounty.EscrowEntry, error) {
	var row escrowRow
	if err := t.first(&row, "bounty_id = ?", bountyID.Hex()); err != nil {
		return nil, err
	}
	return row.toEntry()
}

func (t *tx) BountyInsert(b *bounty.Bounty) error {
	return t.create(newBountyRow(b), b.ID.Hex())
}

func (t *tx) TipInsert(tip *bounty.Tip) error {
	return t.create(newTipRow(tip), tip.ID.Hex())
}

func (t *tx) ClaimInsert(c *bounty.Claim) error {
	return t.create(newClaimRow(c), c.ID.Hex())
}

func (t *tx) compareAndSwap(model interface{}, id string, expected uint8, values map[string]interface{}) error {
	res := t.db.Model(model).Where("id = ? AND status = ?", id, expected).Updates(values)
	if res.Error != nil {
		return serializationConflict(res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	found, err := t.exists(model, "id = ?", id)
	if err != nil {
		return err
	}
	if !found {
		return bounty.ErrNotFound
	}
	return fmt.Errorf("%w: %s is not in status %d", bounty.ErrStatusConflict, id, expected)
}

func (t *tx) BountyCompareAndSwap(expected bounty.BountyStatus, b *bounty.Bounty) error {
	row := newBountyRow(b)
	return t.compareAndSwap(&bountyRow{}, row.ID, uint8(expected), map[string]interface{}{
		"title":          row.Title,
		"description":    row.Description,
		"amount":         row.Amount,
		"token":          row.Token,
		"status":         row.Status,
		"verified_claim": row.VerifiedClaim,
		"closed_unix":    row.ClosedUnix,
	})
}

func (t *tx) ClaimCompareAndSwap(expected bounty.ClaimStatus, c *bounty.Claim) error {
	row := newClaimRow(c)
	return t.compareAndSwap(&claimRow{}, row.ID, uint8(expected), map[string]interface{}{
		"proof":        row.Proof,
		"status":       row.Status,
		"decided_by":   row.DecidedBy,
		"decided_unix": row.DecidedUnix,
	})
}

// NextNonce returns the creator's current nonce and advances it.
func (t *tx) NextNonce(creator bounty.Identity) (uint64, error) {
	key := creator.Normalize().String()
	var row nonceRow
	err := t.first(&row, "creator = ?", key)
	if errors.Is(err, bounty.ErrNotFound) {
		if err := t.db.Create(&nonceRow{Creator: key, Next: 1}).Error; err != nil {
			return 0, err
		}
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	current := row.Next
	if err := t.db.Model(&nonceRow{}).Where("creator = ?", key).Update("next", current+1).Error; err != nil {
		return 0, err
	}
	return current, nil
}

func (t *tx) BalancePut(owner bounty.Identity, token bounty.TokenType, amount *uint256.Int) error {
	if amount == nil {
		amount = new(uint256.Int)
	}
	row := balanceRow{Owner: owner.Normalize().String(), Token: uint8(token), Amount: amount.Dec()}
	return t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner"}, {Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount"}),
	}).Create(&row).Error
}

func (t *tx) EscrowPut(e *bounty.EscrowEntry) error {
	if e == nil {
		return fmt.Errorf("sqlstore: nil escrow entry")
	}
	return t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bounty_id"}},
		UpdateAll: true,
	}).Create(newEscrowRow(e)).Error
}
