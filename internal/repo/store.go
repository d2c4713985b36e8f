// Package repo 实现数据访问层，负责与数据库的交互。
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/MorseWayne/moto_shop/internal/domain"
)

// MySQL 错误码
const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// Repositories 聚合全部仓储。事务内与事务外拿到的是同一组接口。
type Repositories interface {
	Products() ProductRepository
	Ledger() StockLedgerRepository
	Orders() OrderRepository
	Discounts() DiscountRepository
	Refunds() RefundRepository
}

// TxFunc 是在事务中执行的业务函数
type TxFunc func(ctx context.Context, tx Repositories) error

// Store 是服务层依赖的持久化接口
type Store interface {
	Repositories
	// WithTx 在单个事务中执行 fn，fn 返回错误时整体回滚
	WithTx(ctx context.Context, fn TxFunc) error
	Ping(ctx context.Context) error
}

// IsRetryable 判断错误是否为可重试的并发冲突（死锁、锁等待超时、乐观锁版本冲突）
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrVersionConflict) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlErrDeadlock || myErr.Number == mysqlErrLockWaitTimeout
	}
	return false
}

func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlErrDuplicateEntry
}

// querier 由 *sql.DB 与 *sql.Tx 共同实现
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqlRepositories 将五个仓储绑定到同一个 querier
type sqlRepositories struct {
	products  *productRepo
	ledger    *stockLedgerRepo
	orders    *orderRepo
	discounts *discountRepo
	refunds   *refundRepo
}

func newSQLRepositories(q querier) *sqlRepositories {
	return &sqlRepositories{
		products:  &productRepo{q: q},
		ledger:    &stockLedgerRepo{q: q},
		orders:    &orderRepo{q: q},
		discounts: &discountRepo{q: q},
		refunds:   &refundRepo{q: q},
	}
}

func (r *sqlRepositories) Products() ProductRepository { return r.products }
func (r *sqlRepositories) Ledger() StockLedgerRepository { return r.ledger }
func (r *sqlRepositories) Orders() OrderRepository { return r.orders }
func (r *sqlRepositories) Discounts() DiscountRepository { return r.discounts }
func (r *sqlRepositories) Refunds() RefundRepository { return r.refunds }

// mysqlStore 是 Store 的 MySQL 实现
type mysqlStore struct {
	*sqlRepositories
	db *sql.DB
}

// NewMySQLStore 创建 MySQL 持久化实例
func NewMySQLStore(db *sql.DB) Store {
	return &mysqlStore{sqlRepositories: newSQLRepositories(db), db: db}
}

// WithTx 开启 READ COMMITTED 事务执行 fn。
// 需要串行化的行通过 SELECT ... FOR UPDATE 加锁。
func (s *mysqlStore) WithTx(ctx context.Context, fn TxFunc) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, newSQLRepositories(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping 检查数据库连通性
func (s *mysqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
