package store

import (
	"context"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mollie-ideal/models"
)

var (
	ErrNotFound             = models.ErrNotFound
	ErrStateConflict        = models.ErrStateConflict
	ErrNotCancelable        = models.ErrNotCancelable
	ErrDuplicateTransaction = models.ErrDuplicateTransaction
)

type txKey struct{}

// Repository stores orders, payment records and carts in one relational database
type Repository struct {
	db *gorm.DB
}

// Open connects to the database for the given driver
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// sqlite allows one writer; serialize instead of failing with "database is locked"
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate creates or updates the schema
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.PaymentTransaction{},
		&models.Order{},
		&models.OrderItem{},
		&models.OrderStateHistory{},
		&models.OrderPaymentTransaction{},
		&models.CartItem{},
	)
}

// Migrate creates or updates the schema of the wrapped database
func (r *Repository) Migrate() error {
	return Migrate(r.db)
}

// New wraps an open database
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithinTx runs fn in one database transaction carried by the context.
// Nested calls join the outer transaction.
func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (r *Repository) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
