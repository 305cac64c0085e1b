package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

// SecureToken backs every login-free storefront link. customer_id is null
// only for registration tokens, where phone_number scopes the record instead.
type SecureToken struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Token       string            `gorm:"type:text;uniqueIndex;not null"`
	Type        string            `gorm:"type:text;not null;index"`
	WorkspaceID string            `gorm:"type:text;not null;index"`
	CustomerID  *string           `gorm:"type:text"`
	UserID      *string           `gorm:"type:text"`
	PhoneNumber *string           `gorm:"type:text"`
	IPAddress   *string           `gorm:"type:text"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb"`
	ExpiresAt   time.Time         `gorm:"type:timestamptz;not null;index"`
	UsedAt      *time.Time        `gorm:"type:timestamptz"`
	CreatedAt   time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (SecureToken) TableName() string { return "secure_tokens" }

// The partial unique indexes are the dedup-key constraints the issuer's
// ON CONFLICT upsert targets; AutoMigrate cannot express the predicates, so
// they are created with raw SQL.
const (
	createCustomerScopeIndex = `
        CREATE UNIQUE INDEX IF NOT EXISTS ux_secure_tokens_customer_scope
        ON secure_tokens (workspace_id, customer_id, type)
        WHERE customer_id IS NOT NULL;
    `
	createPhoneScopeIndex = `
        CREATE UNIQUE INDEX IF NOT EXISTS ux_secure_tokens_phone_scope
        ON secure_tokens (workspace_id, phone_number, type)
        WHERE customer_id IS NULL;
    `
)

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(&SecureToken{}); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, createCustomerScopeIndex); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, createPhoneScopeIndex); err != nil {
		return err
	}

	return nil
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(&SecureToken{})
}
