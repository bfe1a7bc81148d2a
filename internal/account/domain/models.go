package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Account is one end user, keyed by the identity provider subject.
// Created lazily on the first authenticated request and never deleted.
type Account struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	ExternalSubject string       `json:"external_subject" gorm:"type:text;not null;uniqueIndex:ux_accounts_external_subject"`
	Email           string       `json:"email" gorm:"type:text;not null"`
	CreatedAt       time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time    `json:"updated_at" gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

type Service interface {
	// Ensure resolves the account for an external identity, creating it
	// (and its zero balance) on first use. Safe under concurrent calls
	// for the same subject.
	Ensure(ctx context.Context, externalSubject, email string) (Account, error)
	GetByID(ctx context.Context, id snowflake.ID) (Account, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) (bool, error)
	FindBySubject(ctx context.Context, db *gorm.DB, externalSubject string) (*Account, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
}

var (
	ErrInvalidSubject = errors.New("invalid_subject")
	ErrNotFound       = errors.New("account_not_found")
)
