package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type User struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	Email       string       `json:"email" gorm:"type:text;not null"`
	DisplayName string       `json:"display_name" gorm:"type:text"`
	KYCVerified bool         `json:"kyc_verified" gorm:"not null;default:false"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
}

func (User) TableName() string { return "users" }

var ErrNotFound = errors.New("user_not_found")

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
}
