package storage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Purchase is the journal row written for every committed purchase. Amounts
// are decimal strings in whole-token units.
type Purchase struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	Buyer         string    `gorm:"size:42;index"`
	PaymentToken  string    `gorm:"size:42"`
	Amount        string    `gorm:"size:80"`
	Price         string    `gorm:"size:80"`
	BaseTokens    string    `gorm:"size:80"`
	BonusTokens   string    `gorm:"size:80"`
	Rebate        string    `gorm:"size:80"`
	Referrer      string    `gorm:"size:42;index"`
	ReferrerBound bool
	NextPrice     string    `gorm:"size:80"`
	CreatedAt     time.Time `gorm:"index"`
}

// AdminAction records an owner operation and its parameters.
type AdminAction struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Actor     string    `gorm:"size:42;index"`
	Action    string    `gorm:"size:64;index"`
	Details   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}

// Nonce marks a signed-request nonce as consumed.
type Nonce struct {
	Address   string    `gorm:"primaryKey;size:42"`
	Value     string    `gorm:"primaryKey;size:128"`
	CreatedAt time.Time `gorm:"index"`
}

// AutoMigrate performs all schema migrations for the journal.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Purchase{},
		&AdminAction{},
		&Nonce{},
	)
}
