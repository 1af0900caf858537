package models

// ReferralLink maps a stable 8-character share code to its owner. Created
// lazily the first time a user asks for their code, immutable afterwards.
type ReferralLink struct {
	ID      string `gorm:"primaryKey;type:uuid" json:"id"`
	OwnerID int64  `gorm:"uniqueIndex;not null" json:"owner_id"`
	Code    string `gorm:"uniqueIndex;type:varchar(8);not null" json:"code"`

	Timestamps
}
