package services

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"number-shop-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const referralCodeLen = 8

const referralCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var ErrCodeNotFound = errors.New("referral code not found")

// ReferralService maps users to their stable share codes and resolves
// incoming codes back to the referrer.
type ReferralService struct {
	DB *gorm.DB
}

func NewReferralService(db *gorm.DB) *ReferralService {
	return &ReferralService{DB: db}
}

// GetOrCreateCode returns the user's share code, generating one on first
// request. A freshly generated code that collides with an existing one (ours
// via pre-check, or a concurrent insert via the unique index) triggers
// regeneration. Once assigned, the code never changes.
func (s *ReferralService) GetOrCreateCode(userID int64) (string, error) {
	var link models.ReferralLink
	err := s.DB.First(&link, "owner_id = ?", userID).Error
	if err == nil {
		return link.Code, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	for attempt := 0; attempt < 10; attempt++ {
		code, err := generateReferralCode()
		if err != nil {
			return "", err
		}

		var count int64
		if err := s.DB.Model(&models.ReferralLink{}).Where("code = ?", code).Count(&count).Error; err != nil {
			return "", err
		}
		if count > 0 {
			continue
		}

		link = models.ReferralLink{
			ID:      uuid.NewString(),
			OwnerID: userID,
			Code:    code,
		}
		if err := s.DB.Create(&link).Error; err != nil {
			// Lost a race on either unique index: re-read the owner's code,
			// otherwise retry with a fresh one.
			var existing models.ReferralLink
			if gerr := s.DB.First(&existing, "owner_id = ?", userID).Error; gerr == nil {
				return existing.Code, nil
			}
			continue
		}
		return link.Code, nil
	}
	return "", fmt.Errorf("could not generate a unique referral code for user %d", userID)
}

// ResolveCode returns the owner of a share code.
func (s *ReferralService) ResolveCode(code string) (int64, error) {
	var link models.ReferralLink
	if err := s.DB.First(&link, "code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrCodeNotFound
		}
		return 0, err
	}
	return link.OwnerID, nil
}

func generateReferralCode() (string, error) {
	buf := make([]byte, referralCodeLen)
	max := big.NewInt(int64(len(referralCodeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = referralCodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
