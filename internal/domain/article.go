package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccessLevel determines who may read an article and which price tier a
// one-off purchase of it uses.
type AccessLevel string

const (
	AccessLevelPremium  AccessLevel = "premium"
	AccessLevelStandard AccessLevel = "standard"
	AccessLevelFree     AccessLevel = "free"
)

// Valid reports whether the access level is one of the known values.
func (l AccessLevel) Valid() bool {
	switch l {
	case AccessLevelPremium, AccessLevelStandard, AccessLevelFree:
		return true
	}
	return false
}

// Article is an independent entity referenced by many purchases.
type Article struct {
	ID          uuid.UUID   `json:"id"`
	Title       string      `json:"title"`
	Content     string      `json:"content"`
	Image       string      `json:"image,omitempty"`
	AccessLevel AccessLevel `json:"access_level"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Price tiers for one-off article purchases, in minor currency units.
const (
	PremiumArticlePrice  int64 = 499
	StandardArticlePrice int64 = 199

	PurchaseCurrency = "usd"
)

// PurchasePrice returns the one-off price for the article's access level.
// Free articles are not purchasable.
func (a *Article) PurchasePrice() (int64, error) {
	switch a.AccessLevel {
	case AccessLevelPremium:
		return PremiumArticlePrice, nil
	case AccessLevelStandard:
		return StandardArticlePrice, nil
	default:
		return 0, ErrArticleNotPurchasable
	}
}
