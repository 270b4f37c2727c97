package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArticlePurchasePrice(t *testing.T) {
	premium := Article{AccessLevel: AccessLevelPremium}
	price, err := premium.PurchasePrice()
	require.NoError(t, err)
	assert.Equal(t, int64(499), price)

	standard := Article{AccessLevel: AccessLevelStandard}
	price, err = standard.PurchasePrice()
	require.NoError(t, err)
	assert.Equal(t, int64(199), price)

	free := Article{AccessLevel: AccessLevelFree}
	_, err = free.PurchasePrice()
	assert.ErrorIs(t, err, ErrArticleNotPurchasable)
}

func TestPaymentStatusEntitled(t *testing.T) {
	assert.True(t, PaymentStatusAuthorized.Entitled())
	assert.True(t, PaymentStatusSucceeded.Entitled())

	assert.False(t, PaymentStatusPending.Entitled())
	assert.False(t, PaymentStatusFailed.Entitled())
	assert.False(t, PaymentStatusCanceled.Entitled())
}
