package receipt

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/hostel-portal/internal/models"
)

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "Rs. 0", FormatAmount(0))
	assert.Equal(t, "Rs. 800", FormatAmount(800))
	assert.Equal(t, "Rs. 8,000", FormatAmount(8000))
	assert.Equal(t, "Rs. 18,000", FormatAmount(18000))
	assert.Equal(t, "Rs. 1,234,567", FormatAmount(1234567))
}

func TestBuild(t *testing.T) {
	tx := models.BookingTransaction{
		ID:                   "3f2a9c1e-0000-4000-8000-000000000000",
		Room:                 models.Room{Category: "AC Double", Location: "BH1", Menu: models.MenuVeg, PaxPerRoom: 2},
		Step:                 models.StepConfirmed,
		PaymentAmount:        18000,
		TransactionReference: "UTR-5521",
		PaymentID:            314,
		SubmittedAt:          time.Date(2026, 7, 1, 10, 30, 0, 0, time.UTC),
	}

	pdf, name, err := Build(Data{Transaction: tx, StudentName: "Ravi Kumar", Email: "ravi@example.edu"})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))
	assert.Equal(t, "RECEIPT_HB-314_Ravi_Kumar.pdf", name)
}

func TestBuildRequiresConfirmedTransaction(t *testing.T) {
	_, _, err := Build(Data{Transaction: models.BookingTransaction{Step: models.StepOtpVerified}})
	assert.Error(t, err)
}

func TestReceiptNumberFallsBackToTransactionID(t *testing.T) {
	assert.Equal(t, "HB-3F2A9C1E", receiptNumber(models.BookingTransaction{ID: "3f2a9c1e-0000"}))
}
