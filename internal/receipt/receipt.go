// Package receipt renders the booking receipt a student can download after
// submitting payment evidence.
package receipt

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phpdave11/gofpdf"

	"github.com/hongminglow/hostel-portal/internal/models"
)

// Data is everything printed on a receipt.
type Data struct {
	Transaction models.BookingTransaction
	StudentName string
	Email       string
	GeneratedAt time.Time
}

// Build renders d as a PDF and returns it with a suggested file name. Only
// confirmed transactions have a receipt.
func Build(d Data) ([]byte, string, error) {
	tx := d.Transaction
	if tx.Step != models.StepConfirmed {
		return nil, "", errors.New("receipt is only available after payment submission")
	}
	if d.GeneratedAt.IsZero() {
		d.GeneratedAt = time.Now()
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Hostel Booking Receipt", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "HOSTEL BOOKING RECEIPT")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 7, "Receipt No  : "+receiptNumber(tx))
	pdf.Ln(7)
	pdf.Cell(0, 7, "Generated   : "+d.GeneratedAt.Format("2006-01-02 15:04"))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 7, "Student:")
	pdf.Ln(7)
	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 7, fmt.Sprintf("Name   : %s", safe(d.StudentName, "-")))
	pdf.Ln(7)
	pdf.Cell(0, 7, fmt.Sprintf("Email  : %s", safe(d.Email, "-")))
	pdf.Ln(10)

	room := tx.Room
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 7, "Room:")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 11)
	desc := fmt.Sprintf("%s, %s (%d per room, %s mess)",
		safe(room.Category, "-"), safe(room.Location, "-"), room.PaxPerRoom, safe(room.Menu, "-"))
	pdf.MultiCell(0, 6, desc, "", "", false)
	pdf.Ln(2)

	pdf.Cell(0, 6, "Transaction reference : "+safe(tx.TransactionReference, "-"))
	pdf.Ln(6)
	if tx.PaymentID != 0 {
		pdf.Cell(0, 6, fmt.Sprintf("Payment ID            : %d", tx.PaymentID))
		pdf.Ln(6)
	}
	if !tx.SubmittedAt.IsZero() {
		pdf.Cell(0, 6, "Submitted             : "+tx.SubmittedAt.Format("2006-01-02 15:04"))
		pdf.Ln(6)
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Amount: "+FormatAmount(tx.PaymentAmount))
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "I", 10)
	pdf.MultiCell(0, 6, "Status: pending admin review. Your room is confirmed once the hostel office verifies the payment.", "", "", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", fmt.Errorf("render receipt: %w", err)
	}
	filename := fmt.Sprintf("RECEIPT_%s_%s.pdf", receiptNumber(tx), safeFilenamePart(d.StudentName))
	return buf.Bytes(), filename, nil
}

// FormatAmount renders whole rupees with thousands separators.
func FormatAmount(v int64) string {
	if v <= 0 {
		return "Rs. 0"
	}
	s := fmt.Sprintf("%d", v)
	var out []byte
	n := len(s)
	for i := 0; i < n; i++ {
		out = append(out, s[i])
		pos := n - i - 1
		if pos > 0 && pos%3 == 0 {
			out = append(out, ',')
		}
	}
	return "Rs. " + string(out)
}

func receiptNumber(tx models.BookingTransaction) string {
	if tx.PaymentID != 0 {
		return fmt.Sprintf("HB-%d", tx.PaymentID)
	}
	id := tx.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "HB-" + strings.ToUpper(safe(id, "NA"))
}

func safe(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	return v
}

func safeFilenamePart(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "NA"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_")
	s = replacer.Replace(s)
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}
