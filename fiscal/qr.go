// Package fiscal decodes the QR payload printed on fiscal receipts.
package fiscal

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/malwarebo/cashback/models"
	"github.com/shopspring/decimal"
)

var ErrMalformedQR = errors.New("malformed receipt qr code")

const (
	OperationPurchase       = "1"
	OperationPurchaseReturn = "2"
	OperationExpense        = "3"
	OperationExpenseReturn  = "4"

	fiscalStorageNumberLength = 16

	// DateLayout is the canonical form emitted for the receipt date.
	DateLayout = "2006-01-02T15:04:05"
)

var requiredKeys = []string{"fn", "i", "fp", "s", "t"}

var qrDateLayouts = []string{"20060102T150405", "20060102T1504"}

type QRPayload struct {
	FN            string `json:"fn"`
	FD            string `json:"fd"`
	FP            string `json:"fp"`
	Sum           string `json:"sum"`
	Date          string `json:"date"`
	TypeOperation string `json:"typeOperation"`
}

func (p QRPayload) Key() models.ReceiptKey {
	return models.ReceiptKey{
		FiscalStorageNumber:  p.FN,
		FiscalDocumentNumber: p.FD,
		FiscalSign:           p.FP,
	}
}

// SumMinor returns the declared sum in kopecks.
func (p QRPayload) SumMinor() int64 {
	d, err := decimal.NewFromString(p.Sum)
	if err != nil {
		return 0
	}
	return d.Shift(2).IntPart()
}

func (p QRPayload) Time() time.Time {
	t, err := time.Parse(DateLayout, p.Date)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (p QRPayload) IsReturn() bool {
	return p.TypeOperation == OperationPurchaseReturn || p.TypeOperation == OperationExpenseReturn
}

// Decode parses a raw "fn=...&i=...&fp=...&s=...&t=...[&n=...]" payload.
func Decode(raw string) (QRPayload, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "?")
	if raw == "" {
		return QRPayload{}, fmt.Errorf("%w: empty payload", ErrMalformedQR)
	}

	values, err := url.ParseQuery(raw)
	if err != nil {
		return QRPayload{}, fmt.Errorf("%w: %v", ErrMalformedQR, err)
	}

	for _, key := range requiredKeys {
		if strings.TrimSpace(values.Get(key)) == "" {
			return QRPayload{}, fmt.Errorf("%w: missing %q", ErrMalformedQR, key)
		}
	}

	fn := strings.TrimSpace(values.Get("fn"))
	if len(fn) != fiscalStorageNumberLength || !isDigits(fn) {
		return QRPayload{}, fmt.Errorf("%w: fn must be %d digits", ErrMalformedQR, fiscalStorageNumberLength)
	}

	fd := strings.TrimSpace(values.Get("i"))
	if !isDigits(fd) {
		return QRPayload{}, fmt.Errorf("%w: i must be numeric", ErrMalformedQR)
	}

	fp := strings.TrimSpace(values.Get("fp"))
	if !isDigits(fp) {
		return QRPayload{}, fmt.Errorf("%w: fp must be numeric", ErrMalformedQR)
	}

	sum := strings.TrimSpace(values.Get("s"))
	if err := validateSum(sum); err != nil {
		return QRPayload{}, fmt.Errorf("%w: s %v", ErrMalformedQR, err)
	}

	date, err := parseDate(strings.TrimSpace(values.Get("t")))
	if err != nil {
		return QRPayload{}, fmt.Errorf("%w: t %v", ErrMalformedQR, err)
	}

	op := OperationPurchase
	if values.Has("n") {
		op = strings.TrimSpace(values.Get("n"))
		switch op {
		case OperationPurchase, OperationPurchaseReturn, OperationExpense, OperationExpenseReturn:
		default:
			return QRPayload{}, fmt.Errorf("%w: unknown operation type %q", ErrMalformedQR, op)
		}
	}

	return QRPayload{
		FN:            fn,
		FD:            fd,
		FP:            fp,
		Sum:           sum,
		Date:          date.Format(DateLayout),
		TypeOperation: op,
	}, nil
}

func parseDate(value string) (time.Time, error) {
	for _, layout := range qrDateLayouts {
		if len(value) != len(layout) {
			continue
		}
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("must be YYYYMMDDTHHMM[SS], got %q", value)
}

func validateSum(value string) error {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return fmt.Errorf("is not a decimal: %q", value)
	}
	if d.IsNegative() {
		return fmt.Errorf("is negative: %q", value)
	}
	if d.Exponent() < -2 {
		return fmt.Errorf("has more than two fraction digits: %q", value)
	}
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
