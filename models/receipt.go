package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type VerificationStatus string

const (
	VerificationStatusPending    VerificationStatus = "pending"
	VerificationStatusProcessing VerificationStatus = "processing"
	VerificationStatusSuccess    VerificationStatus = "success"
	VerificationStatusRejected   VerificationStatus = "rejected"
	VerificationStatusFailed     VerificationStatus = "failed"
)

func (s VerificationStatus) IsTerminal() bool {
	switch s {
	case VerificationStatusSuccess, VerificationStatusRejected, VerificationStatusFailed:
		return true
	}
	return false
}

// ReceiptKey identifies one printed fiscal receipt nationwide.
type ReceiptKey struct {
	FiscalStorageNumber  string `json:"fn"`
	FiscalDocumentNumber string `json:"fd"`
	FiscalSign           string `json:"fp"`
}

func (k ReceiptKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.FiscalStorageNumber, k.FiscalDocumentNumber, k.FiscalSign)
}

func (k ReceiptKey) IsZero() bool {
	return k.FiscalStorageNumber == "" && k.FiscalDocumentNumber == "" && k.FiscalSign == ""
}

type VerificationRequest struct {
	ID               string             `json:"id" gorm:"primaryKey;type:uuid"`
	FN               string             `json:"fn" gorm:"column:fn;not null;uniqueIndex:idx_verification_receipt_key"`
	FD               string             `json:"fd" gorm:"column:fd;not null;uniqueIndex:idx_verification_receipt_key"`
	FP               string             `json:"fp" gorm:"column:fp;not null;uniqueIndex:idx_verification_receipt_key"`
	Sum              string             `json:"sum" gorm:"not null"`
	SumMinor         int64              `json:"sum_minor" gorm:"not null"`
	ReceiptDate      time.Time          `json:"receipt_date" gorm:"not null"`
	OperationType    string             `json:"operation_type" gorm:"not null;default:'1'"`
	TenantID         string             `json:"tenant_id" gorm:"type:uuid;not null;index"`
	CustomerID       *string            `json:"customer_id" gorm:"type:uuid;index"`
	Status           VerificationStatus `json:"status" gorm:"not null;default:'pending';index"`
	Attempts         int                `json:"attempts" gorm:"not null;default:0"`
	LastAttemptAt    *time.Time         `json:"last_attempt_at"`
	TicketID         string             `json:"ticket_id"`
	CashbackAmount   int64              `json:"cashback_amount" gorm:"not null;default:0"`
	CashbackAwarded  bool               `json:"cashback_awarded" gorm:"not null;default:false"`
	IsValid          *bool              `json:"is_valid"`
	IsReturn         *bool              `json:"is_return"`
	IsFake           *bool              `json:"is_fake"`
	ErrorCode        string             `json:"error_code"`
	LastError        string             `json:"last_error"`
	RegistryResponse datatypes.JSON     `json:"registry_response" gorm:"type:jsonb"`
	CreatedAt        time.Time          `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time          `json:"updated_at" gorm:"autoUpdateTime"`
}

func (VerificationRequest) TableName() string {
	return "verification_requests"
}

func (r *VerificationRequest) Key() ReceiptKey {
	return ReceiptKey{FiscalStorageNumber: r.FN, FiscalDocumentNumber: r.FD, FiscalSign: r.FP}
}

// ReceiptItem is one line of a receipt as returned by the registry.
// Price and Sum are in minor units (kopecks).
type ReceiptItem struct {
	Name        string  `json:"name"`
	ProductCode string  `json:"product_code,omitempty"`
	Price       int64   `json:"price"`
	Quantity    float64 `json:"quantity"`
	Sum         int64   `json:"sum"`
}

type ScanRequest struct {
	QR string `json:"qr"`
}

type ScanResponse struct {
	RequestID *string            `json:"requestId"`
	Status    VerificationStatus `json:"status"`
	Message   string             `json:"message"`
}

type VerificationStatusResponse struct {
	RequestID       string             `json:"requestId"`
	Status          VerificationStatus `json:"status"`
	CashbackAmount  *int64             `json:"cashbackAmount,omitempty"`
	CashbackAwarded *bool              `json:"cashbackAwarded,omitempty"`
	IsValid         *bool              `json:"isValid,omitempty"`
	IsReturn        *bool              `json:"isReturn,omitempty"`
	IsFake          *bool              `json:"isFake,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

func BuildVerificationStatusResponse(r *VerificationRequest) *VerificationStatusResponse {
	resp := &VerificationStatusResponse{
		RequestID: r.ID,
		Status:    r.Status,
		IsValid:   r.IsValid,
		IsReturn:  r.IsReturn,
		IsFake:    r.IsFake,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Status == VerificationStatusSuccess {
		amount := r.CashbackAmount
		awarded := r.CashbackAwarded
		resp.CashbackAmount = &amount
		resp.CashbackAwarded = &awarded
	}
	return resp
}

type VerificationFilter struct {
	TenantID   string
	CustomerID string
	Status     VerificationStatus
	Limit      int
	Offset     int
}
