package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/malwarebo/cashback/models"
)

var errInvalidTicket = errors.New("invalid ticket")

type ticketItem struct {
	Name        *string  `json:"name"`
	Price       *int64   `json:"price"`
	Quantity    *float64 `json:"quantity"`
	Sum         *int64   `json:"sum"`
	ProductCode string   `json:"productCode"`
}

type ticketReceipt struct {
	OperationType *int         `json:"operationType"`
	TotalSum      *int64       `json:"totalSum"`
	Items         []ticketItem `json:"items"`
}

type ticketDocument struct {
	Content  *ticketReceipt `json:"content"`
	Document *struct {
		Receipt *ticketReceipt `json:"receipt"`
	} `json:"document"`
}

// parsedTicket is a validated registry ticket. Money is in kopecks.
type parsedTicket struct {
	OperationType int
	TotalSum      int64
	Items         []models.ReceiptItem
	IsReturn      bool
}

// parseTicket validates the ticket against the fields the pipeline relies on.
// Unknown fields are ignored; missing required ones fail the whole ticket.
func parseTicket(raw []byte) (*parsedTicket, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, fmt.Errorf("%w: empty", errInvalidTicket)
	}

	var doc ticketDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidTicket, err)
	}

	receipt := doc.Content
	if receipt == nil && doc.Document != nil {
		receipt = doc.Document.Receipt
	}
	if receipt == nil {
		return nil, fmt.Errorf("%w: no receipt body", errInvalidTicket)
	}
	if receipt.OperationType == nil {
		return nil, fmt.Errorf("%w: operationType missing", errInvalidTicket)
	}
	if receipt.TotalSum == nil {
		return nil, fmt.Errorf("%w: totalSum missing", errInvalidTicket)
	}
	if receipt.Items == nil {
		return nil, fmt.Errorf("%w: items missing", errInvalidTicket)
	}

	ticket := &parsedTicket{
		OperationType: *receipt.OperationType,
		TotalSum:      *receipt.TotalSum,
		Items:         make([]models.ReceiptItem, 0, len(receipt.Items)),
	}

	negative := ticket.TotalSum < 0
	for i, item := range receipt.Items {
		if item.Name == nil || item.Price == nil || item.Quantity == nil || item.Sum == nil {
			return nil, fmt.Errorf("%w: item %d incomplete", errInvalidTicket, i)
		}
		if *item.Sum < 0 || *item.Price < 0 || *item.Quantity < 0 {
			negative = true
		}
		ticket.Items = append(ticket.Items, models.ReceiptItem{
			Name:        *item.Name,
			ProductCode: item.ProductCode,
			Price:       *item.Price,
			Quantity:    *item.Quantity,
			Sum:         *item.Sum,
		})
	}

	ticket.IsReturn = negative || ticket.OperationType == 2 || ticket.OperationType == 4
	return ticket, nil
}

// detectReturn reads only the return signals of a ticket, so a return is
// recognized even when the rest of the payload is incomplete.
func detectReturn(raw []byte) bool {
	var doc ticketDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false
	}
	receipt := doc.Content
	if receipt == nil && doc.Document != nil {
		receipt = doc.Document.Receipt
	}
	if receipt == nil {
		return false
	}

	if op := receipt.OperationType; op != nil && (*op == 2 || *op == 4) {
		return true
	}
	if receipt.TotalSum != nil && *receipt.TotalSum < 0 {
		return true
	}
	for _, item := range receipt.Items {
		if (item.Sum != nil && *item.Sum < 0) || (item.Price != nil && *item.Price < 0) {
			return true
		}
	}
	return false
}

// evaluateTicket turns a completed GetTicket result into an outcome.
func evaluateTicket(code int, message, ticket string) *models.RegistryOutcome {
	outcome := &models.RegistryOutcome{
		ResultCode: code,
		Message:    message,
	}
	if json.Valid([]byte(ticket)) {
		outcome.Ticket = json.RawMessage(ticket)
	}

	if code != 200 {
		outcome.Status = models.OutcomeRejected
		outcome.Inconclusive = true
		outcome.IsFake = code == 404
		if outcome.Message == "" {
			outcome.Message = fmt.Sprintf("registry result code %d", code)
		}
		return outcome
	}

	parsed, err := parseTicket([]byte(ticket))
	if err != nil {
		outcome.Status = models.OutcomeRejected
		outcome.Message = err.Error()
		if detectReturn([]byte(ticket)) {
			outcome.IsReturn = true
			outcome.Message = "receipt is a return: " + err.Error()
		} else {
			outcome.Inconclusive = true
		}
		return outcome
	}

	outcome.Items = parsed.Items
	outcome.TotalSum = parsed.TotalSum
	outcome.IsReturn = parsed.IsReturn
	if parsed.IsReturn {
		outcome.Status = models.OutcomeRejected
		outcome.Message = "receipt is a return"
		return outcome
	}

	outcome.Status = models.OutcomeSuccess
	return outcome
}
