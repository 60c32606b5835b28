package services

import (
	"github.com/malwarebo/cashback/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// AwardItem is one receipt line's contribution to a cashback award.
type AwardItem struct {
	ProductID     string `json:"product_id"`
	OfferID       string `json:"offer_id"`
	ItemName      string `json:"item_name"`
	MatchedAmount int64  `json:"matched_amount"`
}

type CashbackResult struct {
	Total           int64          `json:"total"`
	Items           []AwardItem    `json:"items"`
	AppliedOfferIDs []string       `json:"applied_offer_ids"`
	AppliedCounts   map[string]int `json:"applied_counts"`
}

// CashbackEngine computes cashback for verified receipt lines. It is pure and safe for concurrent use.
type CashbackEngine struct {
	threshold float64
}

func CreateCashbackEngine(similarityThreshold float64) *CashbackEngine {
	if similarityThreshold <= 0 || similarityThreshold > 1 {
		similarityThreshold = DefaultSimilarityThreshold
	}
	return &CashbackEngine{threshold: similarityThreshold}
}

// Calculate picks, for every line, the matching offer that pays the most.
// Offers are expected to be active at the receipt date already.
func (e *CashbackEngine) Calculate(items []models.ReceiptItem, offers []*models.Offer) CashbackResult {
	result := CashbackResult{
		Items:           []AwardItem{},
		AppliedOfferIDs: []string{},
		AppliedCounts:   make(map[string]int),
	}

	for _, item := range items {
		best, ok := e.bestOffer(item, offers)
		if !ok {
			continue
		}

		result.Items = append(result.Items, best)
		result.Total += best.MatchedAmount
		if result.AppliedCounts[best.OfferID] == 0 {
			result.AppliedOfferIDs = append(result.AppliedOfferIDs, best.OfferID)
		}
		result.AppliedCounts[best.OfferID]++
	}

	return result
}

func (e *CashbackEngine) bestOffer(item models.ReceiptItem, offers []*models.Offer) (AwardItem, bool) {
	var best AwardItem
	found := false

	for _, offer := range offers {
		if offer == nil || !offer.Profit.IsPositive() || len(offer.Products) == 0 {
			continue
		}

		product, ok := matchProduct(item, offer.Products, e.threshold)
		if !ok {
			continue
		}
		if !conditionSatisfied(offer.Condition, item) {
			continue
		}

		amount := payableAmount(offer, item)
		if amount <= 0 {
			continue
		}
		// strictly greater keeps the earlier offer on ties
		if !found || amount > best.MatchedAmount {
			best = AwardItem{
				ProductID:     product.ID,
				OfferID:       offer.ID,
				ItemName:      item.Name,
				MatchedAmount: amount,
			}
			found = true
		}
	}

	return best, found
}

func payableAmount(offer *models.Offer, item models.ReceiptItem) int64 {
	switch offer.ProfitType {
	case models.ProfitTypeStatic:
		return offer.Profit.Round(0).IntPart()
	case models.ProfitTypeFrom:
		return lineTotal(item).Mul(offer.Profit).Div(hundred).Round(0).IntPart()
	default:
		return 0
	}
}

// lineTotal is the receipt line sum in major currency units.
func lineTotal(item models.ReceiptItem) decimal.Decimal {
	return decimal.New(item.Sum, -2)
}

func conditionSatisfied(cond models.OfferCondition, item models.ReceiptItem) bool {
	if !cond.IsSet() {
		return true
	}

	var value decimal.Decimal
	switch cond.Type {
	case models.ConditionTypeQuantity:
		value = decimal.NewFromFloat(item.Quantity)
	case models.ConditionTypeAmount:
		value = lineTotal(item)
	default:
		return false
	}

	aboveFrom := cond.From == nil || value.GreaterThanOrEqual(*cond.From)
	belowTo := cond.To == nil || value.LessThanOrEqual(*cond.To)

	switch cond.Comparator {
	case models.ComparatorFrom:
		return aboveFrom
	case models.ComparatorTo:
		return belowTo
	case models.ComparatorFromTo:
		return aboveFrom && belowTo
	default:
		return false
	}
}
