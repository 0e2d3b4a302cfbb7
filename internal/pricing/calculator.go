// Package pricing turns a vehicle's rate table and a rental range into an
// itemized quote. It performs no I/O.
package pricing

import (
	"errors"
	"fmt"

	"ms-rental/internal/models"
)

var (
	ErrInvalidRange    = errors.New("invalid date range")
	ErrUnknownResource = errors.New("no rate table for resource")
	ErrUnknownOption   = errors.New("unknown option")
)

// Tier labels.
const (
	TierSameDay  = "same_day"
	TierOneNight = "1n"
	TierTwo      = "2n"
	TierThree    = "3n"
	TierFourPlus = "4n+"
)

// Quote prices r against rates. Options are itemized in models.KnownOptions
// order regardless of the order they were selected in, and duplicates count once.
func Quote(rates *models.RateTable, r models.DateRange, options []models.Option) (models.Quote, error) {
	if rates == nil {
		return models.Quote{}, ErrUnknownResource
	}
	if r.End.Before(r.Start) {
		return models.Quote{}, fmt.Errorf("%w: %s", ErrInvalidRange, r)
	}

	selected := make(map[models.Option]bool, len(options))
	for _, o := range options {
		if unitPrice(rates, o) < 0 {
			return models.Quote{}, fmt.Errorf("%w: %q", ErrUnknownOption, o)
		}
		selected[o] = true
	}

	nights := r.Nights()
	tier, tierPrice := tierFor(rates, nights)

	q := models.Quote{
		Nights: nights,
		Tier:   tier,
		Items: []models.LineItem{{
			Code:      "rental:" + tier,
			UnitPrice: tierPrice,
			Units:     1,
			Amount:    tierPrice,
		}},
	}

	// Add-ons are charged per day; a same-day rental counts as one.
	units := nights
	if units < 1 {
		units = 1
	}
	for _, o := range models.KnownOptions {
		if !selected[o] {
			continue
		}
		unit := unitPrice(rates, o)
		q.Items = append(q.Items, models.LineItem{
			Code:      "option:" + string(o),
			UnitPrice: unit,
			Units:     units,
			Amount:    unit * int64(units),
		})
	}

	for _, item := range q.Items {
		q.Total += item.Amount
	}
	return q, nil
}

func tierFor(rates *models.RateTable, nights int) (string, int64) {
	switch {
	case nights == 0:
		return TierSameDay, rates.SameDay
	case nights == 1:
		return TierOneNight, rates.OneNight
	case nights == 2:
		return TierTwo, rates.TwoNights
	case nights == 3:
		return TierThree, rates.ThreeNights
	default:
		return TierFourPlus, rates.FourPlus
	}
}

// unitPrice returns -1 for options the rate table does not know.
func unitPrice(rates *models.RateTable, o models.Option) int64 {
	switch o {
	case models.OptionChildSeat:
		return rates.ChildSeat
	case models.OptionInsurance:
		return rates.Insurance
	default:
		return -1
	}
}
