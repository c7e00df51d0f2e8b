package models

// PriceSource tells where a breakdown was computed.
type PriceSource string

const (
	PriceSourceLocal  PriceSource = "local"
	PriceSourceServer PriceSource = "server"
)

// PriceBreakdown is the itemized cost of a rental. It is derived, never stored.
// OverdueSurcharge = HourlyPenalty + ExtraDayCharge and
// Total = BasePrice + OverdueSurcharge + AddOnCost.
type PriceBreakdown struct {
	FullDays         int         `json:"fullDays"`
	ExtraHours       int         `json:"extraHours"`
	IsOverdue        bool        `json:"isOverdue"`
	BasePrice        int64       `json:"basePrice"`
	HourlyPenalty    int64       `json:"hourlyPenalty"`
	ExtraDayCharge   int64       `json:"extraDayCharge"`
	OverdueSurcharge int64       `json:"overdueSurcharge"`
	RaincoatCost     int64       `json:"raincoatCost"`
	HelmetCost       int64       `json:"helmetCost"`
	AddOnCost        int64       `json:"addOnCost"`
	Total            int64       `json:"total"`
	Source           PriceSource `json:"source,omitempty"`
}

// ChargedDays is the number of days billed at the daily rate, including an
// extra day charged for crossing the grace threshold.
func (p PriceBreakdown) ChargedDays() int {
	if p.ExtraDayCharge > 0 {
		return p.FullDays + 1
	}
	return p.FullDays
}

// Consistent reports whether the totals add up.
func (p PriceBreakdown) Consistent() bool {
	return p.OverdueSurcharge == p.HourlyPenalty+p.ExtraDayCharge &&
		p.AddOnCost == p.RaincoatCost+p.HelmetCost &&
		p.Total == p.BasePrice+p.OverdueSurcharge+p.AddOnCost
}

// AddOns holds the counts of optional extras.
type AddOns struct {
	Raincoats int `json:"raincoatCount"`
	Helmets   int `json:"helmetCount"`
}
