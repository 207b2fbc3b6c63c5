package domain

// FreePlanID is the plan a user selects to stay on the free tier. It is never
// sold through the payment processor.
const FreePlanID = "free"

// Currency is the ISO code all plans are billed in.
const Currency = "BRL"

// StatementDescriptor is what appears on the buyer's card statement.
const StatementDescriptor = "HARMONI PREMIUM"

// Plan is a purchasable subscription plan.
type Plan struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`        // in Currency, e.g. 19.90
	Months      int     `json:"months"`       // length of the paid period
	Popular     bool    `json:"popular"`      // show "Most Popular" badge
	MonthlyHint float64 `json:"monthlyPrice"` // price per month for display
}

// Plans returns the server-held price table. Clients fetch it from
// GET /api/plans instead of hard-coding prices.
func Plans() []Plan {
	return []Plan{
		{
			ID:          "premium-monthly",
			Title:       "Harmoni Premium - Mensal",
			Description: "Assinatura mensal do Harmoni Premium com todos os recursos",
			Price:       19.90,
			Months:      1,
			MonthlyHint: 19.90,
		},
		{
			ID:          "premium-yearly",
			Title:       "Harmoni Premium - Anual",
			Description: "Assinatura anual do Harmoni Premium com 50% de desconto",
			Price:       118.80,
			Months:      12,
			Popular:     true,
			MonthlyHint: 9.90,
		},
	}
}

// LookupPlan returns the plan for id. Unlike a lookup with a default, an
// unknown id is reported so callers can reject it.
func LookupPlan(id string) (Plan, bool) {
	for _, p := range Plans() {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}
