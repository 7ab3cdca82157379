package domain

// Product is a stored catalog product. ParseURL is the external identity key:
// reconciliation matches parsed rows against stored products by it alone.
type Product struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	Slug           string   `json:"slug"`
	ParseURL       string   `json:"parse_url"`
	TonPrice       float64  `json:"ton_price"`
	CustomTonPrice *float64 `json:"custom_ton_price,omitempty"`
	MeterPrice     float64  `json:"meter_price"`
	UnitPrice      float64  `json:"unit_price"`
	InStock        bool     `json:"in_stock"`
	IsPublished    bool     `json:"is_published"`

	// Remote basket identifiers, needed for the meter-weight endpoint.
	IDT string `json:"idt,omitempty"`
	IDF string `json:"idf,omitempty"`
	IDB string `json:"idb,omitempty"`
}

// EffectiveTonPrice is the single input used for derived pricing: the manual
// override when set and nonzero, the parsed price otherwise.
func (p *Product) EffectiveTonPrice() float64 {
	if p.CustomTonPrice != nil && *p.CustomTonPrice != 0 {
		return *p.CustomTonPrice
	}
	return p.TonPrice
}

// ParsedProduct is one deduplicated row of a category listing page.
type ParsedProduct struct {
	InStock  bool    `json:"in_stock"`
	Name     string  `json:"name"`
	ParseURL string  `json:"parse_url"`
	Size     string  `json:"size"`
	Mark     string  `json:"mark"`
	Length   string  `json:"length"`
	IDT      string  `json:"idt"`
	IDF      string  `json:"idf"`
	IDB      string  `json:"idb"`
	Price    float64 `json:"price"`
}

// ReconcileSummary is the operator-visible result of one category run.
type ReconcileSummary struct {
	CategoryID int64 `json:"category_id"`
	Parsed     int   `json:"parsed"`
	Updated    int   `json:"updated"`
	Created    int   `json:"created"`
	Retired    int   `json:"retired"`
}
