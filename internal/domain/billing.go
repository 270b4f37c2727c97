package domain

// PlanPrice is the platform view of a standing recurring price in the
// processor's catalog.
type PlanPrice struct {
	ID          string    `json:"id"`
	LookupKey   string    `json:"lookup_key"`
	Level       PlanLevel `json:"level"`
	UnitAmount  int64     `json:"unit_amount"`
	Currency    string    `json:"currency"`
	Interval    string    `json:"interval"`
	ProductName string    `json:"product_name,omitempty"`
}

// Address is a postal address as returned by the payment processor.
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// ShippingDetails is a customer's shipping sub-object. May be entirely absent
// on the processor side, in which case lookups return nil.
type ShippingDetails struct {
	Name    string   `json:"name,omitempty"`
	Phone   string   `json:"phone,omitempty"`
	Address *Address `json:"address,omitempty"`
}
