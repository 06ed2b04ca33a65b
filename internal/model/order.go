package model

// PaymentMethod selects the fulfillment path at checkout.
type PaymentMethod string

const (
	PayOnDelivery PaymentMethod = "pay_on_delivery"
	OnlinePayment PaymentMethod = "online_payment"
)

// Valid reports whether m is a supported method.
func (m PaymentMethod) Valid() bool {
	return m == PayOnDelivery || m == OnlinePayment
}

// Address is a postal address used for shipping and billing.
type Address struct {
	FullName     string `json:"full_name"`
	Phone        string `json:"phone"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country,omitempty"`
}

// ContactInfo is required for anonymous checkout only.
type ContactInfo struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// OrderDraft is the checkout submission payload.
type OrderDraft struct {
	Contact         *ContactInfo  `json:"contact,omitempty"`
	ShippingAddress Address       `json:"shipping_address"`
	BillingAddress  Address       `json:"billing_address"`
	PaymentMethod   PaymentMethod `json:"payment_method"`
	Notes           string        `json:"notes,omitempty"`
}

// PlacedOrder is the server-confirmed checkout result.
type PlacedOrder struct {
	OrderNumber   string        `json:"order_number"`
	TotalAmount   int64         `json:"total_amount"` // minor units
	PaymentMethod PaymentMethod `json:"payment_method"`
	Status        string        `json:"status"`
	CustomerEmail string        `json:"customer_email,omitempty"`
}

// PaymentIntent is a single-use handshake issued by the backend.
type PaymentIntent struct {
	GatewayOrderID    string `json:"gateway_order_id"`
	Amount            int64  `json:"amount"` // minor units
	Currency          string `json:"currency"`
	GatewayAccountKey string `json:"gateway_account_key"`
}

// PaymentReceipt is the signed result returned by the gateway on success.
type PaymentReceipt struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}
