package events

// PaymentPayload is the body of every payment.* event. Amount strings carry
// two fractional digits exactly as priced at checkout; they are empty when the
// processor event did not carry checkout metadata.
type PaymentPayload struct {
	ProcessorEventID string   `json:"processorEventId"`
	IntentID         string   `json:"intentId"`
	Status           string   `json:"status"`
	Currency         string   `json:"currency"`
	AmountMinor      int64    `json:"amountMinor"`
	BaseAmount       string   `json:"baseAmount,omitempty"`
	TaxAmount        string   `json:"taxAmount,omitempty"`
	TotalAmount      string   `json:"totalAmount,omitempty"`
	TaxRate          string   `json:"taxRate,omitempty"`
	ProductID        string   `json:"productId,omitempty"`
	Email            string   `json:"email,omitempty"`
	Name             string   `json:"name,omitempty"`
	Phone            string   `json:"phone,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	FailureReason    string   `json:"failureReason,omitempty"`
}
