package sender

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"payment-notify-go/internal/common"
	"payment-notify-go/internal/models"
)

const PaymentStatusCompleted = "completed"

type WebhookData struct {
	PaymentIntentId string `json:"payment_intent_id"`
	MerchantId      string `json:"merchant_id"`
	CustomerAddress string `json:"customer_address"`
	TokenAddress    string `json:"token_address"`
	Amount          string `json:"amount"`
	FormattedAmount string `json:"formatted_amount"`
	TransactionHash string `json:"transaction_hash"`
	BlockNumber     int64  `json:"block_number"`
	Status          string `json:"status"`
}

// WebhookPayload is the body POSTed to merchant webhook endpoints.
type WebhookPayload struct {
	EventId   string      `json:"event_id"`
	EventType string      `json:"event_type"`
	Timestamp string      `json:"timestamp"`
	Data      WebhookData `json:"data"`
	Signature string      `json:"signature,omitempty"`
}

func NewWebhookPayload(event models.PaymentEvent, tokens *common.TokenRegistry, at time.Time) WebhookPayload {
	return WebhookPayload{
		EventId:   event.EventId,
		EventType: models.EventTypePaymentCompleted,
		Timestamp: at.UTC().Format(time.RFC3339),
		Data: WebhookData{
			PaymentIntentId: event.PaymentIntentId,
			MerchantId:      event.MerchantId,
			CustomerAddress: event.PayerAddress,
			TokenAddress:    event.TokenAddress,
			Amount:          event.Amount.String(),
			FormattedAmount: tokens.Format(event.TokenAddress, event.Amount),
			TransactionHash: event.TxHash,
			BlockNumber:     event.BlockNumber,
			Status:          PaymentStatusCompleted,
		},
	}
}

// Encode signs the payload with secret and returns the wire body with the
// signature embedded, plus the signature itself.
func (p WebhookPayload) Encode(secret string) ([]byte, string, error) {
	p.Signature = ""
	unsigned, err := marshal(p)
	if err != nil {
		return nil, "", err
	}

	signature, err := SignPayload(unsigned, secret)
	if err != nil {
		return nil, "", err
	}

	p.Signature = signature
	body, err := marshal(p)
	if err != nil {
		return nil, "", err
	}
	return body, signature, nil
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return nil, fmt.Errorf("unable to encode payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
