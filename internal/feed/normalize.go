package feed

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"payment-notify-go/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var ErrMalformedEvent = errors.New("malformed feed event")

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// rawPayment is a FeedEvent with the two schemas collapsed onto one set of fields
type rawPayment struct {
	PaymentIntentId string `validate:"required"`
	MerchantId      string `validate:"required"`
	PayerAddress    string `validate:"required,eth_addr"`
	TokenAddress    string `validate:"required,eth_addr"`
	Amount          string `validate:"required,number"`
	TxHash          string `validate:"required,len=66,startswith=0x,hexadecimal"`
	BlockNumber     string `validate:"required,number"`
	BlockTimestamp  string `validate:"required,number"`
}

func collapse(e models.FeedEvent) rawPayment {
	return rawPayment{
		PaymentIntentId: strings.TrimSpace(firstOf(e.PaymentIntentId, e.Id)),
		MerchantId:      strings.TrimSpace(firstOf(e.Merchant, e.MerchantId)),
		PayerAddress:    strings.TrimSpace(firstOf(e.Customer, e.CustomerAddress)),
		TokenAddress:    strings.TrimSpace(firstOf(e.Token, e.TokenAddress)),
		Amount:          strings.TrimSpace(e.Amount),
		TxHash:          strings.TrimSpace(firstOf(e.TransactionHash, e.TxHash)),
		BlockNumber:     strings.TrimSpace(e.BlockNumber),
		BlockTimestamp:  strings.TrimSpace(firstOf(e.BlockTimestamp, e.Timestamp)),
	}
}

// Normalize validates a raw feed event and converts it to a PaymentEvent.
// Addresses and hashes are lowercased; errors wrap ErrMalformedEvent.
func Normalize(e models.FeedEvent) (models.PaymentEvent, error) {
	raw := collapse(e)
	if err := validate.Struct(raw); err != nil {
		return models.PaymentEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	amount, err := decimal.NewFromString(raw.Amount)
	if err != nil {
		return models.PaymentEvent{}, fmt.Errorf("%w: amount %q: %v", ErrMalformedEvent, raw.Amount, err)
	}

	blockNumber, err := strconv.ParseInt(raw.BlockNumber, 10, 64)
	if err != nil {
		return models.PaymentEvent{}, fmt.Errorf("%w: block number %q: %v", ErrMalformedEvent, raw.BlockNumber, err)
	}

	seconds, err := strconv.ParseInt(raw.BlockTimestamp, 10, 64)
	if err != nil {
		return models.PaymentEvent{}, fmt.Errorf("%w: block timestamp %q: %v", ErrMalformedEvent, raw.BlockTimestamp, err)
	}

	txHash := strings.ToLower(common.HexToHash(raw.TxHash).Hex())

	return models.PaymentEvent{
		EventId:         models.EventId(txHash, raw.PaymentIntentId),
		PaymentIntentId: raw.PaymentIntentId,
		MerchantId:      models.NormalizeMerchantId(raw.MerchantId),
		PayerAddress:    lowerAddress(raw.PayerAddress),
		TokenAddress:    lowerAddress(raw.TokenAddress),
		Amount:          amount,
		TxHash:          txHash,
		BlockNumber:     blockNumber,
		BlockTime:       time.Unix(seconds, 0).UTC(),
	}, nil
}

// BlockOf returns the block number of a raw event, even when the rest of the
// event is malformed.
func BlockOf(e models.FeedEvent) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(e.BlockNumber), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func lowerAddress(address string) string {
	return strings.ToLower(common.HexToAddress(address).Hex())
}

func firstOf(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
