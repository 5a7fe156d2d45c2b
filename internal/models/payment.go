/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const EventTypePaymentCompleted = "payment.completed"

// PaymentEvent is a normalized, immutable payment completion observed on chain.
// Amount is an integer in the token's smallest unit.
type PaymentEvent struct {
	EventId         string          `db:"event_id"`
	PaymentIntentId string          `db:"payment_intent_id"`
	MerchantId      string          `db:"merchant_id"`
	PayerAddress    string          `db:"payer_address"`
	TokenAddress    string          `db:"token_address"`
	Amount          decimal.Decimal `db:"amount"`
	TxHash          string          `db:"tx_hash"`
	BlockNumber     int64           `db:"block_number"`
	BlockTime       time.Time       `db:"block_time"`
}

// EventId derives the deterministic event identity from its on-chain coordinates
func EventId(txHash, paymentIntentId string) string {
	return "evt_" + txHash + "_" + paymentIntentId
}
