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

// FeedEvent is a raw payment record as returned by the upstream subgraph.
// Both the paymentExecuteds and the payments schema field names are mapped;
// the normalizer picks whichever group is populated.
type FeedEvent struct {
	Id              string `json:"id"`
	PaymentIntentId string `json:"paymentIntentId"`
	Merchant        string `json:"merchant"`
	Customer        string `json:"customer"`
	Token           string `json:"token"`
	Amount          string `json:"amount"`
	TransactionHash string `json:"transactionHash"`
	BlockNumber     string `json:"blockNumber"`
	BlockTimestamp  string `json:"blockTimestamp"`

	// payments schema
	MerchantId      string `json:"merchantId"`
	CustomerAddress string `json:"customerAddress"`
	TokenAddress    string `json:"tokenAddress"`
	TxHash          string `json:"txHash"`
	Timestamp       string `json:"timestamp"`
}

// ListenerState is the position of the ingestion loop in its cycle
type ListenerState string

const (
	ListenerIdle       ListenerState = "idle"
	ListenerFetching   ListenerState = "fetching"
	ListenerRouting    ListenerState = "routing"
	ListenerCommitting ListenerState = "committing"
	ListenerStopped    ListenerState = "stopped"
)
