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

package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"payment-notify-go/internal/common"
	"payment-notify-go/internal/models"

	"go.uber.org/zap"
)

const paymentExecutedsQuery = `
query GetPaymentEvents($lastBlock: BigInt!, $first: Int!) {
  paymentExecuteds(
    where: { blockNumber_gt: $lastBlock }
    orderBy: blockNumber
    orderDirection: asc
    first: $first
  ) {
    id
    paymentIntentId
    merchant
    customer
    token
    amount
    transactionHash
    blockNumber
    blockTimestamp
  }
}`

// Subgraphs deployed from the older schema expose payments with different field names
const paymentsQuery = `
query GetPaymentEvents($lastBlock: BigInt!, $first: Int!) {
  payments(
    where: { blockNumber_gt: $lastBlock }
    orderBy: blockNumber
    orderDirection: asc
    first: $first
  ) {
    id
    paymentIntentId
    merchantId
    customerAddress
    tokenAddress
    amount
    txHash
    blockNumber
    timestamp
  }
}`

const paymentExecutedsInBlockQuery = `
query GetPaymentEventsInBlock($block: BigInt!, $skip: Int!, $first: Int!) {
  paymentExecuteds(
    where: { blockNumber: $block }
    orderBy: id
    orderDirection: asc
    skip: $skip
    first: $first
  ) {
    id
    paymentIntentId
    merchant
    customer
    token
    amount
    transactionHash
    blockNumber
    blockTimestamp
  }
}`

const paymentsInBlockQuery = `
query GetPaymentEventsInBlock($block: BigInt!, $skip: Int!, $first: Int!) {
  payments(
    where: { blockNumber: $block }
    orderBy: id
    orderDirection: asc
    skip: $skip
    first: $first
  ) {
    id
    paymentIntentId
    merchantId
    customerAddress
    tokenAddress
    amount
    txHash
    blockNumber
    timestamp
  }
}`

// MaxSkip is the largest skip graph-node accepts
const MaxSkip = 5000

const unknownFieldError = "Cannot query field"

// ClientConfig contains configuration for Client
type ClientConfig struct {
	Url        string
	HttpClient *http.Client
}

// Client reads payment events from a The Graph subgraph
type Client struct {
	url        string
	httpClient *http.Client
	useAlt     atomic.Bool
}

type graphRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphError struct {
	Message string `json:"message"`
}

type graphResponse struct {
	Data struct {
		PaymentExecuteds []models.FeedEvent `json:"paymentExecuteds"`
		Payments         []models.FeedEvent `json:"payments"`
	} `json:"data"`
	Errors []graphError `json:"errors"`
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Url == "" {
		return nil, fmt.Errorf("subgraph url is required")
	}
	if cfg.HttpClient == nil {
		return nil, fmt.Errorf("http client is required")
	}
	return &Client{url: cfg.Url, httpClient: cfg.HttpClient}, nil
}

// FetchAfter returns up to limit raw events with a block number strictly
// greater than afterBlock, in ascending block order.
func (c *Client) FetchAfter(ctx context.Context, afterBlock int64, limit int) ([]models.FeedEvent, error) {
	return c.fetch(ctx, paymentExecutedsQuery, paymentsQuery, map[string]any{
		"lastBlock": strconv.FormatInt(afterBlock, 10),
		"first":     limit,
	})
}

// FetchBlock pages through the events of a single block in id order. It is
// used when one block holds more events than a page.
func (c *Client) FetchBlock(ctx context.Context, block int64, skip, limit int) ([]models.FeedEvent, error) {
	if skip > MaxSkip {
		return nil, fmt.Errorf("block %d holds more than %d events, cannot page further", block, MaxSkip)
	}
	return c.fetch(ctx, paymentExecutedsInBlockQuery, paymentsInBlockQuery, map[string]any{
		"block": strconv.FormatInt(block, 10),
		"skip":  skip,
		"first": limit,
	})
}

func (c *Client) fetch(ctx context.Context, primary, alt string, variables map[string]any) ([]models.FeedEvent, error) {
	query := primary
	if c.useAlt.Load() {
		query = alt
	}

	events, errs, err := c.query(ctx, query, variables)
	if err != nil {
		return nil, err
	}

	if len(errs) > 0 && !c.useAlt.Load() && mentionsUnknownField(errs) {
		zap.L().Info("Subgraph rejected primary query, switching to alternative schema",
			zap.String("error", errs[0].Message))
		c.useAlt.Store(true)
		events, errs, err = c.query(ctx, alt, variables)
		if err != nil {
			return nil, err
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("subgraph returned errors: %s", joinErrors(errs))
	}
	return events, nil
}

// UsingAltSchema reports whether the client has switched to the payments query
func (c *Client) UsingAltSchema() bool {
	return c.useAlt.Load()
}

func (c *Client) query(ctx context.Context, query string, variables map[string]any) ([]models.FeedEvent, []graphError, error) {
	body, err := json.Marshal(graphRequest{
		Query:     query,
		Variables: variables,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("subgraph request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			zap.L().Debug("Failed to close subgraph response body", zap.Error(err))
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read subgraph response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("subgraph returned status %d: %s", resp.StatusCode, common.Truncate(string(raw), 256))
	}

	var parsed graphResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, nil, fmt.Errorf("failed to decode subgraph response: %w", err)
	}

	events := parsed.Data.PaymentExecuteds
	if len(events) == 0 {
		events = parsed.Data.Payments
	}
	return events, parsed.Errors, nil
}

func mentionsUnknownField(errs []graphError) bool {
	for _, e := range errs {
		if strings.Contains(e.Message, unknownFieldError) {
			return true
		}
	}
	return false
}

func joinErrors(errs []graphError) string {
	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		messages = append(messages, e.Message)
	}
	return strings.Join(messages, "; ")
}
