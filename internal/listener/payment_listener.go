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

package listener

import (
	"context"
	"fmt"
	"time"

	"payment-notify-go/internal/common"
	"payment-notify-go/internal/feed"
	"payment-notify-go/internal/metrics"
	"payment-notify-go/internal/models"
	"payment-notify-go/internal/notify"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Start loads the watermark and begins polling
func (l *PaymentListener) Start(ctx context.Context) error {
	zap.L().Info("Starting payment listener")

	watermark, ok, err := l.watermarks.GetWatermark(ctx)
	if err != nil {
		return fmt.Errorf("failed to read watermark: %w", err)
	}
	if !ok {
		watermark = l.startBlock
		zap.L().Info("No watermark stored, starting from configured block",
			zap.Int64("start_block", watermark))
	}

	l.mutex.Lock()
	l.watermark = watermark
	l.mutex.Unlock()
	metrics.WatermarkBlock.Set(float64(watermark))

	go l.pollLoop(ctx)

	zap.L().Info("Payment listener started successfully",
		zap.Int64("watermark", watermark),
		zap.Duration("polling_interval", l.pollingInterval),
		zap.Int("page_size", l.pageSize))

	return nil
}

// Stop lets the in-flight cycle finish and waits for the loop to exit
func (l *PaymentListener) Stop() {
	zap.L().Info("Stopping payment listener")
	close(l.stopChan)
	<-l.doneChan
	l.setState(models.ListenerStopped)
	zap.L().Info("Payment listener stopped")
}

// pollLoop re-polls at once after a full page and sleeps otherwise
func (l *PaymentListener) pollLoop(ctx context.Context) {
	defer close(l.doneChan)

	for {
		full, err := l.PollOnce(ctx)
		if err != nil {
			zap.L().Error("Poll cycle failed", zap.Error(err))
		}

		if full && err == nil {
			select {
			case <-l.stopChan:
				return
			case <-ctx.Done():
				return
			default:
				continue
			}
		}

		timer := time.NewTimer(l.pollingInterval)
		select {
		case <-timer.C:
		case <-l.stopChan:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// ANSI color helpers for console output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// PollOnce runs one Fetching, Routing, Committing cycle. full reports that
// the page hit the page size and more events are likely waiting.
func (l *PaymentListener) PollOnce(ctx context.Context) (full bool, err error) {
	after := l.currentWatermark()

	l.mutex.Lock()
	l.state = models.ListenerFetching
	l.lastPollAt = time.Now().UTC()
	l.mutex.Unlock()

	raw, err := l.feed.FetchAfter(ctx, after, l.pageSize)
	if err != nil {
		metrics.FeedFetchErrorsTotal.Inc()
		err = fmt.Errorf("failed to fetch events after block %d: %w", after, err)
		l.setError(err)
		return false, err
	}
	if len(raw) == 0 {
		l.finishCycle()
		return false, nil
	}

	fmt.Printf("\n%s[%s] %d new event(s) after block %d%s\n",
		colorCyan, time.Now().Format("15:04:05"), len(raw), after, colorReset)

	l.setState(models.ListenerRouting)
	firstBlock, lastBlock := blockRange(raw)
	full = len(raw) >= l.pageSize

	if full && firstBlock >= 0 && firstBlock == lastBlock {
		// the block may continue past this page; read all of it before committing
		zap.L().Info("Full page holds a single block, paging through the block",
			zap.Int64("block", lastBlock),
			zap.Int("page_size", l.pageSize))
		if err := l.drainBlock(ctx, lastBlock); err != nil {
			err = fmt.Errorf("block %d abandoned: %w", lastBlock, err)
			l.setError(err)
			return false, err
		}
	} else if err := l.routeGroups(ctx, l.normalizePage(raw)); err != nil {
		err = fmt.Errorf("page after block %d abandoned: %w", after, err)
		l.setError(err)
		return false, err
	}

	if lastBlock < 0 {
		zap.L().Warn("No event in page carried a usable block number, watermark not moved",
			zap.Int64("watermark", after),
			zap.Int("events", len(raw)))
		l.finishCycle()
		return false, nil
	}

	l.setState(models.ListenerCommitting)
	commit := lastBlock
	if full && firstBlock != lastBlock {
		// the last block may continue on the next page
		commit = lastBlock - 1
	}

	if commit > after {
		if err := l.watermarks.AdvanceWatermark(ctx, commit); err != nil {
			err = fmt.Errorf("failed to commit watermark %d: %w", commit, err)
			l.setError(err)
			return false, err
		}
		l.mutex.Lock()
		l.watermark = commit
		l.mutex.Unlock()
		metrics.WatermarkBlock.Set(float64(commit))
		zap.L().Debug("Watermark committed", zap.Int64("block", commit))
	}

	l.finishCycle()
	return full, nil
}

// drainBlock routes every event of one block, paging in id order until a
// short page shows the block is exhausted.
func (l *PaymentListener) drainBlock(ctx context.Context, block int64) error {
	for skip := 0; ; {
		raw, err := l.feed.FetchBlock(ctx, block, skip, l.pageSize)
		if err != nil {
			metrics.FeedFetchErrorsTotal.Inc()
			return fmt.Errorf("failed to fetch block %d at offset %d: %w", block, skip, err)
		}

		if err := l.routeGroups(ctx, l.normalizePage(raw)); err != nil {
			return err
		}

		skip += len(raw)
		if len(raw) < l.pageSize {
			zap.L().Debug("Block fully read", zap.Int64("block", block), zap.Int("events", skip))
			return nil
		}
	}
}

func (l *PaymentListener) finishCycle() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.state = models.ListenerIdle
	l.lastError = nil
}

// blockRange returns the lowest and highest block in the page, or -1 when no
// event carries a usable block number. Malformed events count too.
func blockRange(raw []models.FeedEvent) (firstBlock, lastBlock int64) {
	firstBlock, lastBlock = -1, -1
	for _, r := range raw {
		if block, ok := feed.BlockOf(r); ok {
			if firstBlock < 0 || block < firstBlock {
				firstBlock = block
			}
			if block > lastBlock {
				lastBlock = block
			}
		}
	}
	return firstBlock, lastBlock
}

// normalizePage converts raw events and groups the valid ones by merchant,
// keeping feed order inside each group. Malformed events are skipped.
func (l *PaymentListener) normalizePage(raw []models.FeedEvent) (groups [][]models.PaymentEvent) {
	index := make(map[string]int)

	for _, r := range raw {
		event, err := feed.Normalize(r)
		if err != nil {
			metrics.EventsMalformedTotal.Inc()
			fmt.Printf("  %s✗ skipped malformed event %s: %s%s\n", colorRed, common.ShortId(r.Id), err, colorReset)
			zap.L().Warn("Skipping malformed feed event",
				zap.String("id", r.Id),
				zap.String("block_number", r.BlockNumber),
				zap.Error(err))
			continue
		}

		i, ok := index[event.MerchantId]
		if !ok {
			i = len(groups)
			index[event.MerchantId] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], event)
	}
	return groups
}

// routeGroups routes each merchant's events in order, with merchants running
// in parallel up to the worker limit. Any store error fails the page.
func (l *PaymentListener) routeGroups(ctx context.Context, groups [][]models.PaymentEvent) error {
	var g errgroup.Group
	g.SetLimit(l.workers)

	for _, group := range groups {
		group := group
		g.Go(func() error {
			for _, event := range group {
				outcome, err := l.router.Route(ctx, event)
				if err != nil {
					fmt.Printf("  %s✗ %s %s | %s%s\n", colorRed, common.ShortId(event.EventId), common.ShortAddress(event.MerchantId), err, colorReset)
					return fmt.Errorf("route %s: %w", event.EventId, err)
				}
				metrics.EventsIngestedTotal.Inc()
				printOutcome(event, outcome)
			}
			return nil
		})
	}
	return g.Wait()
}

func printOutcome(event models.PaymentEvent, outcome notify.RouteOutcome) {
	color := colorGreen
	symbol := "✓"
	switch outcome {
	case notify.OutcomeDuplicate:
		color, symbol = colorYellow, "~"
	case notify.OutcomeRetryScheduled:
		color, symbol = colorYellow, "↻"
	case notify.OutcomeRejected, notify.OutcomeExhausted:
		color, symbol = colorRed, "✗"
	}
	fmt.Printf("  %s%s block %d %s | merchant %s | %s%s\n",
		color, symbol, event.BlockNumber, common.ShortId(event.PaymentIntentId),
		common.ShortAddress(event.MerchantId), outcome, colorReset)
}
