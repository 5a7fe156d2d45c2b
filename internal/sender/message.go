package sender

import (
	"fmt"
	"strings"

	"payment-notify-go/internal/common"
	"payment-notify-go/internal/models"
)

// FormatChatMessage renders the Markdown notification for a payment.
func FormatChatMessage(event models.PaymentEvent, tokens *common.TokenRegistry, explorerUrl string) string {
	txLink := strings.TrimRight(explorerUrl, "/") + "/tx/" + event.TxHash

	var b strings.Builder
	b.WriteString("🎉 *Payment Received!*\n\n")
	fmt.Fprintf(&b, "💰 *Amount:* %s\n", tokens.Format(event.TokenAddress, event.Amount))
	fmt.Fprintf(&b, "👤 *Customer:* `%s`\n", common.ShortAddress(event.PayerAddress))
	fmt.Fprintf(&b, "📝 *Payment ID:* `%s`\n\n", common.ShortId(event.PaymentIntentId))
	fmt.Fprintf(&b, "🔗 [View Transaction](%s)\n\n", txLink)
	fmt.Fprintf(&b, "⏰ *Time:* %s UTC\n", event.BlockTime.UTC().Format(common.DisplayTimeLayout))
	fmt.Fprintf(&b, "📦 *Block:* #%d\n\n", event.BlockNumber)
	b.WriteString("---\n_Powered by PaymentGateway_")
	return b.String()
}
