package delivery

import (
	"fmt"
	"strings"

	"github.com/angelmondragon/shopbot-backend/pkg/db/models"
	"github.com/angelmondragon/shopbot-backend/pkg/money"
)

const fallbackPositionName = "your purchase"

// BuildMessage renders the single message that carries every purchased item.
func BuildMessage(positionName string, purchase *models.Purchase) string {
	if strings.TrimSpace(positionName) == "" {
		positionName = fallbackPositionName
	}
	var b strings.Builder
	b.WriteString("Thank you for your purchase!\n\n")
	fmt.Fprintf(&b, "Position: %s\n", positionName)
	fmt.Fprintf(&b, "Quantity: %d\n", purchase.Quantity)
	fmt.Fprintf(&b, "Total: %s %s\n", money.FormatCents(purchase.TotalPriceCents), money.Currency)
	fmt.Fprintf(&b, "Order: %s\n", purchase.ID)

	contents := make([]string, 0, len(purchase.Items))
	for _, item := range purchase.Items {
		contents = append(contents, strings.TrimSpace(item.Content))
	}
	if len(contents) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(contents, "\n\n"))
	}
	return b.String()
}
