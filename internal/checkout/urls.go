package checkout

import (
	"fmt"
	"net/url"
	"strings"

	"selcom-gateway/internal/model"
)

// URLs derives the shop pages a checkout result redirects to.
type URLs struct {
	BaseURL string
}

// Return is the order-received page.
func (u URLs) Return(order *model.Order) string {
	q := url.Values{"key": {order.OrderKey}}
	return fmt.Sprintf("%s/checkout/order-received/%d?%s", u.base(), order.ID, q.Encode())
}

// Cancel sends the buyer back to the cart with the order cancelled.
func (u URLs) Cancel(order *model.Order) string {
	q := url.Values{
		"cancel_order": {"true"},
		"order":        {order.OrderKey},
		"order_id":     {fmt.Sprint(order.ID)},
	}
	return u.base() + "/cart?" + q.Encode()
}

func (u URLs) base() string {
	return strings.TrimRight(u.BaseURL, "/")
}
