package realtime

import (
	"encoding/json"
	"fmt"
)

// Subscribe 订阅一组主题并记入活跃订阅（供重连恢复）
func (c *Client) Subscribe(subscriptions []Subscription) error {
	if !c.IsConnected() {
		return fmt.Errorf("client is not connected")
	}

	req := SubscriptionRequest{
		Action:        ActionSubscribe,
		Subscriptions: subscriptions,
	}
	if err := c.SendMessage(req); err != nil {
		return err
	}

	c.subscriptionsMutex.Lock()
	for _, sub := range subscriptions {
		exists := false
		for i, existing := range c.activeSubscriptions {
			if existing.Topic == sub.Topic && existing.Type == sub.Type && existing.Filters == sub.Filters {
				c.activeSubscriptions[i] = sub
				exists = true
				break
			}
		}
		if !exists {
			c.activeSubscriptions = append(c.activeSubscriptions, sub)
		}
	}
	c.subscriptionsMutex.Unlock()

	return nil
}

// Unsubscribe 退订一组主题
func (c *Client) Unsubscribe(subscriptions []Subscription) error {
	if !c.IsConnected() {
		return fmt.Errorf("client is not connected")
	}

	req := SubscriptionRequest{
		Action:        ActionUnsubscribe,
		Subscriptions: subscriptions,
	}
	if err := c.SendMessage(req); err != nil {
		return err
	}

	c.subscriptionsMutex.Lock()
	for _, sub := range subscriptions {
		for i := len(c.activeSubscriptions) - 1; i >= 0; i-- {
			existing := c.activeSubscriptions[i]
			if existing.Topic == sub.Topic && existing.Type == sub.Type && existing.Filters == sub.Filters {
				c.activeSubscriptions = append(c.activeSubscriptions[:i], c.activeSubscriptions[i+1:]...)
				break
			}
		}
	}
	c.subscriptionsMutex.Unlock()

	return nil
}

// OrderbookSubscriptions 构造按 token 订阅聚合订单簿的订阅项
func OrderbookSubscriptions(tokenIDs []string) []Subscription {
	if len(tokenIDs) == 0 {
		return nil
	}
	filterBytes, _ := json.Marshal(tokenIDs)
	return []Subscription{{
		Topic:   TopicClobMarket,
		Type:    TypeAggOrderbook,
		Filters: string(filterBytes),
	}}
}

// OraclePriceSubscriptions 构造按 symbol 订阅预言机价格的订阅项
func OraclePriceSubscriptions(symbols []string) []Subscription {
	subs := make([]Subscription, 0, len(symbols))
	for _, symbol := range symbols {
		filterBytes, _ := json.Marshal(map[string]string{"symbol": symbol})
		subs = append(subs, Subscription{
			Topic:   TopicCryptoPrices,
			Type:    TypeUpdate,
			Filters: string(filterBytes),
		})
	}
	return subs
}
