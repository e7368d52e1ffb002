package rotation

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/internal/events"
	"github.com/betbot/diparb/internal/ports"
	"github.com/betbot/diparb/pkg/persistence"
)

// redeemPace 同一轮 tick 内两次链上赎回之间的间隔，避免打爆 RPC
const redeemPace = 5 * time.Second

// redemptionQueue 待赎回队列。换盘时入队，按节奏消化；
// 重启后从持久化恢复，队列只有 supervisor 一个写者。
// items 的读写都在 supervisor 锁内，settleBatch 只读不可变字段，可以在锁外跑。
type redemptionQueue struct {
	items      []*domain.PendingRedemption
	store      persistence.Store
	maxRetries int
	log        *logrus.Entry
}

func newRedemptionQueue(store persistence.Store, maxRetries int) *redemptionQueue {
	q := &redemptionQueue{
		store:      store,
		maxRetries: maxRetries,
		log:        logrus.WithField("component", "rotation.redeem"),
	}
	q.restore()
	return q
}

func (q *redemptionQueue) restore() {
	if q.store == nil {
		return
	}
	var saved []*domain.PendingRedemption
	if err := q.store.Load(&saved); err != nil {
		if err != persistence.ErrNotExists {
			q.log.Warnf("⚠️ 待赎回队列恢复失败: %v", err)
		}
		return
	}
	q.items = saved
	if len(saved) > 0 {
		q.log.Infof("🔄 恢复 %d 条待赎回记录", len(saved))
	}
}

func (q *redemptionQueue) persist() {
	if q.store == nil {
		return
	}
	if err := q.store.Save(q.items); err != nil {
		q.log.Warnf("⚠️ 待赎回队列持久化失败: %v", err)
	}
}

// enqueue 按 conditionID 去重入队
func (q *redemptionQueue) enqueue(p *domain.PendingRedemption) {
	for _, item := range q.items {
		if item.ConditionID == p.ConditionID {
			q.log.Warnf("⚠️ 市场 %s 已在待赎回队列，跳过", p.MarketSlug)
			return
		}
	}
	q.items = append(q.items, p)
	q.persist()
	q.log.Infof("🔔 待赎回入队: %s %.2f 股，%s 后可赎", p.MarketSlug, p.Shares, time.Until(p.NotBefore).Round(time.Second))
}

func (q *redemptionQueue) snapshot() []domain.PendingRedemption {
	out := make([]domain.PendingRedemption, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, *item)
	}
	return out
}

// takeDue 摘下已到 NotBefore 的条目并从队列移除。
// 调用方在锁外结算这批条目，没处理完的用 requeue 归还；
// 中途崩溃时恢复到上一次落盘的状态，条目不会丢，只会多试一次。
func (q *redemptionQueue) takeDue(now time.Time) []*domain.PendingRedemption {
	var due, keep []*domain.PendingRedemption
	for _, item := range q.items {
		if now.Before(item.NotBefore) {
			keep = append(keep, item)
		} else {
			due = append(due, item)
		}
	}
	q.items = keep
	return due
}

// settleBatch 按节奏结算一批到点条目：先查解析状态，解析完成就赎回。
// 链上 RPC 和 5 秒节奏都在这里，须在锁外调用。
// 返回没处理完需归还的条目和要发射的出站事件。
func (q *redemptionQueue) settleBatch(ctx context.Context, settle ports.SettlementAdapter, due []*domain.PendingRedemption) (keep []*domain.PendingRedemption, pending []events.Event) {
	redeemed := 0
	for _, item := range due {
		if redeemed > 0 {
			select {
			case <-ctx.Done():
				keep = append(keep, item)
				continue
			case <-time.After(redeemPace):
			}
		}

		done, ev := q.settleOne(ctx, settle, item)
		if ev != nil {
			pending = append(pending, *ev)
		}
		if !done {
			keep = append(keep, item)
		} else {
			redeemed++
		}
	}
	return keep, pending
}

// requeue 归还没处理完的条目并落盘
func (q *redemptionQueue) requeue(items []*domain.PendingRedemption) {
	q.items = append(q.items, items...)
	q.persist()
}

// settleOne 处理单条。返回 done=true 表示从队列移除（成功或放弃）。
func (q *redemptionQueue) settleOne(ctx context.Context, settle ports.SettlementAdapter, item *domain.PendingRedemption) (bool, *events.Event) {
	fail := func(reason string) (bool, *events.Event) {
		item.Attempts++
		item.LastError = reason
		if item.Attempts > q.maxRetries {
			q.log.Errorf("🛑 市场 %s 赎回重试 %d 次后放弃: %s", item.MarketSlug, item.Attempts-1, reason)
			return true, &events.Event{
				Kind:      events.KindSettled,
				Timestamp: time.Now(),
				Payload: &events.SettledPayload{
					Success:    false,
					Strategy:   "redeem",
					MarketSlug: item.MarketSlug,
					Error:      reason,
				},
			}
		}
		return false, nil
	}

	res, err := settle.MarketResolution(ctx, item.ConditionID)
	if err != nil {
		return fail(err.Error())
	}
	if !res.IsResolved {
		return fail("预言机未出结果")
	}

	var up, down string
	if len(item.TokenIDs) >= 2 {
		up, down = item.TokenIDs[0], item.TokenIDs[1]
	}
	redeemRes, err := settle.RedeemByTokenIDs(ctx, item.ConditionID, up, down, item.NegRisk)
	if err != nil {
		return fail(err.Error())
	}

	q.log.Infof("✅ 市场 %s 赎回到账 %.4f USDC（胜方 %s）", item.MarketSlug, redeemRes.USDCReceived, res.Winner)
	return true, &events.Event{
		Kind:      events.KindSettled,
		Timestamp: time.Now(),
		Payload: &events.SettledPayload{
			Success:        true,
			Strategy:       "redeem",
			MarketSlug:     item.MarketSlug,
			AmountReceived: redeemRes.USDCReceived,
			TxHash:         redeemRes.TxHash,
		},
	}
}
