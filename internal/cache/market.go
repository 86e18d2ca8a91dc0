package cache

import (
	"tradecore/internal/models"
)

// ============================================================
// Quotes / trades / bars
// ============================================================

// pushFront добавляет элемент в начало, ограничивая длину capacity
func pushFront[T any](items []T, v T, capacity int) []T {
	if len(items) < capacity {
		items = append(items, v)
	}
	copy(items[1:], items[:len(items)-1])
	items[0] = v
	return items
}

func (c *Cache) AddQuote(q models.QuoteTick) {
	c.mu.Lock()
	c.quotes[q.InstrumentID] = pushFront(c.quotes[q.InstrumentID], q, c.cfg.TickCapacity)
	c.mu.Unlock()
}

// Quote - последняя котировка инструмента
func (c *Cache) Quote(id models.InstrumentID) (models.QuoteTick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	qs := c.quotes[id]
	if len(qs) == 0 {
		return models.QuoteTick{}, false
	}
	return qs[0], true
}

// Quotes - котировки от новых к старым
func (c *Cache) Quotes(id models.InstrumentID) []models.QuoteTick {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.QuoteTick(nil), c.quotes[id]...)
}

func (c *Cache) AddTrade(t models.TradeTick) {
	c.mu.Lock()
	c.trades[t.InstrumentID] = pushFront(c.trades[t.InstrumentID], t, c.cfg.TickCapacity)
	c.mu.Unlock()
}

func (c *Cache) Trade(id models.InstrumentID) (models.TradeTick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ts := c.trades[id]
	if len(ts) == 0 {
		return models.TradeTick{}, false
	}
	return ts[0], true
}

func (c *Cache) Trades(id models.InstrumentID) []models.TradeTick {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.TradeTick(nil), c.trades[id]...)
}

func (c *Cache) AddBar(b models.Bar) {
	key := b.BarType.String()
	c.mu.Lock()
	c.bars[key] = pushFront(c.bars[key], b, c.cfg.BarCapacity)
	c.mu.Unlock()
}

func (c *Cache) Bar(bt models.BarType) (models.Bar, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bs := c.bars[bt.String()]
	if len(bs) == 0 {
		return models.Bar{}, false
	}
	return bs[0], true
}

func (c *Cache) Bars(bt models.BarType) []models.Bar {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Bar(nil), c.bars[bt.String()]...)
}

func (c *Cache) AddMarkPrice(m models.MarkPriceUpdate) {
	c.mu.Lock()
	c.markPrices[m.InstrumentID] = m
	c.mu.Unlock()
}

func (c *Cache) MarkPrice(id models.InstrumentID) (models.MarkPriceUpdate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markPrices[id]
	return m, ok
}

// Price - последняя цена указанного типа: BID/ASK/MID из котировки,
// LAST из сделки, MARK из обновления mark price
func (c *Cache) Price(id models.InstrumentID, pt models.PriceType) (models.Price, bool) {
	switch pt {
	case models.PriceTypeBid, models.PriceTypeAsk, models.PriceTypeMid:
		q, ok := c.Quote(id)
		if !ok {
			return models.Price{}, false
		}
		px, err := q.Price(pt)
		return px, err == nil
	case models.PriceTypeLast:
		t, ok := c.Trade(id)
		return t.Price, ok
	case models.PriceTypeMark:
		m, ok := c.MarkPrice(id)
		return m.Value, ok
	}
	return models.Price{}, false
}

// ============================================================
// Exchange rates
// ============================================================

// GetXRate - курс from -> to по котировкам инструментов площадки.
// Прямые и обратные пары связываются в граф, курс ищется обходом в
// ширину с перемножением ставок по пути.
func (c *Cache) GetXRate(venue models.Venue, from, to models.Currency, pt models.PriceType) (float64, bool) {
	if from.Code == to.Code {
		return 1, true
	}

	c.mu.RLock()
	graph := make(map[string]map[string]float64)
	link := func(a, b string, rate float64) {
		if graph[a] == nil {
			graph[a] = make(map[string]float64)
		}
		graph[a][b] = rate
	}
	for id, inst := range c.instruments {
		if id.Venue != venue || inst.BaseCurrency == nil {
			continue
		}
		qs := c.quotes[id]
		if len(qs) == 0 {
			continue
		}
		rate := quoteRate(qs[0], pt)
		if rate <= 0 {
			continue
		}
		link(inst.BaseCurrency.Code, inst.QuoteCurrency.Code, rate)
		link(inst.QuoteCurrency.Code, inst.BaseCurrency.Code, 1/rate)
	}
	c.mu.RUnlock()

	type node struct {
		code string
		rate float64
	}
	visited := map[string]bool{from.Code: true}
	queue := []node{{from.Code, 1}}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for next, r := range graph[n.code] {
			if visited[next] {
				continue
			}
			rate := n.rate * r
			if next == to.Code {
				return rate, true
			}
			visited[next] = true
			queue = append(queue, node{next, rate})
		}
	}
	return 0, false
}

func quoteRate(q models.QuoteTick, pt models.PriceType) float64 {
	switch pt {
	case models.PriceTypeBid:
		return q.BidPrice.AsFloat64()
	case models.PriceTypeAsk:
		return q.AskPrice.AsFloat64()
	default:
		return (q.BidPrice.AsFloat64() + q.AskPrice.AsFloat64()) / 2
	}
}

// SetMarkXRate задаёт mark-курс и обратный к нему
func (c *Cache) SetMarkXRate(from, to models.Currency, rate float64) {
	if rate <= 0 {
		c.log.Warn("ignore non-positive mark xrate")
		return
	}
	c.mu.Lock()
	c.markXRates[[2]string{from.Code, to.Code}] = rate
	c.markXRates[[2]string{to.Code, from.Code}] = 1 / rate
	c.mu.Unlock()
}

func (c *Cache) MarkXRate(from, to models.Currency) (float64, bool) {
	if from.Code == to.Code {
		return 1, true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.markXRates[[2]string{from.Code, to.Code}]
	return r, ok
}

func (c *Cache) ClearMarkXRate(from, to models.Currency) {
	c.mu.Lock()
	delete(c.markXRates, [2]string{from.Code, to.Code})
	c.mu.Unlock()
}

func (c *Cache) ClearMarkXRates() {
	c.mu.Lock()
	c.markXRates = make(map[[2]string]float64)
	c.mu.Unlock()
}
