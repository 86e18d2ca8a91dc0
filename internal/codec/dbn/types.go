package dbn

import (
	"tradecore/internal/models"
)

// Imbalance - аукционный дисбаланс
type Imbalance struct {
	InstrumentID         models.InstrumentID `json:"instrument_id"`
	RefPrice             models.Price        `json:"ref_price"`
	ContBookClrPrice     models.Price        `json:"cont_book_clr_price"`
	AuctInterestClrPrice models.Price        `json:"auct_interest_clr_price"`
	PairedQty            models.Quantity     `json:"paired_qty"`
	TotalImbalanceQty    models.Quantity     `json:"total_imbalance_qty"`
	Side                 models.OrderSide    `json:"side"`
	SignificantImbalance byte                `json:"significant_imbalance"`
	TsEvent              models.UnixNanos    `json:"ts_event"`
	TsRecv               models.UnixNanos    `json:"ts_recv"`
	TsInit               models.UnixNanos    `json:"ts_init"`
}

func (i Imbalance) Instrument() models.InstrumentID { return i.InstrumentID }
func (i Imbalance) EventTime() models.UnixNanos     { return i.TsEvent }
func (i Imbalance) InitTime() models.UnixNanos      { return i.TsInit }

// StatisticType - тип статистики площадки
type StatisticType uint8

const (
	StatOpeningPrice StatisticType = iota + 1
	StatIndicativeOpeningPrice
	StatSettlementPrice
	StatTradingSessionLowPrice
	StatTradingSessionHighPrice
	StatClearedVolume
	StatLowestOffer
	StatHighestBid
	StatOpenInterest
	StatFixingPrice
	StatClosePrice
	StatNetChange
	StatVwap
)

// StatisticUpdateAction - добавление или удаление статистики
type StatisticUpdateAction uint8

const (
	StatActionAdded StatisticUpdateAction = iota + 1
	StatActionDeleted
)

// Statistics - статистика инструмента (цена открытия, OI, расчётная цена и т.п.)
type Statistics struct {
	InstrumentID models.InstrumentID   `json:"instrument_id"`
	StatType     StatisticType         `json:"stat_type"`
	UpdateAction StatisticUpdateAction `json:"update_action"`
	Price        *models.Price         `json:"price,omitempty"`
	Quantity     *models.Quantity      `json:"quantity,omitempty"`
	ChannelID    uint16                `json:"channel_id"`
	StatFlags    uint8                 `json:"stat_flags"`
	Sequence     uint32                `json:"sequence"`
	TsRef        models.UnixNanos      `json:"ts_ref"`
	TsInDelta    int32                 `json:"ts_in_delta"`
	TsEvent      models.UnixNanos      `json:"ts_event"`
	TsRecv       models.UnixNanos      `json:"ts_recv"`
	TsInit       models.UnixNanos      `json:"ts_init"`
}

func (s Statistics) Instrument() models.InstrumentID { return s.InstrumentID }
func (s Statistics) EventTime() models.UnixNanos     { return s.TsEvent }
func (s Statistics) InitTime() models.UnixNanos      { return s.TsInit }
