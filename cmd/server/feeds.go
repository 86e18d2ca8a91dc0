package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"tradecore/internal/cache"
	"tradecore/internal/codec/tardis"
	"tradecore/internal/config"
	"tradecore/internal/exchange"
	"tradecore/internal/models"
	"tradecore/internal/msgbus"
	"tradecore/internal/portfolio"
	"tradecore/pkg/retry"
	"tradecore/pkg/utils"
)

// venueFeed - данные площадки для портфеля: инструменты и состояние счёта
// по REST, цены маркировки по WebSocket
type venueFeed struct {
	cfg    config.ExchangeConfig
	market config.MarketConfig
	client *exchange.BitmexClient
	cache  *cache.Cache
	bus    *msgbus.Bus
	arc    *archive
	log    *utils.Logger
}

func newVenueFeed(cfg *config.Config, c *cache.Cache, bus *msgbus.Bus, arc *archive) (*venueFeed, error) {
	if cfg.Exchange.Venue != exchange.BitmexVenue {
		return nil, fmt.Errorf("unsupported venue %s", cfg.Exchange.Venue)
	}

	client, err := exchange.NewBitmexClient(exchange.BitmexConfig{
		BaseURL:    cfg.Exchange.BaseURL,
		Testnet:    cfg.Exchange.Testnet,
		APIKey:     cfg.Exchange.APIKey,
		APISecret:  cfg.Exchange.APISecret,
		RecvWindow: cfg.Exchange.RecvWindow,
		Retry: retry.Config{
			MaxRetries:   cfg.Exchange.MaxRetries,
			InitialDelay: cfg.Exchange.RetryDelayInitial,
			MaxDelay:     cfg.Exchange.RetryDelayMax,
			Factor:       2,
			Jitter:       100 * time.Millisecond,
		},
		Transport: exchange.DefaultTransportConfig(),
	})
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.Exchange.Venue, err)
	}

	return &venueFeed{
		cfg:    cfg.Exchange,
		market: cfg.Market,
		client: client,
		cache:  c,
		bus:    bus,
		arc:    arc,
		log:    utils.L().WithComponent("venue_feed").WithVenue(cfg.Exchange.Venue),
	}, nil
}

func (f *venueFeed) Close() { f.client.Close() }

// Run загружает инструменты и держит опрос счёта и поток цен до отмены ctx
func (f *venueFeed) Run(ctx context.Context) error {
	if err := f.loadInstruments(ctx); err != nil {
		if retry.IsCanceled(err) {
			return nil
		}
		return err
	}

	done := make(chan struct{})
	if f.client.HasCredentials() {
		go func() {
			defer close(done)
			f.pollAccount(ctx)
		}()
	} else {
		close(done)
		f.log.Warn("no api credentials, account polling disabled")
	}

	err := f.streamMarkPrices(ctx)
	<-done
	if err != nil && !retry.IsCanceled(err) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (f *venueFeed) loadInstruments(ctx context.Context) error {
	instruments, err := f.client.GetInstruments(ctx, true)
	if err != nil {
		return fmt.Errorf("load instruments: %w", err)
	}
	for _, inst := range instruments {
		f.cache.AddInstrument(inst)
		f.client.AddInstrument(inst)

		if f.arc != nil {
			n, err := f.arc.positions.LoadInto(ctx, f.cache, inst.ID)
			if err != nil {
				f.log.Error("failed to load position snapshots", utils.Instrument(inst.ID.String()), utils.Err(err))
			} else if n > 0 {
				f.log.Info("position snapshots loaded", utils.Instrument(inst.ID.String()), utils.Int("count", n))
			}
		}
	}
	f.log.Info("instruments loaded", utils.Int("count", len(instruments)))
	return nil
}

// pollAccount передаёт состояние счёта портфелю через его точку на шине
func (f *venueFeed) pollAccount(ctx context.Context) {
	ticker := time.NewTicker(f.market.AccountPollInterval)
	defer ticker.Stop()

	for {
		state, err := f.client.GetMargins(ctx)
		switch {
		case err == nil:
			if err := f.bus.Send(portfolio.EndpointUpdateAccount, state); err != nil {
				f.log.Error("failed to deliver account state", utils.Err(err))
			}
		case retry.IsCanceled(err):
			return
		default:
			f.log.Warn("account poll failed", utils.Err(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// streamMarkPrices подписывается на таблицу instrument и публикует цены маркировки
func (f *venueFeed) streamMarkPrices(ctx context.Context) error {
	if len(f.market.Symbols) == 0 {
		<-ctx.Done()
		return nil
	}

	topics := make([]string, 0, len(f.market.Symbols))
	for _, s := range f.market.Symbols {
		topics = append(topics, "instrument:"+s)
	}
	frame, err := exchange.BitmexSubscribeFrame(topics...)
	if err != nil {
		return err
	}

	wsCfg := exchange.BitmexWebSocketConfig(f.cfg.WSURL, f.cfg.Testnet)
	wsCfg.ReconnectTimeout = f.cfg.ReconnectTimeout
	if f.cfg.Heartbeat > 0 {
		wsCfg.Heartbeat = f.cfg.Heartbeat
	}

	handler := exchange.NewChannelHandler(4096)
	ws, err := exchange.Connect(ctx, wsCfg, handler, nil, nil, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", wsCfg.URL, err)
	}
	defer ws.Disconnect()

	ws.AddSubscription("instrument", frame)
	if err := ws.SendText(ctx, string(frame)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-handler.C():
			if m.IsReconnected() {
				f.log.Info("mark price stream resubscribed", utils.Uint64("dropped", handler.Dropped()))
				continue
			}
			f.publishMarks(m.Data)
		}
	}
}

func (f *venueFeed) publishMarks(data []byte) {
	marks, err := f.client.ParseMarkPrices(data, models.NanosNow())
	if err != nil {
		f.log.Warn("bad instrument frame", utils.Err(err))
		return
	}
	for _, m := range marks {
		f.cache.AddMarkPrice(m)
		f.bus.Publish(markPriceTopic(m.InstrumentID), m)
	}
}

func markPriceTopic(id models.InstrumentID) string { return "data.mark_prices." + id.String() }
func quoteTopic(id models.InstrumentID) string     { return "data.quotes." + id.String() }

// replayQuotes проигрывает котировки Tardis в кэш и шину пакетами по chunk строк
func replayQuotes(ctx context.Context, c *cache.Cache, bus *msgbus.Bus, path string, chunk int) error {
	log := utils.L().WithComponent("replay").With(utils.String("path", path))

	stream, err := tardis.StreamQuotes(path, chunk, nil, nil, nil, nil)
	if err != nil {
		return fmt.Errorf("open quotes replay: %w", err)
	}
	defer stream.Close()

	total := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		batch, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("replay quotes: %w", err)
		}
		for _, q := range batch {
			c.AddQuote(q)
			bus.Publish(quoteTopic(q.InstrumentID), q)
		}
		total += len(batch)
	}
	log.Info("quotes replayed", utils.Int("count", total))
	return nil
}
