package dbn

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"tradecore/internal/codec"
	"tradecore/internal/models"
	"tradecore/pkg/utils"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Schema - схема данных файла
type Schema string

const (
	SchemaMbo        Schema = "mbo"
	SchemaMbp1       Schema = "mbp-1"
	SchemaMbp10      Schema = "mbp-10"
	SchemaTbbo       Schema = "tbbo"
	SchemaTrades     Schema = "trades"
	SchemaBbo1S      Schema = "bbo-1s"
	SchemaBbo1M      Schema = "bbo-1m"
	SchemaCmbp1      Schema = "cmbp-1"
	SchemaCbbo1S     Schema = "cbbo-1s"
	SchemaCbbo1M     Schema = "cbbo-1m"
	SchemaTcbbo      Schema = "tcbbo"
	SchemaOhlcv1S    Schema = "ohlcv-1s"
	SchemaOhlcv1M    Schema = "ohlcv-1m"
	SchemaOhlcv1H    Schema = "ohlcv-1h"
	SchemaOhlcv1D    Schema = "ohlcv-1d"
	SchemaOhlcvEod   Schema = "ohlcv-eod"
	SchemaStatus     Schema = "status"
	SchemaImbalance  Schema = "imbalance"
	SchemaStatistics Schema = "statistics"
	SchemaDefinition Schema = "definition"
)

var knownSchemas = map[Schema]struct{}{
	SchemaMbo: {}, SchemaMbp1: {}, SchemaMbp10: {}, SchemaTbbo: {}, SchemaTrades: {},
	SchemaBbo1S: {}, SchemaBbo1M: {}, SchemaCmbp1: {}, SchemaCbbo1S: {}, SchemaCbbo1M: {},
	SchemaTcbbo: {}, SchemaOhlcv1S: {}, SchemaOhlcv1M: {}, SchemaOhlcv1H: {}, SchemaOhlcv1D: {},
	SchemaOhlcvEod: {}, SchemaStatus: {}, SchemaImbalance: {}, SchemaStatistics: {}, SchemaDefinition: {},
}

// ============================================================
// File header
// ============================================================

const (
	fileMagic   = "DBN"
	fileVersion = 1
)

// Metadata - заголовок файла. SymbolMap сопоставляет числовой id
// инструмента из заголовка записи с символом.
type Metadata struct {
	Version   uint8             `json:"-"`
	Dataset   string            `json:"dataset"`
	Schema    Schema            `json:"schema"`
	Start     uint64            `json:"start"`
	End       uint64            `json:"end"`
	SymbolMap map[uint32]string `json:"symbol_map,omitempty"`
}

// Venue - площадка по датасету ("GLBX.MDP3" -> "GLBX")
func (m Metadata) Venue() models.Venue {
	venue, _, _ := strings.Cut(m.Dataset, ".")
	return models.Venue(venue)
}

func readMetadata(r io.Reader) (Metadata, error) {
	var prefix [8]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Metadata{}, fmt.Errorf("%w: read header: %v", codec.ErrInvalidFormat, err)
	}
	if string(prefix[:3]) != fileMagic {
		return Metadata{}, fmt.Errorf("%w: bad magic %q", codec.ErrInvalidFormat, prefix[:3])
	}
	size := le.Uint32(prefix[4:])
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Metadata{}, fmt.Errorf("%w: read metadata: %v", codec.ErrInvalidFormat, err)
	}

	var meta Metadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return Metadata{}, fmt.Errorf("%w: metadata: %v", codec.ErrInvalidFormat, err)
	}
	if _, ok := knownSchemas[meta.Schema]; !ok {
		return Metadata{}, fmt.Errorf("%w: schema %q", codec.ErrUnsupportedMessage, meta.Schema)
	}
	meta.Version = prefix[3]
	return meta, nil
}

// ============================================================
// Decoder
// ============================================================

// DecoderConfig - параметры декодирования
type DecoderConfig struct {
	// InstrumentID задаёт инструмент для всех записей; иначе берётся из SymbolMap
	InstrumentID *models.InstrumentID
	// Venue для символов из SymbolMap; пусто - по датасету
	Venue models.Venue
	// PricePrecision - nil означает вывод по первым записям
	PricePrecision *uint8
	IncludeTrades  bool
	BarsOnClose    bool
	ChunkSize      int
	// Limit - максимум выданных элементов, 0 - без ограничения
	Limit  int
	TsInit *models.UnixNanos
}

// Decoder - поток элементов модели из DBN-файла
type Decoder struct {
	cfg    DecoderConfig
	meta   Metadata
	src    io.ReadCloser
	br     *bufio.Reader
	logger *utils.Logger

	precision uint8
	pending   []Record
	carry     []models.Data
	emitted   int
	done      bool
}

var _ codec.Stream[models.Data] = (*Decoder)(nil)

// NewDecoder читает заголовок и при необходимости выводит точность цены.
// Сжатие (gzip, zstd) определяется автоматически.
func NewDecoder(r io.Reader, cfg DecoderConfig) (*Decoder, error) {
	rc, err := codec.Decompress(r)
	if err != nil {
		return nil, err
	}
	return newDecoder(rc, cfg)
}

// OpenDecoder открывает файл с диска
func OpenDecoder(path string, cfg DecoderConfig) (*Decoder, error) {
	rc, err := codec.OpenFile(path)
	if err != nil {
		return nil, err
	}
	return newDecoder(rc, cfg)
}

func newDecoder(rc io.ReadCloser, cfg DecoderConfig) (*Decoder, error) {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = codec.DefaultChunkSize
	}

	d := &Decoder{
		cfg:    cfg,
		src:    rc,
		br:     bufio.NewReader(rc),
		logger: utils.L().WithComponent("dbn"),
	}

	meta, err := readMetadata(d.br)
	if err != nil {
		rc.Close()
		return nil, err
	}
	d.meta = meta

	if cfg.PricePrecision != nil {
		d.precision = *cfg.PricePrecision
		return d, nil
	}
	if err := d.inferPrecision(); err != nil {
		rc.Close()
		return nil, err
	}
	return d, nil
}

// Metadata - заголовок файла
func (d *Decoder) Metadata() Metadata { return d.meta }

// PricePrecision - заданная или выведенная точность цены
func (d *Decoder) PricePrecision() uint8 { return d.precision }

// inferPrecision просматривает первые записи и берёт максимальное число
// значащих знаков среди цен. Просмотренные записи не теряются.
func (d *Decoder) inferPrecision() error {
	var digits uint8
	for len(d.pending) < codec.DefaultInferenceSample {
		rec, err := d.readRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if rec == nil {
			continue
		}
		d.pending = append(d.pending, rec)
		for _, px := range recordPrices(rec) {
			digits = max(digits, codec.RawDigits(px))
		}
	}
	d.precision = digits

	codec.PrecisionInferred("dbn")
	d.logger.Warn("price precision not set, inferred from data",
		utils.Int("precision", int(digits)),
		utils.Int("sample", len(d.pending)),
		utils.String("schema", string(d.meta.Schema)),
	)
	return nil
}

func recordPrices(rec Record) []int64 {
	switch m := rec.(type) {
	case *MboMsg:
		return []int64{m.Price}
	case *TradeMsg:
		return []int64{m.Price}
	case *TbboMsg:
		return []int64{m.Price, m.Level.BidPx, m.Level.AskPx}
	case *Mbp1Msg:
		return []int64{m.Price, m.Level.BidPx, m.Level.AskPx}
	case *Mbp10Msg:
		out := make([]int64, 0, 2*len(m.Levels))
		for _, l := range m.Levels {
			out = append(out, l.BidPx, l.AskPx)
		}
		return out
	case *OhlcvMsg:
		return []int64{m.Open, m.High, m.Low, m.Close}
	case *ImbalanceMsg:
		return []int64{m.RefPrice, m.ContBookClrPrice, m.AuctInterestClrPrice}
	case *StatMsg:
		return []int64{m.Price}
	}
	return nil
}

// readRecord читает следующую запись. Записи неизвестного типа или с
// неверной длиной пропускаются (nil, nil); выравнивание потока сохраняется
// по длине из заголовка.
func (d *Decoder) readRecord() (Record, error) {
	lenWords, err := d.br.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read record: %w", err)
	}
	size := int(lenWords) * 4
	if size < headerSize {
		return nil, fmt.Errorf("%w: record length %d shorter than header", codec.ErrInvalidFormat, size)
	}

	buf := make([]byte, size)
	buf[0] = lenWords
	if _, err := io.ReadFull(d.br, buf[1:]); err != nil {
		return nil, fmt.Errorf("%w: truncated record: %v", codec.ErrInvalidFormat, err)
	}

	rec, err := ParseRecord(buf, d.meta.Schema)
	if err != nil {
		d.skip(err)
		return nil, nil
	}
	return rec, nil
}

func (d *Decoder) skip(err error) {
	codec.RecordSkipped("dbn")
	d.logger.Warn("skipping record", utils.Err(err), utils.String("schema", string(d.meta.Schema)))
}

func (d *Decoder) next() (Record, error) {
	if len(d.pending) > 0 {
		rec := d.pending[0]
		d.pending = d.pending[1:]
		return rec, nil
	}
	return d.readRecord()
}

func (d *Decoder) instrumentID(rec Record) (models.InstrumentID, error) {
	if d.cfg.InstrumentID != nil {
		return *d.cfg.InstrumentID, nil
	}
	venue := d.cfg.Venue
	if venue == "" {
		venue = d.meta.Venue()
	}

	h := rec.Header()
	if sym, ok := d.meta.SymbolMap[h.InstrumentID]; ok {
		return models.NewInstrumentID(sym, string(venue)), nil
	}
	if def, ok := rec.(*InstrumentDefMsg); ok && def.RawSymbol != "" {
		return models.NewInstrumentID(def.RawSymbol, string(venue)), nil
	}
	return models.InstrumentID{}, fmt.Errorf("%w: no symbol for instrument %d", codec.ErrInvalidFormat, h.InstrumentID)
}

func (d *Decoder) limitReached() bool {
	return d.cfg.Limit > 0 && d.emitted >= d.cfg.Limit
}

// Next возвращает очередной пакет не длиннее ChunkSize; io.EOF - конец данных
func (d *Decoder) Next() ([]models.Data, error) {
	if d.done && len(d.carry) == 0 {
		return nil, io.EOF
	}

	out := make([]models.Data, 0, d.cfg.ChunkSize)
	out = append(out, d.carry...)
	d.carry = nil

	// запись может дать два элемента; лишний переносится в следующий пакет
	emit := func(v models.Data) {
		if v == nil || d.limitReached() {
			return
		}
		d.emitted++
		if len(out) < d.cfg.ChunkSize {
			out = append(out, v)
			return
		}
		d.carry = append(d.carry, v)
	}

	for !d.done && len(out) < d.cfg.ChunkSize && !d.limitReached() {
		rec, err := d.next()
		if errors.Is(err, io.EOF) {
			d.done = true
			break
		}
		if err != nil {
			d.done = true
			return out, err
		}
		if rec == nil {
			continue
		}

		id, err := d.instrumentID(rec)
		if err != nil {
			d.skip(err)
			continue
		}
		first, second, err := DecodeRecord(rec, id, d.precision, d.cfg.TsInit, d.cfg.IncludeTrades, d.cfg.BarsOnClose)
		if err != nil {
			d.skip(err)
			continue
		}
		emit(first)
		emit(second)
	}
	if d.limitReached() {
		d.done = true
	}

	if len(out) == 0 {
		return nil, io.EOF
	}
	codec.RecordDecoded("dbn", string(d.meta.Schema), len(out))
	return out, nil
}

func (d *Decoder) Close() error {
	d.done = true
	return d.src.Close()
}

// LoadFile читает весь файл
func LoadFile(path string, cfg DecoderConfig) ([]models.Data, error) {
	d, err := OpenDecoder(path, cfg)
	if err != nil {
		return nil, err
	}
	return codec.Collect[models.Data](d)
}
