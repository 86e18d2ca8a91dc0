package dbn

import (
	"bufio"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/multierr"
)

// Encoder пишет DBN-поток: заголовок с метаданными и записи
type Encoder struct {
	bw  *bufio.Writer
	zw  *zstd.Encoder
	n   int
	err error
}

// NewEncoder пишет заголовок сразу. compress - сжимать поток zstd.
func NewEncoder(w io.Writer, meta Metadata, compress bool) (*Encoder, error) {
	e := &Encoder{}
	if compress {
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		e.zw = zw
		w = zw
	}
	e.bw = bufio.NewWriter(w)

	body, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	hdr := &writer{b: make([]byte, 0, 8+len(body))}
	hdr.b = append(hdr.b, fileMagic...)
	hdr.u8(fileVersion)
	hdr.u32(uint32(len(body)))
	hdr.b = append(hdr.b, body...)
	if _, err := e.bw.Write(hdr.b); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return e, nil
}

// Write добавляет запись; первая ошибка запоминается и возвращается дальше
func (e *Encoder) Write(rec Record) error {
	if e.err != nil {
		return e.err
	}
	b, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	if _, err := e.bw.Write(b); err != nil {
		e.err = fmt.Errorf("write record: %w", err)
		return e.err
	}
	e.n++
	return nil
}

// Count - число записанных записей
func (e *Encoder) Count() int { return e.n }

// Close дописывает буфер и закрывает zstd-поток; w не закрывается
func (e *Encoder) Close() error {
	err := e.bw.Flush()
	if e.zw != nil {
		err = multierr.Append(err, e.zw.Close())
	}
	return multierr.Append(e.err, err)
}
