package messages

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/shruggr/thinrelay/models"
)

// MaxMessagePayload is the largest payload accepted for any message
const MaxMessagePayload = 32 * 1024 * 1024

// An Encoder writes wire objects to an underlying stream. The first error
// is sticky and returned by Flush.
type Encoder struct {
	w   io.Writer
	buf [1024]byte
	n   int
	err error
}

// NewEncoder returns an Encoder that wraps the provided stream.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Flush writes any pending data to the underlying stream. It returns the first
// error encountered by the Encoder.
func (e *Encoder) Flush() error {
	if e.err == nil && e.n > 0 {
		_, e.err = e.w.Write(e.buf[:e.n])
		e.n = 0
	}
	return e.err
}

// Write implements io.Writer.
func (e *Encoder) Write(p []byte) (int, error) {
	lenp := len(p)
	for e.err == nil && len(p) > 0 {
		if e.n == len(e.buf) {
			e.Flush()
		}
		c := copy(e.buf[e.n:], p)
		e.n += c
		p = p[c:]
	}
	return lenp, e.err
}

// WriteBool writes a single byte bool
func (e *Encoder) WriteBool(b bool) {
	var v uint8
	if b {
		v = 1
	}
	e.WriteUint8(v)
}

// WriteUint8 writes a uint8 value
func (e *Encoder) WriteUint8(u uint8) {
	e.Write([]byte{u})
}

// WriteUint32 writes a little-endian uint32
func (e *Encoder) WriteUint32(u uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], u)
	e.Write(buf[:])
}

// WriteUint64 writes a little-endian uint64
func (e *Encoder) WriteUint64(u uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], u)
	e.Write(buf[:])
}

// WriteVarInt writes a Bitcoin CompactSize integer
func (e *Encoder) WriteVarInt(u uint64) {
	switch {
	case u < 0xfd:
		e.WriteUint8(uint8(u))
	case u <= math.MaxUint16:
		var buf [3]byte
		buf[0] = 0xfd
		binary.LittleEndian.PutUint16(buf[1:], uint16(u))
		e.Write(buf[:])
	case u <= math.MaxUint32:
		e.WriteUint8(0xfe)
		e.WriteUint32(uint32(u))
	default:
		e.WriteUint8(0xff)
		e.WriteUint64(u)
	}
}

// WriteVarBytes writes a CompactSize length-prefixed byte slice
func (e *Encoder) WriteVarBytes(b []byte) {
	e.WriteVarInt(uint64(len(b)))
	e.Write(b)
}

// WriteVarString writes a CompactSize length-prefixed string
func (e *Encoder) WriteVarString(s string) {
	e.WriteVarBytes([]byte(s))
}

// WriteHash writes a 32-byte hash in internal byte order
func (e *Encoder) WriteHash(h chainhash.Hash) {
	e.Write(h[:])
}

// WriteHeader writes an 80-byte block header
func (e *Encoder) WriteHeader(h *models.BlockHeader) {
	e.Write(h.Bytes())
}

// WriteTx writes a transaction in its standard serialization
func (e *Encoder) WriteTx(tx *transaction.Transaction) {
	if tx == nil {
		if e.err == nil {
			e.err = fmt.Errorf("cannot encode nil transaction")
		}
		return
	}
	e.Write(tx.Bytes())
}

// A Decoder reads wire objects from an underlying stream. Once an error
// occurs every subsequent read returns zero values.
type Decoder struct {
	lr  io.LimitedReader
	buf [80]byte
	err error
}

// NewDecoder returns a Decoder that reads at most limit bytes from r.
func NewDecoder(r io.Reader, limit int64) *Decoder {
	return &Decoder{lr: io.LimitedReader{R: r, N: limit}}
}

// SetErr sets the Decoder's error if it has not already been set.
func (d *Decoder) SetErr(err error) {
	if err != nil && d.err == nil {
		d.err = err
		d.buf = [len(d.buf)]byte{}
	}
}

// Err returns the first error encountered during decoding.
func (d *Decoder) Err() error { return d.err }

// Remaining returns the number of unread bytes allowed by the limit
func (d *Decoder) Remaining() int64 { return d.lr.N }

// Read implements io.Reader. It always returns an error if fewer than
// len(p) bytes were read.
func (d *Decoder) Read(p []byte) (int, error) {
	n := 0
	for len(p[n:]) > 0 && d.err == nil {
		read, err := io.ReadFull(&d.lr, d.buf[:min(len(p[n:]), len(d.buf))])
		n += copy(p[n:], d.buf[:read])
		d.SetErr(err)
	}
	return n, d.err
}

// ReadBool reads a single byte bool
func (d *Decoder) ReadBool() bool {
	switch v := d.ReadUint8(); v {
	case 0:
		return false
	case 1:
		return true
	default:
		d.SetErr(fmt.Errorf("invalid bool value (%v)", v))
		return false
	}
}

// ReadUint8 reads a uint8 value
func (d *Decoder) ReadUint8() uint8 {
	d.Read(d.buf[:1])
	return d.buf[0]
}

// ReadUint32 reads a little-endian uint32
func (d *Decoder) ReadUint32() uint32 {
	d.Read(d.buf[:4])
	return binary.LittleEndian.Uint32(d.buf[:4])
}

// ReadUint64 reads a little-endian uint64
func (d *Decoder) ReadUint64() uint64 {
	d.Read(d.buf[:8])
	return binary.LittleEndian.Uint64(d.buf[:8])
}

// ReadVarInt reads a Bitcoin CompactSize integer and rejects
// non-canonical encodings
func (d *Decoder) ReadVarInt() uint64 {
	switch prefix := d.ReadUint8(); prefix {
	case 0xfd:
		d.Read(d.buf[:2])
		v := uint64(binary.LittleEndian.Uint16(d.buf[:2]))
		if v < 0xfd {
			d.SetErr(fmt.Errorf("non-canonical varint %d", v))
		}
		return v
	case 0xfe:
		v := uint64(d.ReadUint32())
		if v <= math.MaxUint16 {
			d.SetErr(fmt.Errorf("non-canonical varint %d", v))
		}
		return v
	case 0xff:
		v := d.ReadUint64()
		if v <= math.MaxUint32 {
			d.SetErr(fmt.Errorf("non-canonical varint %d", v))
		}
		return v
	default:
		return uint64(prefix)
	}
}

// ReadCount reads a CompactSize element count. Each element occupies at
// least minSize bytes, so counts that cannot fit in the remaining stream
// are rejected before anything is allocated.
func (d *Decoder) ReadCount(max uint64, minSize int64, what string) int {
	n := d.ReadVarInt()
	if d.err != nil {
		return 0
	}
	if n > max {
		d.SetErr(fmt.Errorf("too many %s (%d > %d)", what, n, max))
		return 0
	}
	if minSize > 0 && n > uint64(d.lr.N/minSize) {
		d.SetErr(fmt.Errorf("encoded %s count %d exceeds remaining %d bytes", what, n, d.lr.N))
		return 0
	}
	return int(n)
}

// ReadVarBytes reads a CompactSize length-prefixed byte slice
func (d *Decoder) ReadVarBytes(max uint64) []byte {
	n := d.ReadCount(max, 1, "bytes")
	if d.err != nil {
		return nil
	}
	b := make([]byte, n)
	d.Read(b)
	return b
}

// ReadVarString reads a CompactSize length-prefixed string
func (d *Decoder) ReadVarString(max uint64) string {
	return string(d.ReadVarBytes(max))
}

// ReadHash reads a 32-byte hash
func (d *Decoder) ReadHash() (h chainhash.Hash) {
	d.Read(h[:])
	return
}

// ReadHeader reads an 80-byte block header
func (d *Decoder) ReadHeader() models.BlockHeader {
	d.Read(d.buf[:models.HeaderSize])
	if d.err != nil {
		return models.BlockHeader{}
	}
	h, err := models.ParseBlockHeader(d.buf[:models.HeaderSize])
	if err != nil {
		d.SetErr(err)
		return models.BlockHeader{}
	}
	return *h
}

// ReadTx reads one transaction
func (d *Decoder) ReadTx() *transaction.Transaction {
	if d.err != nil {
		return nil
	}
	tx := &transaction.Transaction{}
	if _, err := tx.ReadFrom(d); err != nil {
		d.SetErr(fmt.Errorf("failed to parse transaction: %w", err))
		return nil
	}
	return tx
}

// minTxSize is the smallest possible serialized transaction
const minTxSize = 10

// Encode serializes a message payload
func Encode(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	msg.EncodeTo(e)
	if err := e.Flush(); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", msg.Command(), err)
	}
	return buf.Bytes(), nil
}

// DecodeInto deserializes payload into msg and requires every byte to be
// consumed
func DecodeInto(payload []byte, msg Message) error {
	if len(payload) > MaxMessagePayload {
		return fmt.Errorf("%s payload too large: %d bytes", msg.Command(), len(payload))
	}
	d := NewDecoder(bytes.NewReader(payload), int64(len(payload)))
	msg.DecodeFrom(d)
	if err := d.Err(); err != nil {
		return fmt.Errorf("failed to decode %s: %w", msg.Command(), err)
	}
	if d.Remaining() != 0 {
		return fmt.Errorf("failed to decode %s: %d trailing bytes", msg.Command(), d.Remaining())
	}
	return nil
}
