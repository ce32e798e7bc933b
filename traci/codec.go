package traci

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Command identifiers
const (
	CmdGetVersion      byte = 0x00
	CmdSimStep         byte = 0x02
	CmdClose           byte = 0x7F
	CmdGetVehicleVar   byte = 0xa4
	CmdGetEdgeVar      byte = 0xaa
	CmdSetTrafficLight byte = 0xc2
)

// Variable identifiers
const (
	VarIDList             byte = 0x00
	VarRoadID             byte = 0x50
	VarLaneID             byte = 0x51
	VarLanePosition       byte = 0x56
	VarAccumulatedWaiting byte = 0x87
	VarLastStepHalting    byte = 0x14
	VarPhase              byte = 0x22
)

// Value type tags
const (
	TypeInteger    byte = 0x09
	TypeDouble     byte = 0x0B
	TypeString     byte = 0x0C
	TypeStringList byte = 0x0E
)

// Status result codes
const (
	ResultOK             byte = 0x00
	ResultNotImplemented byte = 0x01
	ResultError          byte = 0xFF
)

var ErrShortMessage = errors.New("traci: message truncated")

// Error is a non OK status returned by the simulator for a command
type Error struct {
	Command     byte
	Result      byte
	Description string
}

func (e *Error) Error() string {
	return fmt.Sprintf("traci: command 0x%02x failed (result 0x%02x): %s", e.Command, e.Result, e.Description)
}

// Buffer accumulates a message body in TraCI encoding
type Buffer struct {
	bytes.Buffer
}

func (b *Buffer) PutByte(v byte) {
	b.WriteByte(v)
}

func (b *Buffer) PutInt(v int32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	b.Write(tmp[:])
}

func (b *Buffer) PutDouble(v float64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v))
	b.Write(tmp[:])
}

func (b *Buffer) PutString(v string) {
	b.PutInt(int32(len(v)))
	b.WriteString(v)
}

func (b *Buffer) PutStringList(v []string) {
	b.PutInt(int32(len(v)))
	for _, s := range v {
		b.PutString(s)
	}
}

// PutCommand appends one command: length, id and content. Contents longer than 253
// bytes use the extended length form.
func (b *Buffer) PutCommand(id byte, content []byte) {
	n := len(content) + 2
	if n <= 255 {
		b.PutByte(byte(n))
	} else {
		b.PutByte(0)
		b.PutInt(int32(n + 4))
	}
	b.PutByte(id)
	b.Write(content)
}

// Reader decodes values out of a received message
type Reader struct {
	data []byte
	off  int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) Len() int {
	return len(r.data) - r.off
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.Len() < n {
		return nil, ErrShortMessage
	}
	out := r.data[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *Reader) ReadByte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadInt() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (r *Reader) ReadDouble() (float64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadInt()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) ReadStringList() ([]string, error) {
	n, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, ErrShortMessage
	}
	out := make([]string, 0, n)
	for i := int32(0); i < n; i++ {
		s, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Expect reads a type tag and fails if it is not want
func (r *Reader) Expect(want byte) error {
	got, err := r.ReadByte()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("traci: expected type 0x%02x, got 0x%02x", want, got)
	}
	return nil
}

// CommandHeader reads a command length (normal or extended) and id and returns the
// reader positioned at the content with the content length
func (r *Reader) CommandHeader() (id byte, contentLen int, err error) {
	l, err := r.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	n := int(l) - 2
	if l == 0 {
		ext, err := r.ReadInt()
		if err != nil {
			return 0, 0, err
		}
		n = int(ext) - 6
	}
	id, err = r.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	if n < 0 || r.Len() < n {
		return 0, 0, ErrShortMessage
	}
	return id, n, nil
}

// WriteMessage frames body with the 4 byte total length
func WriteMessage(w io.Writer, body []byte) error {
	var head [4]byte
	binary.BigEndian.PutUint32(head[:], uint32(len(body)+4))
	if _, err := w.Write(append(head[:], body...)); err != nil {
		return err
	}
	return nil
}

// ReadMessage reads one framed message and returns its body
func ReadMessage(r io.Reader) ([]byte, error) {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint32(head[:])) - 4
	if n < 0 {
		return nil, ErrShortMessage
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
