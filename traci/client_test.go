package traci

import (
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	cmd      byte
	variable byte
	object   string
	content  []byte
}

// scriptedServer answers each request with handler until the pipe closes
func scriptedServer(t *testing.T, handler func(req request) []byte) (*Client, chan request) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	seen := make(chan request, 64)

	go func() {
		defer serverConn.Close()
		for {
			body, err := ReadMessage(serverConn)
			if err != nil {
				return
			}
			r := NewReader(body)
			id, n, err := r.CommandHeader()
			if err != nil {
				return
			}
			raw := append([]byte(nil), body[len(body)-n:]...)
			req := request{cmd: id, content: raw}
			if id == CmdGetVehicleVar || id == CmdGetEdgeVar || id == CmdSetTrafficLight {
				req.variable, _ = r.ReadByte()
				req.object, _ = r.ReadString()
			}
			seen <- req
			if err := WriteMessage(serverConn, handler(req)); err != nil {
				return
			}
			if id == CmdClose {
				return
			}
		}
	}()

	c := NewClient(clientConn)
	c.SetTimeout(2 * time.Second)
	t.Cleanup(func() { clientConn.Close() })
	return c, seen
}

func okStatus(b *Buffer, id byte) {
	var s Buffer
	s.PutByte(ResultOK)
	s.PutString("")
	b.PutCommand(id, s.Bytes())
}

func getResponse(req request, valueType byte, value func(*Buffer)) []byte {
	var b Buffer
	okStatus(&b, req.cmd)
	var v Buffer
	v.PutByte(req.variable)
	v.PutString(req.object)
	v.PutByte(valueType)
	value(&v)
	b.PutCommand(req.cmd+0x10, v.Bytes())
	return b.Bytes()
}

func TestBufferCommandLengths(t *testing.T) {
	var b Buffer
	b.PutCommand(CmdSimStep, []byte{1, 2, 3})
	assert.Equal(t, []byte{5, CmdSimStep, 1, 2, 3}, b.Bytes())

	long := make([]byte, 300)
	var ext Buffer
	ext.PutCommand(CmdSetTrafficLight, long)
	r := NewReader(ext.Bytes())
	id, n, err := r.CommandHeader()
	require.NoError(t, err)
	assert.Equal(t, CmdSetTrafficLight, id)
	assert.Equal(t, 300, n)
	assert.Equal(t, byte(0), ext.Bytes()[0])
}

func TestReaderValues(t *testing.T) {
	var b Buffer
	b.PutInt(-7)
	b.PutDouble(12.5)
	b.PutString("W2TL_0")
	b.PutStringList([]string{"a", "bc"})

	r := NewReader(b.Bytes())
	i, err := r.ReadInt()
	require.NoError(t, err)
	assert.Equal(t, int32(-7), i)
	d, err := r.ReadDouble()
	require.NoError(t, err)
	assert.Equal(t, 12.5, d)
	s, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "W2TL_0", s)
	l, err := r.ReadStringList()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "bc"}, l)
	assert.Equal(t, 0, r.Len())

	_, err = r.ReadByte()
	assert.ErrorIs(t, err, ErrShortMessage)
}

func TestReadMessageFraming(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, WriteMessage(&sb, []byte{1, 2}))
	assert.Equal(t, "\x00\x00\x00\x06\x01\x02", sb.String())

	body, err := ReadMessage(strings.NewReader(sb.String()))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, body)

	_, err = ReadMessage(strings.NewReader("\x00\x00\x00\x09\x01"))
	assert.Error(t, err)
}

func TestClientVehicleQueries(t *testing.T) {
	c, _ := scriptedServer(t, func(req request) []byte {
		switch req.variable {
		case VarIDList:
			return getResponse(req, TypeStringList, func(b *Buffer) { b.PutStringList([]string{"W_E_0", "N_S_1"}) })
		case VarLanePosition:
			return getResponse(req, TypeDouble, func(b *Buffer) { b.PutDouble(745.5) })
		case VarLaneID:
			return getResponse(req, TypeString, func(b *Buffer) { b.PutString("W2TL_1") })
		case VarRoadID:
			return getResponse(req, TypeString, func(b *Buffer) { b.PutString("W2TL") })
		case VarAccumulatedWaiting:
			return getResponse(req, TypeDouble, func(b *Buffer) { b.PutDouble(3) })
		}
		return nil
	})

	ids, err := c.VehicleIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"W_E_0", "N_S_1"}, ids)

	pos, err := c.LanePosition("W_E_0")
	require.NoError(t, err)
	assert.Equal(t, 745.5, pos)

	lane, err := c.LaneID("W_E_0")
	require.NoError(t, err)
	assert.Equal(t, "W2TL_1", lane)

	road, err := c.RoadID("W_E_0")
	require.NoError(t, err)
	assert.Equal(t, "W2TL", road)

	wait, err := c.AccumulatedWaitingTime("W_E_0")
	require.NoError(t, err)
	assert.Equal(t, 3.0, wait)
}

func TestClientEdgeAndTrafficLight(t *testing.T) {
	c, seen := scriptedServer(t, func(req request) []byte {
		if req.cmd == CmdGetEdgeVar {
			return getResponse(req, TypeInteger, func(b *Buffer) { b.PutInt(4) })
		}
		var b Buffer
		okStatus(&b, req.cmd)
		return b.Bytes()
	})

	n, err := c.LastStepHaltingNumber("N2TL")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	req := <-seen
	assert.Equal(t, "N2TL", req.object)
	assert.Equal(t, VarLastStepHalting, req.variable)

	require.NoError(t, c.SetPhase("TL", 3))
	req = <-seen
	assert.Equal(t, CmdSetTrafficLight, req.cmd)
	assert.Equal(t, VarPhase, req.variable)
	assert.Equal(t, "TL", req.object)
	// type tag then the phase as int
	assert.Equal(t, []byte{TypeInteger, 0, 0, 0, 3}, req.content[len(req.content)-5:])

	require.NoError(t, c.SimulationStep())
	req = <-seen
	assert.Equal(t, CmdSimStep, req.cmd)

	require.NoError(t, c.Close())
	req = <-seen
	assert.Equal(t, CmdClose, req.cmd)
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.SimulationStep(), net.ErrClosed)
}

func TestClientErrorStatus(t *testing.T) {
	c, _ := scriptedServer(t, func(req request) []byte {
		var s Buffer
		s.PutByte(ResultError)
		s.PutString("Vehicle 'ghost' is not known")
		var b Buffer
		b.PutCommand(req.cmd, s.Bytes())
		return b.Bytes()
	})

	_, err := c.LanePosition("ghost")
	var terr *Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, CmdGetVehicleVar, terr.Command)
	assert.Contains(t, terr.Error(), "ghost")
}

func TestClientTypeMismatch(t *testing.T) {
	c, _ := scriptedServer(t, func(req request) []byte {
		return getResponse(req, TypeString, func(b *Buffer) { b.PutString("oops") })
	})
	_, err := c.LanePosition("v")
	assert.Error(t, err)
}

func TestClientVersion(t *testing.T) {
	c, _ := scriptedServer(t, func(req request) []byte {
		var b Buffer
		okStatus(&b, req.cmd)
		var v Buffer
		v.PutInt(21)
		v.PutString("SUMO 1.19.0")
		b.PutCommand(CmdGetVersion, v.Bytes())
		return b.Bytes()
	})
	api, ident, err := c.Version()
	require.NoError(t, err)
	assert.Equal(t, 21, api)
	assert.Equal(t, "SUMO 1.19.0", ident)
}
