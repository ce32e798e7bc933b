package traci

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/zeu5/traffic-signal-rl/logging"
)

// Client drives a SUMO instance over one TraCI connection. A client is not safe for
// concurrent use; the simulation loop owns it.
type Client struct {
	conn    net.Conn
	timeout time.Duration
	closed  bool
}

// Dial connects to a TraCI server at addr
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	return NewClient(conn), nil
}

func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn}
}

// SetTimeout bounds every request/response exchange, 0 disables the deadline
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

func (c *Client) exchange(id byte, content []byte) (*Reader, error) {
	if c.closed {
		return nil, net.ErrClosed
	}
	if c.timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.timeout))
	}

	var body Buffer
	body.PutCommand(id, content)
	if err := WriteMessage(c.conn, body.Bytes()); err != nil {
		return nil, fmt.Errorf("traci: send command 0x%02x: %w", id, err)
	}
	resp, err := ReadMessage(c.conn)
	if err != nil {
		return nil, fmt.Errorf("traci: read response to 0x%02x: %w", id, err)
	}

	r := NewReader(resp)
	statusID, _, err := r.CommandHeader()
	if err != nil {
		return nil, err
	}
	if statusID != id {
		return nil, fmt.Errorf("traci: status for 0x%02x, expected 0x%02x", statusID, id)
	}
	result, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	desc, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	if result != ResultOK {
		return nil, &Error{Command: id, Result: result, Description: desc}
	}
	return r, nil
}

// get issues a variable retrieval and returns the reader positioned at the value
func (c *Client) get(cmd, variable byte, objectID string, valueType byte) (*Reader, error) {
	var content Buffer
	content.PutByte(variable)
	content.PutString(objectID)

	r, err := c.exchange(cmd, content.Bytes())
	if err != nil {
		return nil, err
	}
	respID, _, err := r.CommandHeader()
	if err != nil {
		return nil, err
	}
	if respID != cmd+0x10 {
		return nil, fmt.Errorf("traci: response 0x%02x to get 0x%02x", respID, cmd)
	}
	gotVar, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if gotVar != variable {
		return nil, fmt.Errorf("traci: response for variable 0x%02x, expected 0x%02x", gotVar, variable)
	}
	if _, err := r.ReadString(); err != nil {
		return nil, err
	}
	if err := r.Expect(valueType); err != nil {
		return nil, err
	}
	return r, nil
}

func (c *Client) getString(cmd, variable byte, objectID string) (string, error) {
	r, err := c.get(cmd, variable, objectID, TypeString)
	if err != nil {
		return "", err
	}
	return r.ReadString()
}

func (c *Client) getDouble(cmd, variable byte, objectID string) (float64, error) {
	r, err := c.get(cmd, variable, objectID, TypeDouble)
	if err != nil {
		return 0, err
	}
	return r.ReadDouble()
}

// Version returns the API version and the server identifier
func (c *Client) Version() (int, string, error) {
	r, err := c.exchange(CmdGetVersion, nil)
	if err != nil {
		return 0, "", err
	}
	if _, _, err := r.CommandHeader(); err != nil {
		return 0, "", err
	}
	api, err := r.ReadInt()
	if err != nil {
		return 0, "", err
	}
	ident, err := r.ReadString()
	if err != nil {
		return 0, "", err
	}
	return int(api), ident, nil
}

// SimulationStep advances the simulation by one step
func (c *Client) SimulationStep() error {
	var content Buffer
	content.PutDouble(0)
	_, err := c.exchange(CmdSimStep, content.Bytes())
	return err
}

// VehicleIDs lists the vehicles currently in the network
func (c *Client) VehicleIDs() ([]string, error) {
	r, err := c.get(CmdGetVehicleVar, VarIDList, "", TypeStringList)
	if err != nil {
		return nil, err
	}
	return r.ReadStringList()
}

func (c *Client) LanePosition(vehicleID string) (float64, error) {
	return c.getDouble(CmdGetVehicleVar, VarLanePosition, vehicleID)
}

func (c *Client) LaneID(vehicleID string) (string, error) {
	return c.getString(CmdGetVehicleVar, VarLaneID, vehicleID)
}

func (c *Client) RoadID(vehicleID string) (string, error) {
	return c.getString(CmdGetVehicleVar, VarRoadID, vehicleID)
}

func (c *Client) AccumulatedWaitingTime(vehicleID string) (float64, error) {
	return c.getDouble(CmdGetVehicleVar, VarAccumulatedWaiting, vehicleID)
}

// LastStepHaltingNumber is the number of halting vehicles on edge in the last step
func (c *Client) LastStepHaltingNumber(edgeID string) (int, error) {
	r, err := c.get(CmdGetEdgeVar, VarLastStepHalting, edgeID, TypeInteger)
	if err != nil {
		return 0, err
	}
	n, err := r.ReadInt()
	return int(n), err
}

// SetPhase switches the traffic light program of tlsID to phase
func (c *Client) SetPhase(tlsID string, phase int) error {
	var content Buffer
	content.PutByte(VarPhase)
	content.PutString(tlsID)
	content.PutByte(TypeInteger)
	content.PutInt(int32(phase))
	_, err := c.exchange(CmdSetTrafficLight, content.Bytes())
	return err
}

// Close asks the simulator to terminate and closes the connection
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	_, err := c.exchange(CmdClose, nil)
	c.closed = true
	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}
	logging.Debug("Closed TraCI connection", logging.Traci, "remote", c.conn.RemoteAddr(), "error", err)
	return err
}
