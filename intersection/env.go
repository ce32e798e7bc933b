package intersection

import (
	"fmt"
	"strings"
)

// TrafficLight is the id of the junction's traffic light
const TrafficLight = "TL"

// NumCells is the size of the occupancy state: 8 lane groups of 10 cells
const NumCells = 80

// LaneLength is the length of each incoming lane in meters
const LaneLength = 750

// Traffic light phases, even phases are green and phase+1 is the matching yellow
const (
	PhaseNSGreen = iota * 2
	PhaseNSLGreen
	PhaseEWGreen
	PhaseEWLGreen
)

// NumActions is the number of green phases the agent can pick from
const NumActions = 4

// IncomingEdges are the four roads entering the junction
var IncomingEdges = []string{"N2TL", "S2TL", "E2TL", "W2TL"}

// cell upper bounds, in meters from the stop line
var cellBounds = []float64{7, 14, 21, 28, 40, 60, 100, 160, 400, 750}

// Conn is the part of the simulator connection the environment needs
type Conn interface {
	VehicleIDs() ([]string, error)
	LanePosition(vehicleID string) (float64, error)
	LaneID(vehicleID string) (string, error)
	RoadID(vehicleID string) (string, error)
	AccumulatedWaitingTime(vehicleID string) (float64, error)
	LastStepHaltingNumber(edgeID string) (int, error)
	SetPhase(tlsID string, phase int) error
	SimulationStep() error
	Close() error
}

// Env exposes the junction as an RL environment over a running simulation
type Env struct {
	conn     Conn
	maxSteps int
	step     int

	waitingTimes   map[string]float64
	sumQueueLength int
	sumWaitingTime int
	queueLengths   []int
}

func NewEnv(conn Conn, maxSteps int) *Env {
	return &Env{
		conn:         conn,
		maxSteps:     maxSteps,
		waitingTimes: make(map[string]float64),
		queueLengths: make([]int, 0, maxSteps),
	}
}

// Cell maps a distance from the stop line to its cell, -1 when outside the lane
func Cell(distance float64) int {
	for i, bound := range cellBounds {
		if distance < bound || (i == len(cellBounds)-1 && distance <= bound) {
			return i
		}
	}
	return -1
}

// LaneGroup maps a lane id to its group, -1 for lanes not entering the junction.
// Lane 3 of each arm is the left turn lane and gets its own group.
func LaneGroup(laneID string) int {
	edge, lane, ok := strings.Cut(laneID, "_")
	if !ok {
		return -1
	}
	arm := -1
	switch edge {
	case "W2TL":
		arm = 0
	case "N2TL":
		arm = 1
	case "E2TL":
		arm = 2
	case "S2TL":
		arm = 3
	default:
		return -1
	}
	switch lane {
	case "0", "1", "2":
		return arm * 2
	case "3":
		return arm*2 + 1
	}
	return -1
}

// State is the occupancy vector: cell group*10+cell is 1 when a car is in it
func (e *Env) State() ([]float64, error) {
	state := make([]float64, NumCells)
	ids, err := e.conn.VehicleIDs()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		pos, err := e.conn.LanePosition(id)
		if err != nil {
			return nil, err
		}
		lane, err := e.conn.LaneID(id)
		if err != nil {
			return nil, err
		}
		group := LaneGroup(lane)
		cell := Cell(LaneLength - pos)
		if group < 0 || cell < 0 {
			continue
		}
		state[group*10+cell] = 1
	}
	return state, nil
}

func isIncoming(road string) bool {
	for _, e := range IncomingEdges {
		if road == e {
			return true
		}
	}
	return false
}

// TotalWaitingTime sums the accumulated waiting time of cars on the incoming roads.
// A car is forgotten once it is seen past the junction.
func (e *Env) TotalWaitingTime() (float64, error) {
	ids, err := e.conn.VehicleIDs()
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		wait, err := e.conn.AccumulatedWaitingTime(id)
		if err != nil {
			return 0, err
		}
		road, err := e.conn.RoadID(id)
		if err != nil {
			return 0, err
		}
		if isIncoming(road) {
			e.waitingTimes[id] = wait
		} else {
			delete(e.waitingTimes, id)
		}
	}
	total := 0.0
	for _, w := range e.waitingTimes {
		total += w
	}
	return total, nil
}

// QueueLength is the number of halted cars on the incoming roads
func (e *Env) QueueLength() (int, error) {
	total := 0
	for _, edge := range IncomingEdges {
		n, err := e.conn.LastStepHaltingNumber(edge)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func checkAction(action int) error {
	if action < 0 || action >= NumActions {
		return fmt.Errorf("action %d out of range [0, %d)", action, NumActions)
	}
	return nil
}

// SetGreen activates the green phase of action
func (e *Env) SetGreen(action int) error {
	if err := checkAction(action); err != nil {
		return err
	}
	return e.conn.SetPhase(TrafficLight, action*2)
}

// SetYellow activates the yellow phase following the green of action
func (e *Env) SetYellow(action int) error {
	if err := checkAction(action); err != nil {
		return err
	}
	return e.conn.SetPhase(TrafficLight, action*2+1)
}

// Advance runs n simulation steps without exceeding the episode length and
// returns how many were run. Each step the queue length is recorded.
func (e *Env) Advance(n int) (int, error) {
	if e.step+n >= e.maxSteps {
		n = e.maxSteps - e.step
	}
	done := 0
	for ; done < n; done++ {
		if err := e.conn.SimulationStep(); err != nil {
			return done, err
		}
		e.step++
		q, err := e.QueueLength()
		if err != nil {
			return done + 1, err
		}
		e.sumQueueLength += q
		// one second of waiting per halted car per step
		e.sumWaitingTime += q
		e.queueLengths = append(e.queueLengths, q)
	}
	return done, nil
}

func (e *Env) Step() int {
	return e.step
}

func (e *Env) Done() bool {
	return e.step >= e.maxSteps
}

func (e *Env) MaxSteps() int {
	return e.maxSteps
}

func (e *Env) SumQueueLength() int {
	return e.sumQueueLength
}

func (e *Env) SumWaitingTime() int {
	return e.sumWaitingTime
}

// QueueLengths is the per step queue length series
func (e *Env) QueueLengths() []int {
	return e.queueLengths
}

func (e *Env) Close() error {
	return e.conn.Close()
}
