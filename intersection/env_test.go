package intersection

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type car struct {
	lane string
	road string
	pos  float64
	wait float64
}

type fakeConn struct {
	cars    map[string]*car
	order   []string
	halting map[string]int
	phases  []int
	steps   int
	stepErr error
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{cars: map[string]*car{}, halting: map[string]int{}}
}

func (f *fakeConn) add(id string, c *car) {
	f.cars[id] = c
	f.order = append(f.order, id)
}

func (f *fakeConn) VehicleIDs() ([]string, error) {
	ids := make([]string, 0, len(f.order))
	for _, id := range f.order {
		if _, ok := f.cars[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeConn) get(id string) (*car, error) {
	c, ok := f.cars[id]
	if !ok {
		return nil, errors.New("unknown vehicle " + id)
	}
	return c, nil
}

func (f *fakeConn) LanePosition(id string) (float64, error) {
	c, err := f.get(id)
	if err != nil {
		return 0, err
	}
	return c.pos, nil
}

func (f *fakeConn) LaneID(id string) (string, error) {
	c, err := f.get(id)
	if err != nil {
		return "", err
	}
	return c.lane, nil
}

func (f *fakeConn) RoadID(id string) (string, error) {
	c, err := f.get(id)
	if err != nil {
		return "", err
	}
	return c.road, nil
}

func (f *fakeConn) AccumulatedWaitingTime(id string) (float64, error) {
	c, err := f.get(id)
	if err != nil {
		return 0, err
	}
	return c.wait, nil
}

func (f *fakeConn) LastStepHaltingNumber(edge string) (int, error) {
	return f.halting[edge], nil
}

func (f *fakeConn) SetPhase(_ string, phase int) error {
	f.phases = append(f.phases, phase)
	return nil
}

func (f *fakeConn) SimulationStep() error {
	if f.stepErr != nil {
		return f.stepErr
	}
	f.steps++
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestCell(t *testing.T) {
	cases := map[float64]int{
		0: 0, 6.9: 0, 7: 1, 13.5: 1, 20: 2, 27: 3, 39: 4, 59: 5,
		99: 6, 159: 7, 399: 8, 400: 9, 750: 9, 751: -1,
	}
	for d, want := range cases {
		assert.Equal(t, want, Cell(d), "distance %v", d)
	}
}

func TestLaneGroup(t *testing.T) {
	cases := map[string]int{
		"W2TL_0": 0, "W2TL_2": 0, "W2TL_3": 1,
		"N2TL_1": 2, "N2TL_3": 3,
		"E2TL_0": 4, "E2TL_3": 5,
		"S2TL_2": 6, "S2TL_3": 7,
		"TL2N_0": -1, ":TL_0_0": -1, "W2TL": -1, "W2TL_4": -1,
	}
	for lane, want := range cases {
		assert.Equal(t, want, LaneGroup(lane), lane)
	}
}

func TestState(t *testing.T) {
	conn := newFakeConn()
	conn.add("a", &car{lane: "W2TL_0", pos: 745})   // 5m from the stop line
	conn.add("b", &car{lane: "N2TL_3", pos: 700})   // 50m, left lane
	conn.add("c", &car{lane: "S2TL_1", pos: 0})     // far end
	conn.add("d", &car{lane: "TL2E_0", pos: 10})    // leaving
	conn.add("e", &car{lane: "E2TL_2", pos: 744.5}) // 5.5m

	env := NewEnv(conn, 100)
	state, err := env.State()
	require.NoError(t, err)
	require.Len(t, state, NumCells)

	want := map[int]bool{0: true, 35: true, 69: true, 40: true}
	for i, v := range state {
		if want[i] {
			assert.Equal(t, 1.0, v, "cell %d", i)
		} else {
			assert.Equal(t, 0.0, v, "cell %d", i)
		}
	}
}

func TestTotalWaitingTimeForgetsCarsPastJunction(t *testing.T) {
	conn := newFakeConn()
	conn.add("a", &car{road: "W2TL", wait: 4})
	conn.add("b", &car{road: "N2TL", wait: 2})
	env := NewEnv(conn, 100)

	total, err := env.TotalWaitingTime()
	require.NoError(t, err)
	assert.Equal(t, 6.0, total)

	conn.cars["a"].road = "TL2E"
	conn.cars["b"].wait = 5
	total, err = env.TotalWaitingTime()
	require.NoError(t, err)
	assert.Equal(t, 5.0, total)
}

func TestPhases(t *testing.T) {
	conn := newFakeConn()
	env := NewEnv(conn, 100)
	require.NoError(t, env.SetGreen(0))
	require.NoError(t, env.SetGreen(3))
	require.NoError(t, env.SetYellow(1))
	assert.Error(t, env.SetGreen(4))
	assert.Error(t, env.SetYellow(-1))
	assert.Equal(t, []int{PhaseNSGreen, PhaseEWLGreen, PhaseNSLGreen + 1}, conn.phases)
}

func TestAdvanceClipsToMaxSteps(t *testing.T) {
	conn := newFakeConn()
	conn.halting["N2TL"] = 2
	conn.halting["W2TL"] = 1
	env := NewEnv(conn, 12)

	n, err := env.Advance(10)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	n, err = env.Advance(10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, env.Done())
	assert.Equal(t, 12, conn.steps)
	assert.Equal(t, 12, env.Step())
	assert.Equal(t, 36, env.SumQueueLength())
	assert.Equal(t, 36, env.SumWaitingTime())
	assert.Len(t, env.QueueLengths(), 12)

	n, err = env.Advance(4)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAdvanceStepError(t *testing.T) {
	conn := newFakeConn()
	conn.stepErr = errors.New("connection reset")
	env := NewEnv(conn, 10)
	n, err := env.Advance(3)
	assert.Error(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, env.Close())
	assert.True(t, conn.closed)
}
