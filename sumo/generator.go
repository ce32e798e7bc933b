package sumo

import (
	"encoding/xml"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Routes through the junction, named <from>_<to>
var (
	StraightRoutes = []string{"W_E", "E_W", "N_S", "S_N"}
	TurnRoutes     = []string{"W_N", "W_S", "N_W", "N_E", "E_N", "E_S", "S_W", "S_E"}
)

// StraightShare is the fraction of generated cars going straight
const StraightShare = 0.75

var routeEdges = map[string]string{
	"W_N": "W2TL TL2N", "W_E": "W2TL TL2E", "W_S": "W2TL TL2S",
	"N_W": "N2TL TL2W", "N_E": "N2TL TL2E", "N_S": "N2TL TL2S",
	"E_W": "E2TL TL2W", "E_N": "E2TL TL2N", "E_S": "E2TL TL2S",
	"S_W": "S2TL TL2W", "S_N": "S2TL TL2N", "S_E": "S2TL TL2E",
}

var routeOrder = []string{"W_N", "W_E", "W_S", "N_W", "N_E", "N_S", "E_W", "E_N", "E_S", "S_W", "S_N", "S_E"}

type vType struct {
	ID       string `xml:"id,attr"`
	Accel    string `xml:"accel,attr"`
	Decel    string `xml:"decel,attr"`
	Length   string `xml:"length,attr"`
	MinGap   string `xml:"minGap,attr"`
	MaxSpeed string `xml:"maxSpeed,attr"`
	Sigma    string `xml:"sigma,attr"`
}

type route struct {
	ID    string `xml:"id,attr"`
	Edges string `xml:"edges,attr"`
}

type Vehicle struct {
	ID          string `xml:"id,attr"`
	Type        string `xml:"type,attr"`
	Route       string `xml:"route,attr"`
	Depart      int    `xml:"depart,attr"`
	DepartLane  string `xml:"departLane,attr"`
	DepartSpeed string `xml:"departSpeed,attr"`
}

type routesFile struct {
	XMLName  xml.Name  `xml:"routes"`
	VType    vType     `xml:"vType"`
	Routes   []route   `xml:"route"`
	Vehicles []Vehicle `xml:"vehicle"`
}

var standardCar = vType{
	ID:       "standard_car",
	Accel:    "1.0",
	Decel:    "4.5",
	Length:   "5.0",
	MinGap:   "2.5",
	MaxSpeed: "25",
	Sigma:    "0.5",
}

// Generator writes the vehicle routes of one episode
type Generator struct {
	MaxSteps int
	NCars    int
}

// DepartSteps draws NCars Weibull(2) departure times and rescales them onto
// [0, MaxSteps], sorted ascending
func (g *Generator) DepartSteps(rng *rand.Rand) []int {
	if g.NCars <= 0 {
		return []int{}
	}
	w := distuv.Weibull{K: 2, Lambda: 1, Src: rng}
	timings := make([]float64, g.NCars)
	for i := range timings {
		timings[i] = w.Rand()
	}
	sort.Float64s(timings)

	minOld := math.Floor(timings[0])
	if len(timings) > 1 {
		minOld = math.Floor(timings[1])
	}
	maxOld := math.Ceil(timings[len(timings)-1])
	if maxOld <= minOld {
		maxOld = minOld + 1
	}
	maxNew := float64(g.MaxSteps)

	steps := make([]int, len(timings))
	for i, t := range timings {
		s := math.RoundToEven(maxNew/(maxOld-minOld)*(t-maxOld) + maxNew)
		steps[i] = int(math.Max(0, math.Min(maxNew, s)))
	}
	return steps
}

// Vehicles picks a route for each departure step
func (g *Generator) Vehicles(seed int64) []Vehicle {
	rng := rand.New(rand.NewSource(uint64(seed)))
	steps := g.DepartSteps(rng)

	vehicles := make([]Vehicle, 0, len(steps))
	for i, step := range steps {
		var name string
		if rng.Float64() < StraightShare {
			name = StraightRoutes[rng.Intn(len(StraightRoutes))]
		} else {
			name = TurnRoutes[rng.Intn(len(TurnRoutes))]
		}
		vehicles = append(vehicles, Vehicle{
			ID:          name + "_" + strconv.Itoa(i),
			Type:        standardCar.ID,
			Route:       name,
			Depart:      step,
			DepartLane:  "random",
			DepartSpeed: "10",
		})
	}
	return vehicles
}

// Generate writes the route file for the episode driven by seed to path
func (g *Generator) Generate(seed int64, path string) error {
	doc := routesFile{VType: standardCar, Vehicles: g.Vehicles(seed)}
	for _, name := range routeOrder {
		doc.Routes = append(doc.Routes, route{ID: name, Edges: routeEdges[name]})
	}

	out, err := xml.MarshalIndent(doc, "", "    ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, append([]byte(xml.Header), append(out, '\n')...), 0644); err != nil {
		return fmt.Errorf("write routes %s: %w", path, err)
	}
	return nil
}
