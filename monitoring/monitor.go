// Package monitoring turns a running simulation into a small HTTP server that
// reports component state and lets the user pause and continue the engine.
package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/sarchlab/hybridmem/sim/hooking"
	"github.com/sarchlab/hybridmem/sim/id"
	"github.com/sarchlab/hybridmem/sim/timing"
	"github.com/shirou/gopsutil/process"
	"github.com/sirupsen/logrus"
	"github.com/syifan/goseth"
)

// BufferLevel is the occupancy of one buffer of a component.
type BufferLevel struct {
	Buffer string `json:"buffer"`
	Level  int    `json:"level"`
	Cap    int    `json:"cap"`
}

func (b BufferLevel) percent() float64 {
	if b.Cap == 0 {
		return 0
	}

	return float64(b.Level) / float64(b.Cap)
}

// An Inspection is what a component shows to the monitor.
type Inspection struct {
	State   any
	Buffers []BufferLevel
}

// A Component can be inspected by the monitor. Inspect is only called from
// the goroutine that runs the engine.
type Component interface {
	Name() string
	Inspect() Inspection
}

// Monitor serves the state of a running simulation over HTTP and lets a
// client pause the engine between events.
type Monitor struct {
	portNumber       int
	snapshotInterval uint64
	components       []Component

	lock      sync.Mutex
	resumed   *sync.Cond
	paused    bool
	now       timing.VTimeInCycle
	numEvents uint64
	snapshots map[string]Inspection

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a Monitor that snapshots components every 1000 events.
func NewMonitor() *Monitor {
	m := &Monitor{
		snapshotInterval: 1000,
		snapshots:        make(map[string]Inspection),
	}
	m.resumed = sync.NewCond(&m.lock)

	return m
}

// WithPortNumber sets the port of the API server. Ports below 1000 are
// replaced by a random port.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		logrus.Warnf("monitor: port %d is reserved, using a random port",
			portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithSnapshotInterval sets after how many events the component state is
// captured again.
func (m *Monitor) WithSnapshotInterval(numEvents uint64) *Monitor {
	m.snapshotInterval = max(numEvents, 1)
	return m
}

// RegisterEngine attaches the monitor to the engine that runs the simulation.
func (m *Monitor) RegisterEngine(e hooking.Hookable) {
	e.AcceptHook(m)
}

// RegisterComponent adds a component to inspect and snapshots it.
func (m *Monitor) RegisterComponent(c Component) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.components = append(m.components, c)
	m.snapshots[c.Name()] = c.Inspect()
}

// Func captures component state every few events and blocks the engine while
// the simulation is paused.
func (m *Monitor) Func(ctx hooking.HookCtx) {
	if ctx.Pos != timing.HookPosAfterEvent {
		return
	}

	evt, ok := ctx.Item.(timing.ScheduledEvent)
	if !ok {
		return
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	m.now = evt.Time
	m.numEvents++

	if m.paused || m.numEvents%m.snapshotInterval == 0 {
		m.takeSnapshots()
	}

	for m.paused {
		m.resumed.Wait()
	}
}

// Refresh captures the component state right away. It must not run
// concurrently with the engine.
func (m *Monitor) Refresh(now timing.VTimeInCycle) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.now = now
	m.takeSnapshots()
}

func (m *Monitor) takeSnapshots() {
	for _, c := range m.components {
		m.snapshots[c.Name()] = c.Inspect()
	}
}

// Now returns the time of the last event the monitor saw.
func (m *Monitor) Now() timing.VTimeInCycle {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.now
}

// Pause stops the engine after the event that it is currently handling.
func (m *Monitor) Pause() {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.paused = true
}

// Continue resumes a paused engine.
func (m *Monitor) Continue() {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.paused = false
	m.resumed.Broadcast()
}

// CreateProgressBar adds a progress bar to the API.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        id.Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a finished bar from the API.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

func (m *Monitor) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/pause", m.pauseEngine)
	r.HandleFunc("/api/continue", m.continueEngine)
	r.HandleFunc("/api/now", m.reportNow)
	r.HandleFunc("/api/list_components", m.listComponents)
	r.HandleFunc("/api/component/{name}", m.listComponentDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/hangdetector/buffers", m.hangDetectorBuffers)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)

	return r
}

// StartServer starts the monitor as a web server and returns its address.
func (m *Monitor) StartServer() string {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring simulation with %s\n", url)

	go func() {
		err := http.Serve(listener, m.router())
		dieOnErr(err)
	}()

	return url
}

func (m *Monitor) pauseEngine(w http.ResponseWriter, _ *http.Request) {
	m.Pause()
	_, err := w.Write(nil)
	dieOnErr(err)
}

func (m *Monitor) continueEngine(w http.ResponseWriter, _ *http.Request) {
	m.Continue()
	_, err := w.Write(nil)
	dieOnErr(err)
}

func (m *Monitor) reportNow(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintf(w, "{\"now\":%d}", m.Now())
}

func (m *Monitor) listComponents(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	names := make([]string, 0, len(m.components))
	for _, c := range m.components {
		names = append(names, c.Name())
	}
	m.lock.Unlock()

	bytes, err := json.Marshal(names)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func (m *Monitor) listComponentDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	snapshot, found := m.findSnapshotOr404(w, name)
	if !found {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(snapshot.State)
	serializer.SetMaxDepth(2)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	CompName  string `json:"comp_name,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	snapshot, found := m.findSnapshotOr404(w, req.CompName)
	if !found {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(snapshot.State)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	err = serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) findSnapshotOr404(
	w http.ResponseWriter,
	name string,
) (Inspection, bool) {
	m.lock.Lock()
	snapshot, found := m.snapshots[name]
	m.lock.Unlock()

	if !found {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Component not found"))
		dieOnErr(err)
	}

	return snapshot, found
}

func (m *Monitor) hangDetectorBuffers(w http.ResponseWriter, r *http.Request) {
	sortMethod, limit, offset, err := parseBufferParams(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	sortedBuffers := sortAndSelectBuffers(
		m.allBuffers(), sortMethod, limit, offset)

	bytes, err := json.Marshal(sortedBuffers)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func (m *Monitor) allBuffers() []BufferLevel {
	m.lock.Lock()
	defer m.lock.Unlock()

	var buffers []BufferLevel
	for _, c := range m.components {
		buffers = append(buffers, m.snapshots[c.Name()].Buffers...)
	}

	return buffers
}

func parseBufferParams(
	r *http.Request,
) (sortMethod string, limit, offset int, err error) {
	query := r.URL.Query()

	sortMethod = query.Get("sort")
	if sortMethod == "" {
		sortMethod = "percent"
	}

	if sortMethod != "level" && sortMethod != "percent" {
		return "", 0, 0, fmt.Errorf(
			"invalid sort method: %s, allowed values are level and percent",
			sortMethod)
	}

	limit, err = intParam(query.Get("limit"))
	if err != nil {
		return sortMethod, 0, 0, err
	}

	offset, err = intParam(query.Get("offset"))
	if err != nil {
		return sortMethod, limit, 0, err
	}

	return sortMethod, limit, offset, nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}

	if n < 0 {
		return 0, errors.New("negative value " + s)
	}

	return n, nil
}

// sortAndSelectBuffers orders the buffers from the most to the least
// occupied. A zero limit returns everything after the offset.
func sortAndSelectBuffers(
	buffers []BufferLevel,
	sortMethod string,
	limit, offset int,
) []BufferLevel {
	sorted := make([]BufferLevel, len(buffers))
	copy(sorted, buffers)

	byLevel := func(i, j int) bool {
		if sorted[i].Level != sorted[j].Level {
			return sorted[i].Level > sorted[j].Level
		}

		return sorted[i].percent() > sorted[j].percent()
	}

	byPercent := func(i, j int) bool {
		if sorted[i].percent() != sorted[j].percent() {
			return sorted[i].percent() > sorted[j].percent()
		}

		return sorted[i].Level > sorted[j].Level
	}

	switch sortMethod {
	case "level":
		sort.SliceStable(sorted, byLevel)
	case "percent":
		sort.SliceStable(sorted, byPercent)
	default:
		panic("invalid sort method " + sortMethod)
	}

	offset = min(offset, len(sorted))
	sorted = sorted[offset:]

	if limit > 0 && limit < len(sorted) {
		sorted = sorted[:limit]
	}

	return sorted
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()

	m.progressBarsLock.Lock()
	bars := make([]progressBarStatus, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.status(now))
	}
	m.progressBarsLock.Unlock()

	bytes, err := json.Marshal(bars)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	rsp := resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	}

	bytes, err := json.Marshal(rsp)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	bytes, err := json.Marshal(prof)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		logrus.Panic(err)
	}
}
