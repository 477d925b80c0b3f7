// Package monitoring turns a running simulation into a small web server so
// that its schedule and component state can be inspected from outside.
package monitoring

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/tangosim/tango/sim"
)

type registeredComponent struct {
	name string
	item any
}

// Monitor can turn a simulation into a server and allows external monitoring
// of the simulation.
type Monitor struct {
	engine        *sim.Engine
	components    []registeredComponent
	portNumber    int
	launchBrowser bool
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n",
			portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithBrowserLaunch lets the monitor open the served page in the default
// browser once the server is up.
func (m *Monitor) WithBrowserLaunch() *Monitor {
	m.launchBrowser = true
	return m
}

// RegisterEngine registers the engine that drives the simulation.
func (m *Monitor) RegisterEngine(e *sim.Engine) {
	m.engine = e
}

// RegisterComponent registers a component to be monitored under the given
// name.
func (m *Monitor) RegisterComponent(name string, c any) {
	m.components = append(m.components, registeredComponent{
		name: name,
		item: c,
	})
}

// StartServer starts the monitor as a web server, on the configured port or
// a random free one.
func (m *Monitor) StartServer() {
	r := mux.NewRouter()
	r.HandleFunc("/api/cycle", m.currentCycle)
	r.HandleFunc("/api/actions", m.listActions)
	r.HandleFunc("/api/schedule", m.lastSchedule)
	r.HandleFunc("/api/list_components", m.listComponents)
	r.HandleFunc("/api/component/{name}", m.listComponentDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/resource", m.listResources)

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
		err = http.Serve(listener, r)
		dieOnErr(err)
	}()

	if m.launchBrowser {
		err = browser.OpenURL(url)
		dieOnErr(err)
	}
}

func (m *Monitor) currentCycle(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintf(w, "{\"cycle\":%d}", m.engine.CurrentCycle())
}

type actionRsp struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

func (m *Monitor) listActions(w http.ResponseWriter, _ *http.Request) {
	sched := m.engine.Scheduler()

	actions := []actionRsp{}
	for _, method := range sched.Methods() {
		actions = append(actions, actionRsp{
			Name: method.Name(),
			Kind: method.Kind(),
		})
	}
	for _, trans := range sched.Transactions() {
		actions = append(actions, actionRsp{
			Name: trans.Name(),
			Kind: trans.Kind(),
		})
	}

	bytes, err := json.Marshal(actions)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

type scheduleRsp struct {
	Cycle    uint64   `json:"cycle"`
	Granted  []string `json:"granted"`
	Rejected []string `json:"rejected"`
}

func (m *Monitor) lastSchedule(w http.ResponseWriter, _ *http.Request) {
	s := m.engine.LastSchedule()
	if s == nil {
		fmt.Fprint(w, "{}")
		return
	}

	rsp := scheduleRsp{
		Cycle:    uint64(s.Cycle),
		Granted:  []string{},
		Rejected: []string{},
	}
	for _, tx := range s.Granted {
		rsp.Granted = append(rsp.Granted, tx.Name())
	}
	for _, tx := range s.Rejected {
		rsp.Rejected = append(rsp.Rejected, tx.Name())
	}

	bytes, err := json.Marshal(rsp)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func (m *Monitor) listComponents(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprint(w, "[")
	for i, c := range m.components {
		if i > 0 {
			fmt.Fprint(w, ",")
		}

		fmt.Fprintf(w, "%q", c.name)
	}
	fmt.Fprint(w, "]")
}

func (m *Monitor) listComponentDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	component := m.findComponentOr404(w, name)
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	CompName  string `json:"comp_name,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	jsonString := mux.Vars(r)["json"]
	req := fieldReq{}

	err := json.Unmarshal([]byte(jsonString), &req)
	if err != nil {
		dieOnErr(err)
	}

	fields := strings.Split(req.FieldName, ".")

	component := m.findComponentOr404(w, req.CompName)
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(fields)
	dieOnErr(err)

	err = serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) findComponentOr404(
	w http.ResponseWriter,
	name string,
) any {
	for _, c := range m.components {
		if c.name == name {
			return c.item
		}
	}

	w.WriteHeader(404)

	return nil
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

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
