// Package monitoring turns a translation engine into a web server so that it
// can be inspected and driven over HTTP.
package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"reflect"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/rs/xid"
	"github.com/sarchlab/mmusim/mem/vm"
	"github.com/sarchlab/mmusim/mem/vm/mmu"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

// Monitor serves the state of an engine and accepts commands for it.
type Monitor struct {
	engine     *mmu.Engine
	portNumber int

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
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
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterEngine registers the engine to monitor.
func (m *Monitor) RegisterEngine(e *mmu.Engine) {
	m.engine = e
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        xid.New().String(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
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

// TranslateBatch translates the addresses in order and tracks the progress
// with a progress bar. It stops at the first address error. The bar is
// removed once the batch is done.
func (m *Monitor) TranslateBatch(addrs []uint64) ([]mmu.Result, error) {
	bar := m.CreateProgressBar("translate", uint64(len(addrs)))
	defer m.CompleteProgressBar(bar)

	return m.translateWithBar(bar, addrs)
}

func (m *Monitor) translateWithBar(
	bar *ProgressBar,
	addrs []uint64,
) ([]mmu.Result, error) {
	results := make([]mmu.Result, 0, len(addrs))

	for _, addr := range addrs {
		bar.IncrementInProgress(1)

		res, err := m.engine.Translate(addr)
		if err != nil {
			return results, err
		}

		if res.PageFault {
			bar.IncrementFaults(1)
		}

		results = append(results, res)
		bar.MoveInProgressToFinished(1)
	}

	return results, nil
}

// Router returns the handler that serves the API.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/config", m.config).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", m.stats).Methods(http.MethodGet)
	r.HandleFunc("/api/stats/reset", m.resetStats).Methods(http.MethodPost)
	r.HandleFunc("/api/translate/{addr}", m.translate).Methods(http.MethodGet)
	r.HandleFunc("/api/translate", m.translateBatch).Methods(http.MethodPost)
	r.HandleFunc("/api/rebuild", m.rebuild).Methods(http.MethodPost)
	r.HandleFunc("/api/remap/{vpn}/{pfn}", m.remap).Methods(http.MethodPost)
	r.HandleFunc("/api/unmap/{vpn}", m.unmap).Methods(http.MethodPost)
	r.HandleFunc("/api/tlb", m.listTLB).Methods(http.MethodGet)
	r.HandleFunc("/api/pagetable", m.listPageTable).Methods(http.MethodGet)
	r.HandleFunc("/api/frame/{pfn}", m.readFrame).Methods(http.MethodGet)
	r.HandleFunc("/api/engine", m.engineDetails).Methods(http.MethodGet)
	r.HandleFunc("/api/field/{json}", m.listFieldValue).Methods(http.MethodGet)
	r.HandleFunc("/api/progress", m.listProgressBars).Methods(http.MethodGet)
	r.HandleFunc("/api/resource", m.listResources).Methods(http.MethodGet)
	r.HandleFunc("/api/profile", m.collectProfile).Methods(http.MethodGet)

	return r
}

// StartServer starts the monitor as a web server and returns its URL.
func (m *Monitor) StartServer() string {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)

	fmt.Fprintf(os.Stderr, "Monitoring engine %s with %s\n",
		m.engine.Name(), url)

	router := m.Router()

	go func() {
		err := http.Serve(listener, router)
		dieOnErr(err)
	}()

	return url
}

func (m *Monitor) config(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.engine.Config())
}

func (m *Monitor) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.engine.Statistics())
}

func (m *Monitor) resetStats(w http.ResponseWriter, _ *http.Request) {
	m.engine.ResetStatistics()
	writeJSON(w, m.engine.Statistics())
}

type translateRsp struct {
	mmu.Result
	Data string `json:"data,omitempty"`
}

func (m *Monitor) translate(w http.ResponseWriter, r *http.Request) {
	addr, err := vm.ParseAddress(mux.Vars(r)["addr"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, data, err := m.engine.Access(addr)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}

	writeJSON(w, translateRsp{Result: res, Data: string(data)})
}

type batchRsp struct {
	Results    []mmu.Result           `json:"results"`
	Statistics mmu.StatisticsSnapshot `json:"statistics"`
}

func (m *Monitor) translateBatch(w http.ResponseWriter, r *http.Request) {
	var req []string

	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	addrs := make([]uint64, len(req))
	for i, s := range req {
		addrs[i], err = vm.ParseAddress(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	results, err := m.TranslateBatch(addrs)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}

	writeJSON(w, batchRsp{
		Results:    results,
		Statistics: m.engine.Statistics(),
	})
}

// rebuildReq holds the fields of a rebuild body. Absent fields keep the value
// of the current config, except the page and frame counts, which are derived
// again when the page size or an address width changes.
type rebuildReq struct {
	PageSize            *uint64 `json:"page_size"`
	VirtualAddressBits  *uint64 `json:"virtual_address_bits"`
	PhysicalAddressBits *uint64 `json:"physical_address_bits"`
	TLBCapacity         *int    `json:"tlb_capacity"`
	PageCount           *uint64 `json:"page_count"`
	FrameCount          *uint64 `json:"frame_count"`

	// Seed is optional. Without it, a seed is taken from the clock.
	Seed *int64 `json:"seed,omitempty"`
}

func (req rebuildReq) config(cur vm.Config) vm.Config {
	cfg := cur

	pageSizeChanged := override(&cfg.PageSize, req.PageSize)
	vaChanged := override(&cfg.VirtualAddressBits, req.VirtualAddressBits)
	paChanged := override(&cfg.PhysicalAddressBits, req.PhysicalAddressBits)

	if pageSizeChanged || vaChanged {
		cfg.PageCount = 0
	}

	if pageSizeChanged || paChanged {
		cfg.FrameCount = 0
	}

	override(&cfg.PageCount, req.PageCount)
	override(&cfg.FrameCount, req.FrameCount)

	if req.TLBCapacity != nil {
		cfg.TLBCapacity = *req.TLBCapacity
	}

	return cfg
}

// override sets dst to the value of src, if any, and reports whether dst
// changed.
func override(dst, src *uint64) bool {
	if src == nil || *src == *dst {
		return false
	}

	*dst = *src

	return true
}

type rebuildRsp struct {
	Config vm.Config `json:"config"`
	Seed   int64     `json:"seed"`
}

func (m *Monitor) rebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildReq

	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cfg := req.config(m.engine.Config())

	var seed int64

	if req.Seed != nil {
		seed = *req.Seed
		err = m.engine.Rebuild(cfg, seed)
	} else {
		seed, err = m.engine.RebuildUnseeded(cfg)
	}

	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}

	writeJSON(w, rebuildRsp{Config: m.engine.Config(), Seed: seed})
}

func (m *Monitor) remap(w http.ResponseWriter, r *http.Request) {
	vpn, err := vm.ParseAddress(mux.Vars(r)["vpn"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	pfn, err := vm.ParseAddress(mux.Vars(r)["pfn"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err = m.engine.Remap(vpn, pfn)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}

	writeJSON(w, vm.PageTableEntry{VPN: vpn, PFN: pfn, Present: true})
}

func (m *Monitor) unmap(w http.ResponseWriter, r *http.Request) {
	vpn, err := vm.ParseAddress(mux.Vars(r)["vpn"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err = m.engine.Unmap(vpn)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}

	writeJSON(w, vm.PageTableEntry{VPN: vpn})
}

func (m *Monitor) listTLB(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.engine.TLBEntries())
}

func (m *Monitor) listPageTable(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.engine.PageTableEntries())
}

type frameRsp struct {
	PFN  uint64 `json:"pfn"`
	Data string `json:"data"`
}

func (m *Monitor) readFrame(w http.ResponseWriter, r *http.Request) {
	pfn, err := vm.ParseAddress(mux.Vars(r)["pfn"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	data, found := m.engine.ReadFrame(pfn)
	if !found {
		writeError(w, http.StatusNotFound,
			fmt.Errorf("frame 0x%x holds no page", pfn))
		return
	}

	writeJSON(w, frameRsp{PFN: pfn, Data: string(data)})
}

func (m *Monitor) engineDetails(w http.ResponseWriter, _ *http.Request) {
	state := m.engine.State()

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&state)
	serializer.SetMaxDepth(2)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	jsonString := mux.Vars(r)["json"]
	req := fieldReq{}

	err := json.Unmarshal([]byte(jsonString), &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	state := m.engine.State()

	_, err = walkFields(&state, req.FieldName)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&state)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	dieOnErr(err)

	err = serializer.Serialize(w)
	dieOnErr(err)
}

type fieldFormatError struct {
	path string
}

func (e fieldFormatError) Error() string {
	return "field " + e.path + " not found"
}

// walkFields follows a dot-separated path of field names and slice indexes.
func walkFields(root any, fields string) (reflect.Value, error) {
	elem := reflect.ValueOf(root)

	fieldNames := strings.Split(fields, ".")

	for len(fieldNames) > 0 {
		switch elem.Kind() {
		case reflect.Ptr, reflect.Interface:
			if elem.IsNil() {
				return elem, fieldFormatError{path: fields}
			}

			elem = elem.Elem()
		case reflect.Struct:
			elem = elem.FieldByName(fieldNames[0])
			if !elem.IsValid() {
				return elem, fieldFormatError{path: fields}
			}

			fieldNames = fieldNames[1:]
		case reflect.Slice:
			index, err := strconv.Atoi(fieldNames[0])
			if err != nil || index < 0 || index >= elem.Len() {
				return elem, fieldFormatError{path: fields}
			}

			elem = elem.Index(index)
			fieldNames = fieldNames[1:]
		default:
			return elem, fieldFormatError{path: fields}
		}
	}

	if elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}

	return elem, nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	writeJSON(w, m.progressBars)
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

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

var configErrors = []error{
	vm.ErrInvalidPageSize,
	vm.ErrInvalidAddressBits,
	vm.ErrZeroTLBCapacity,
	vm.ErrCapacityTooLarge,
	vm.ErrPageCountTooLarge,
	vm.ErrFrameCountTooLarge,
	vm.ErrAddressSpaceTooLarge,
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, vm.ErrAddressOutOfRange),
		errors.Is(err, vm.ErrVPNOutOfRange),
		errors.Is(err, vm.ErrPFNOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, vm.ErrFrameInUse):
		return http.StatusConflict
	}

	for _, configErr := range configErrors {
		if errors.Is(err, configErr) {
			return http.StatusUnprocessableEntity
		}
	}

	return http.StatusInternalServerError
}

type errorRsp struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	bytes, err := json.Marshal(errorRsp{Error: err.Error()})
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
