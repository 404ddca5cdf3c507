package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sarchlab/mmusim/datarecording"
	"github.com/sarchlab/mmusim/mem/trace"
	"github.com/sarchlab/mmusim/mem/vm"
	"github.com/sarchlab/mmusim/mem/vm/mmu"
	"github.com/sarchlab/mmusim/mem/vm/tlb"
	"github.com/spf13/pflag"
	"github.com/tebeka/atexit"
)

// EnvPrefix starts the name of the environment variables that set flags.
const EnvPrefix = "MMUSIM_"

type options struct {
	pageSize        uint64
	virtualBits     uint64
	physicalBits    uint64
	tlbCapacity     int
	pageCount       uint64
	frameCount      uint64
	policy          string
	presentFraction float64
	seed            int64
	envFile         string
	traceDB         string
	traceLog        string
}

func defaultOptions() *options {
	return &options{
		pageSize:        4096,
		virtualBits:     32,
		physicalBits:    24,
		tlbCapacity:     16,
		policy:          tlb.PolicyFIFO.String(),
		presentFraction: vm.DefaultPresentFraction,
	}
}

func (o *options) bindFlags(f *pflag.FlagSet) {
	f.Uint64Var(&o.pageSize, "page-size", o.pageSize,
		"Page size in bytes, a power of 2.")
	f.Uint64Var(&o.virtualBits, "virtual-bits", o.virtualBits,
		"Width of a virtual address.")
	f.Uint64Var(&o.physicalBits, "physical-bits", o.physicalBits,
		"Width of a physical address.")
	f.IntVar(&o.tlbCapacity, "tlb-capacity", o.tlbCapacity,
		"Number of TLB entries.")
	f.Uint64Var(&o.pageCount, "page-count", o.pageCount,
		"Number of virtual pages. 0 derives it from --virtual-bits.")
	f.Uint64Var(&o.frameCount, "frame-count", o.frameCount,
		"Number of physical frames. 0 derives it from --physical-bits.")
	f.StringVar(&o.policy, "policy", o.policy,
		"TLB eviction policy, fifo or lru.")
	f.Float64Var(&o.presentFraction, "present-fraction", o.presentFraction,
		"Share of the pages that are resident.")
	f.Int64Var(&o.seed, "seed", o.seed,
		"Seed of the page assignment. -1 takes a seed from the clock.")
	f.StringVar(&o.envFile, "env-file", o.envFile,
		"File with MMUSIM_* variables.")
	f.StringVar(&o.traceDB, "trace-db", o.traceDB,
		"Record every translation into <trace-db>.sqlite3, or into a "+
			"clickhouse:// DSN.")
	f.StringVar(&o.traceLog, "trace-log", o.traceLog,
		"Log every translation into a file, - for stderr.")
}

// envName turns a flag name such as page-size into MMUSIM_PAGE_SIZE.
func envName(flagName string) string {
	return EnvPrefix +
		strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyEnv sets the flags that are not given on the command line from the
// environment and then from the env file.
func applyEnv(flags *pflag.FlagSet, envFile string) error {
	fileEnv := map[string]string{}

	if envFile != "" {
		var err error

		fileEnv, err = godotenv.Read(envFile)
		if err != nil {
			return fmt.Errorf("reading env file: %w", err)
		}
	}

	var firstErr error

	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed || firstErr != nil {
			return
		}

		name := envName(f.Name)

		value, found := os.LookupEnv(name)
		if !found {
			value, found = fileEnv[name]
		}

		if !found {
			return
		}

		err := flags.Set(f.Name, value)
		if err != nil {
			firstErr = fmt.Errorf("%s: %w", name, err)
		}
	})

	return firstErr
}

func (o *options) config() (vm.Config, error) {
	return vm.MakeConfigBuilder().
		WithPageSize(o.pageSize).
		WithVirtualAddressBits(o.virtualBits).
		WithPhysicalAddressBits(o.physicalBits).
		WithTLBCapacity(o.tlbCapacity).
		WithPageCount(o.pageCount).
		WithFrameCount(o.frameCount).
		Build()
}

func (o *options) engineBuilder() (mmu.Builder, error) {
	cfg, err := o.config()
	if err != nil {
		return mmu.Builder{}, err
	}

	policy, err := tlb.ParsePolicy(o.policy)
	if err != nil {
		return mmu.Builder{}, err
	}

	b := mmu.MakeBuilder().
		WithConfig(cfg).
		WithTLBPolicy(policy).
		WithPresentFraction(o.presentFraction)

	if o.seed == -1 {
		return b.WithAssigner(
			vm.NewUnseededRandomAssigner(o.presentFraction)), nil
	}

	return b.WithSeed(o.seed), nil
}

// newEngine builds the engine described by the options with the requested
// tracers attached.
func (o *options) newEngine() (*mmu.Engine, error) {
	b, err := o.engineBuilder()
	if err != nil {
		return nil, err
	}

	if o.traceLog != "" {
		w, err := o.traceLogWriter()
		if err != nil {
			return nil, err
		}

		b = b.WithHook(trace.NewLogTracer(log.New(w, "", 0)))
	}

	if o.traceDB != "" {
		recorder, err := datarecording.NewWithConfig(
			datarecording.ParseTarget(o.traceDB))
		if err != nil {
			return nil, err
		}

		tracer, err := trace.NewDBTracer(recorder)
		if err != nil {
			return nil, err
		}

		b = b.WithHook(tracer)
	}

	return b.Build("mmu")
}

func (o *options) traceLogWriter() (io.Writer, error) {
	if o.traceLog == "-" {
		return os.Stderr, nil
	}

	f, err := os.Create(o.traceLog)
	if err != nil {
		return nil, err
	}

	atexit.Register(func() { f.Close() })

	return f, nil
}
