// vmstatd boots the VM core, runs a paging workload against it, and
// exports the subsystem's counters over HTTP for prometheus.
package main

import (
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/povilasv/prommod"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/log"
	"github.com/prometheus/common/version"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"bdev"
	"defs"
	"fdops"
	"vm"
)

var (
	listenAddress = kingpin.Flag(
		"web.listen-address",
		"Address on which to expose metrics.",
	).Default(":9558").String()
	metricsPath = kingpin.Flag(
		"web.telemetry-path",
		"Path under which to expose metrics.",
	).Default("/metrics").String()
	poolPages = kingpin.Flag(
		"vm.pool-pages",
		"Number of physical frames in the user pool.",
	).Default("64").Int()
	swapSectors = kingpin.Flag(
		"vm.swap-sectors",
		"Size of the swap device in 512-byte sectors.",
	).Default("8192").Int()
	swapFile = kingpin.Flag(
		"vm.swap-file",
		"Back the swap device with this file instead of RAM.",
	).Default("").String()
	workloadPages = kingpin.Flag(
		"vm.workload-pages",
		"Anonymous pages each workload round touches.",
	).Default("96").Int()
)

const namespace = "vm"

type collector struct {
	faults     *prometheus.Desc
	faultFails *prometheus.Desc
	lazyInits  *prometheus.Desc
	swapIns    *prometheus.Desc
	swapOuts   *prometheus.Desc
	evictions  *prometheus.Desc
	writebacks *prometheus.Desc
	mmaps      *prometheus.Desc
	munmaps    *prometheus.Desc
	stackGrows *prometheus.Desc
}

func newCollector() *collector {
	d := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &collector{
		faults:     d("page_faults_total", "Page faults entering the resolver."),
		faultFails: d("page_fault_failures_total", "Faults rejected as illegal."),
		lazyInits:  d("lazy_inits_total", "First-touch page initializations."),
		swapIns:    d("swap_ins_total", "Pages read back from swap or file."),
		swapOuts:   d("swap_outs_total", "Anonymous pages written to swap."),
		evictions:  d("evictions_total", "Frames reclaimed by the clock."),
		writebacks: d("writebacks_total", "Dirty file pages written back."),
		mmaps:      d("mmaps_total", "File mappings established."),
		munmaps:    d("munmaps_total", "File mappings dismantled."),
		stackGrows: d("stack_growths_total", "Automatic stack extensions."),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.faults
	ch <- c.faultFails
	ch <- c.lazyInits
	ch <- c.swapIns
	ch <- c.swapOuts
	ch <- c.evictions
	ch <- c.writebacks
	ch <- c.mmaps
	ch <- c.munmaps
	ch <- c.stackGrows
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	st := vm.Vmstats
	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.faults, st.Faults.Get())
	counter(c.faultFails, st.Faultfails.Get())
	counter(c.lazyInits, st.Lazyinits.Get())
	counter(c.swapIns, st.Swapins.Get())
	counter(c.swapOuts, st.Swapouts.Get())
	counter(c.evictions, st.Evictions.Get())
	counter(c.writebacks, st.Writebacks.Get())
	counter(c.mmaps, st.Mmaps.Get())
	counter(c.munmaps, st.Munmaps.Get())
	counter(c.stackGrows, st.Stackgrows.Get())
}

func mkswap() (bdev.Disk_i, error) {
	if *swapFile != "" {
		disk, err := bdev.MkFiledisk(*swapFile, *swapSectors)
		if err != nil {
			return nil, errors.Wrap(err, "couldn't set up swap file")
		}
		return disk, nil
	}
	return bdev.MkMemdisk(*swapSectors), nil
}

// workload keeps steady paging traffic flowing: more anonymous pages
// than the pool holds, plus one write-through file mapping per round.
func workload() {
	const base = uintptr(0x10000000)
	const mapva = uintptr(0x20000000)
	for round := 0; ; round++ {
		as := vm.Mkvm()
		for i := 0; i < *workloadPages; i++ {
			va := base + uintptr(i*defs.PGSIZE)
			if !as.Vm_alloc_page(defs.VM_ANON, va, true) {
				log.Errorf("workload alloc failed at %#x", va)
				return
			}
			if err := as.Userwriten(va, 1, round&0xff); err != 0 {
				log.Errorf("workload store failed at %#x: %d", va, err)
				return
			}
		}
		mf := fdops.MkMemfile(make([]uint8, 2*defs.PGSIZE))
		if _, merr := as.Do_mmap(mapva, 2*defs.PGSIZE, true, mf, 0); merr != 0 {
			log.Errorf("workload mmap failed: %d", merr)
			return
		}
		if err := as.Userwriten(mapva+123, 1, round&0xff); err != 0 {
			log.Errorf("workload mapped store failed: %d", err)
			return
		}
		as.Do_munmap(mapva)
		vm.Spt_kill(as)
		time.Sleep(100 * time.Millisecond)
	}
}

func main() {
	log.AddFlags(kingpin.CommandLine)
	kingpin.Version(version.Print("vmstatd"))
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	disk, err := mkswap()
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	vm.Vm_init(*poolPages, disk)
	log.Infof("vm core up: %d frames, %d swap sectors", *poolPages, *swapSectors)

	go workload()

	prometheus.MustRegister(newCollector())
	prometheus.MustRegister(prommod.NewCollector("vmstatd"))

	http.Handle(*metricsPath, promhttp.Handler())
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>
			<head><title>VM Stats Exporter</title></head>
			<body>
			<h1>VM Stats Exporter</h1>
			<p><a href="` + *metricsPath + `">Metrics</a></p>
			</body>
			</html>`))
	})

	log.Infof("listening on %s", *listenAddress)
	log.Fatal(http.ListenAndServe(*listenAddress, nil))
}
