// This package provides utilities that underlie the specific commands.
// The idea is to make the specific command files very small, e.g.:
//
//    func main() {
//      var c cmd.Config
//      cmd.FailOnError(cmd.ReadConfigFile(*configFile, &c), "reading config")
//      scope, logger := cmd.StatsAndLogging(c.Syslog)
//      // command logic
//    }
//
// All commands share the same invocation pattern.  They take a single
// parameter "-config", which is the name of a JSON or YAML file containing
// the configuration for the app.  This file is unmarshalled into a Config
// object, which is provided to the app.

package cmd

import (
	"encoding/json"
	"expvar" // For DebugServer, below.
	"fmt"
	"io/ioutil"
	golog "log"
	"log/syslog"
	"net"
	"net/http"
	_ "net/http/pprof" // HTTP performance profiling, added transparently to HTTP APIs
	"os"
	"os/signal"
	"path"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	ll "github.com/dominionrnd/crypto-licensing/log"
	"github.com/dominionrnd/crypto-licensing/metrics"
)

// BuildID, BuildTime and BuildHost are overridden at link time via
// -ldflags, e.g. -X github.com/dominionrnd/crypto-licensing/cmd.BuildID=....
var (
	BuildID   = "unknown"
	BuildTime = "unknown"
	BuildHost = "unknown"
)

// Because we don't know when this init will be called with respect to
// flag.Parse() and other flag definitions, we can't rely on the regular
// flag mechanism. But this one is fine.
func init() {
	for _, v := range os.Args {
		if v == "--version" || v == "-version" {
			fmt.Println(VersionString())
			os.Exit(0)
		}
	}
}

// syslogWriter adapts a *syslog.Writer to the log package's io.Writer
// expectations. Every record is sent at Info priority; a record's own level
// appears only as the level name in its text.
type syslogWriter struct {
	w *syslog.Writer
}

func (s syslogWriter) Write(p []byte) (int, error) {
	return len(p), s.w.Info(string(p))
}

// StatsAndLogging constructs a metrics.Scope and a log.Logger based on its
// config parameters, and returns them both. Crashes if any setup fails.
// Also installs the constructed Logger as the package-level default so
// library code that falls back to log.Get() picks it up.
func StatsAndLogging(logConf SyslogConfig) (metrics.Scope, ll.Logger) {
	scope := metrics.NewPromScope(prometheus.DefaultRegisterer)

	tag := path.Base(os.Args[0])
	var logger ll.Logger
	if logConf.Network != "" || logConf.Server != "" {
		syslogger, err := syslog.Dial(logConf.Network, logConf.Server, syslog.LOG_INFO, tag)
		FailOnError(err, "could not connect to syslog")
		level := ll.LevelInfo
		if logConf.StdoutLevel != nil {
			level = ll.Level(*logConf.StdoutLevel)
		}
		logger = ll.New(syslogWriter{syslogger}, tag, level)
	} else {
		logger = ll.NewStdout(tag)
	}

	ll.Set(logger)
	return scope, logger
}

// FailOnError exits and prints an error message if we encountered a problem
func FailOnError(err error, msg string) {
	if err != nil {
		logger := ll.Get()
		logger.AuditErr(fmt.Sprintf("%s: %s", msg, err))
		fmt.Fprintf(os.Stderr, "%s: %s\n", msg, err)
		os.Exit(1)
	}
}

// ProfileCmd runs forever, sending Go runtime statistics to the given scope.
func ProfileCmd(stats metrics.Scope) {
	stats = stats.NewScope("Gostats")
	var memoryStats runtime.MemStats
	prevNumGC := int64(0)
	c := time.Tick(1 * time.Second)
	for range c {
		runtime.ReadMemStats(&memoryStats)

		stats.Gauge("Goroutines", int64(runtime.NumGoroutine()))

		stats.Gauge("Heap.Alloc", int64(memoryStats.HeapAlloc))
		stats.Gauge("Heap.Objects", int64(memoryStats.HeapObjects))
		stats.Gauge("Heap.Idle", int64(memoryStats.HeapIdle))
		stats.Gauge("Heap.InUse", int64(memoryStats.HeapInuse))
		stats.Gauge("Heap.Released", int64(memoryStats.HeapReleased))

		if memoryStats.NumGC > 0 {
			totalRecentGC := uint64(0)
			realBufSize := uint32(256)
			if memoryStats.NumGC < 256 {
				realBufSize = memoryStats.NumGC
			}
			for _, pause := range memoryStats.PauseNs {
				totalRecentGC += pause
			}
			gcPauseAvg := totalRecentGC / uint64(realBufSize)
			lastGC := memoryStats.PauseNs[(memoryStats.NumGC+255)%256]
			stats.Timing("Gc.PauseAvg", int64(gcPauseAvg))
			stats.Gauge("Gc.LastPause", int64(lastGC))
		}
		stats.Gauge("Gc.NextAt", int64(memoryStats.NextGC))
		stats.Gauge("Gc.Count", int64(memoryStats.NumGC))
		gcInc := int64(memoryStats.NumGC) - prevNumGC
		stats.Inc("Gc.Rate", gcInc)
		prevNumGC += gcInc
	}
}

// DebugServer starts a server to expose expvar, pprof, and Prometheus
// metrics.  Typical usage is to start it in a goroutine, configured with
// an address from the appropriate configuration object:
//
//   go cmd.DebugServer(c.DebugAddr)
func DebugServer(addr string) {
	_ = expvar.NewMap("enabled-features")
	if addr == "" {
		golog.Fatalf("unable to boot debug server because no address was given for it. Set debugAddr.")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		golog.Fatalf("unable to boot debug server on %#v", addr)
	}
	http.Handle("/metrics", promhttp.Handler())
	err = http.Serve(ln, nil)
	if err != nil {
		golog.Fatalf("unable to boot debug server: %v", err)
	}
}

// ReadConfigFile takes a file path as an argument and attempts to
// unmarshal the content of the file into a Config struct. JSON and YAML
// are both accepted, selected by the file's extension (.yaml/.yml vs
// anything else, which is treated as JSON).
func ReadConfigFile(filename string, out interface{}) error {
	configData, err := ioutil.ReadFile(filename)
	if err != nil {
		return err
	}
	if ext := strings.ToLower(path.Ext(filename)); ext == ".yaml" || ext == ".yml" {
		return yaml.Unmarshal(configData, out)
	}
	return json.Unmarshal(configData, out)
}

// VersionString produces a friendly application version string.
func VersionString() string {
	name := path.Base(os.Args[0])
	return fmt.Sprintf("Versions: %s=(%s %s) Golang=(%s) BuildHost=(%s)", name, BuildID, BuildTime, runtime.Version(), BuildHost)
}

var signalToName = map[os.Signal]string{
	syscall.SIGTERM: "SIGTERM",
	syscall.SIGINT:  "SIGINT",
	syscall.SIGHUP:  "SIGHUP",
}

// CatchSignals catches SIGTERM, SIGINT, SIGHUP and executes a callback
// method before exiting
func CatchSignals(logger ll.Logger, callback func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, syscall.SIGINT)
	signal.Notify(sigChan, syscall.SIGHUP)

	sig := <-sigChan
	logger.Info("Caught %s", signalToName[sig])

	if callback != nil {
		callback()
	}

	logger.Info("Exiting")
	os.Exit(0)
}
