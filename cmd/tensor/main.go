// Command tensor runs the monitoring agent: load a YAML config, configure
// and start the supervisor, serve the admin status endpoint, and shut down
// cleanly on SIGINT/SIGTERM.
//
// Grounded on original_source/twisted/plugins/tensor_plugin.py (the
// --config/-c flag and tensor.yml default) and service.py's
// startService/stopService pair.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/calston/tensor-go/adminhttp"
	"github.com/calston/tensor-go/config"
	_ "github.com/calston/tensor-go/outputs"
	"github.com/calston/tensor-go/selfmetrics"
	_ "github.com/calston/tensor-go/sources/dockerstat"
	_ "github.com/calston/tensor-go/sources/generator"
	_ "github.com/calston/tensor-go/sources/logfollow"
	_ "github.com/calston/tensor-go/sources/process"
	"github.com/calston/tensor-go/supervisor"
)

func main() {
	configPath := flag.String("config", "tensor.yml", "config file")
	flag.StringVar(configPath, "c", "tensor.yml", "config file (shorthand)")
	adminAddr := flag.String("admin", "", "admin HTTP listen address, e.g. :8000 (disabled if empty)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	os.Exit(run(*configPath, *adminAddr))
}

func run(configPath, adminAddr string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Error("tensor: failed to load config")
		return 1
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	registerSelfMetrics(cfg)

	sup := supervisor.New(cfg)
	if err := sup.Configure(); err != nil {
		log.WithError(err).Error("tensor: failed to configure supervisor")
		return 1
	}
	if err := sup.Start(); err != nil {
		log.WithError(err).Error("tensor: failed to start supervisor")
		return 1
	}
	log.Info("tensor: started")

	if adminAddr != "" {
		go serveAdmin(adminAddr, sup)
	}

	waitForSignal()

	log.Info("tensor: shutting down")
	sup.Stop()
	log.Info("tensor: stopped")
	return 0
}

// registerSelfMetrics ensures the self-metrics source is present in the
// config's source list even when the operator didn't list it explicitly,
// mirroring the original's always-on internal reporting source.
func registerSelfMetrics(cfg *config.Config) {
	for _, sc := range cfg.Sources {
		if sc.Source == selfmetrics.RegistryName {
			return
		}
	}
	cfg.Sources = append(cfg.Sources, config.SourceConfig{
		Source:   selfmetrics.RegistryName,
		Service:  "tensor",
		Interval: cfg.Interval,
		TTL:      cfg.TTL,
		Hostname: cfg.Hostname,
	})
}

func serveAdmin(addr string, sup *supervisor.Supervisor) {
	log.WithField("addr", addr).Info("tensor: admin HTTP listening")
	if err := http.ListenAndServe(addr, adminhttp.NewRouter(sup)); err != nil {
		log.WithError(err).Error("tensor: admin HTTP server exited")
	}
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
}
