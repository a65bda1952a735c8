package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/automatedhome/keybow/pkg/bridge"
	"github.com/automatedhome/keybow/pkg/config"
	"github.com/automatedhome/keybow/pkg/hastream"
	"github.com/automatedhome/keybow/pkg/mqtt"
	"github.com/automatedhome/keybow/pkg/types"
)

type Status struct {
	State string `json:"state"`
	Since int64  `json:"since"`
}

var (
	configPath string
	cfg        *config.Snapshot
	supervisor *bridge.Supervisor

	statusMu     sync.Mutex
	systemStatus Status
)

func setStatus(s string) {
	statusMu.Lock()
	systemStatus.State = s
	systemStatus.Since = time.Now().Unix()
	statusMu.Unlock()
}

func httpStatus(w http.ResponseWriter, r *http.Request) {
	statusMu.Lock()
	js, err := json.Marshal(systemStatus)
	statusMu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(js)
	if err != nil {
		log.Println(err)
	}
}

func httpHealthCheck(w http.ResponseWriter, r *http.Request) {
	timeout := time.Duration(1 * time.Minute)
	if supervisor.LastPass().Add(timeout).After(time.Now()) {
		w.WriteHeader(200)
	} else {
		w.WriteHeader(500)
	}
}

func init() {
	configFile := flag.String("config", "bridge_config.json", "Bridge configuration file (JSON or YAML)")
	flag.Parse()

	configPath = *configFile

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	log.Printf("Home Assistant: %s", cfg.HomeAssistantURL)
	log.Printf("Serial port:    %s @ %d baud", cfg.SerialPort, cfg.BaudRate)
	log.Printf("Mapped keys:    %d", len(cfg.Bindings))
	if cfg.Retry.MaxAttempts > 0 {
		log.Printf("Max retries:    %d", cfg.Retry.MaxAttempts)
	} else {
		log.Printf("Auto-restart:   enabled (unlimited retries)")
	}

	setStatus("startup")
}

func main() {
	reg := prometheus.NewRegistry()
	promMetrics := bridge.NewMetrics(reg)
	supervisor = bridge.NewSupervisor(configPath, cfg, promMetrics)

	var publisher *mqtt.Publisher
	if cfg.MQTTBroker != "" {
		var err error
		publisher, err = mqtt.NewPublisher(cfg.MQTTBroker, cfg.MQTTPrefix, supervisor.RequestResync)
		if err != nil {
			log.Printf("MQTT telemetry disabled: %v", err)
		} else {
			publisher.Available(true)
		}
	}

	supervisor.OnStateChange = func(state bridge.ConnectionState) {
		setStatus(state.String())
		if publisher != nil {
			publisher.LinkState(state.String())
		}
	}
	supervisor.OnOutcome = func(o types.ToggleOutcome) {
		if publisher != nil {
			publisher.Outcome(o)
		}
	}

	stopStream := make(chan struct{})
	if cfg.EventsEnabled {
		stream := hastream.NewClient(cfg.HomeAssistantURL, cfg.HomeAssistantToken, func(entityID, state string) {
			key, ok := supervisor.KeyFor(entityID)
			if !ok {
				return
			}
			switch state {
			case "on":
				supervisor.Push(bridge.StateUpdate{KeyIndex: key, State: types.On})
			case "off":
				supervisor.Push(bridge.StateUpdate{KeyIndex: key, State: types.Off})
			}
		})
		go stream.HandleWebsocketConnection(stopStream)
	}

	promHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	go func() {
		// Expose metrics
		http.Handle("/metrics", promHandler)
		// Report current status
		http.HandleFunc("/status", httpStatus)
		// Expose healthcheck
		http.HandleFunc("/health", httpHealthCheck)
		err := http.ListenAndServe(cfg.MetricsListen, nil)
		if err != nil {
			panic("HTTP Server for metrics exposition failed: " + err.Error())
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sig
		log.Printf("Received %s, shutting down", s)
		supervisor.Stop()
	}()

	err := supervisor.Run()
	close(stopStream)
	if publisher != nil {
		publisher.Close()
	}
	if err != nil {
		log.Fatalf("Bridge terminated: %v", err)
	}
	log.Println("Bridge stopped")
}
