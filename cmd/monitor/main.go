package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
)

// BackpressureReport mirrors the report published by the query service.
type BackpressureReport struct {
	ServiceName      string    `json:"service_name"`
	PendingMessages  int64     `json:"pending_messages"`
	ActiveProcessing int64     `json:"active_processing"`
	InFlight         int       `json:"in_flight_requests"`
	AuditDropped     int64     `json:"audit_dropped"`
	Timestamp        time.Time `json:"timestamp"`
	WorkerCount      int       `json:"worker_count"`
	Status           string    `json:"status"`
}

// Heartbeat mirrors the health status published by the query service.
type Heartbeat struct {
	ServiceName string            `json:"service_name"`
	Status      string            `json:"status"`
	Offline     bool              `json:"offline_mode"`
	Models      map[string]string `json:"models"`
	Endpoint    string            `json:"endpoint"`
}

func main() {
	var natsURL = flag.String("nats", nats.DefaultURL, "NATS server URL")
	var topic = flag.String("topic", "monitoring.backpressure.*", "Backpressure topic to watch")
	flag.Parse()

	nc, err := nats.Connect(*natsURL)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer nc.Close()

	_, err = nc.Subscribe(*topic, func(msg *nats.Msg) {
		var report BackpressureReport
		if err := json.Unmarshal(msg.Data, &report); err != nil {
			log.Printf("Failed to parse report from %s: %v", msg.Subject, err)
			return
		}
		fmt.Printf("[%s] %-12s status=%-8s pending=%d active=%d in_flight=%d audit_dropped=%d workers=%d\n",
			report.Timestamp.Format("15:04:05"),
			report.ServiceName,
			report.Status,
			report.PendingMessages,
			report.ActiveProcessing,
			report.InFlight,
			report.AuditDropped,
			report.WorkerCount)
	})
	if err != nil {
		log.Fatalf("Failed to subscribe to %s: %v", *topic, err)
	}

	_, err = nc.Subscribe("models.*.heartbeat", func(msg *nats.Msg) {
		var hb Heartbeat
		if err := json.Unmarshal(msg.Data, &hb); err != nil {
			return
		}
		mode := "live"
		if hb.Offline {
			mode = "offline-stub"
		}
		fmt.Printf("[heartbeat] %-12s status=%-8s mode=%s endpoint=%s models=%v\n",
			hb.ServiceName, hb.Status, mode, hb.Endpoint, hb.Models)
	})
	if err != nil {
		log.Fatalf("Failed to subscribe to heartbeats: %v", err)
	}

	log.Printf("Monitoring %s (press Ctrl+C to exit)", *topic)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
