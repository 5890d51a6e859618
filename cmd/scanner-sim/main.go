// scanner-sim publishes synthetic advertisement events so the gateway can be
// exercised without radio hardware.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type advertisementPayload struct {
	SourceID   string `json:"source_id"`
	Address    string `json:"address,omitempty"`
	RSSI       int    `json:"rssi"`
	Namespace  string `json:"namespace,omitempty"`
	InstanceHi string `json:"instance_hi,omitempty"`
	InstanceLo string `json:"instance_lo,omitempty"`
	TxPower    *int   `json:"tx_power,omitempty"`
}

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	scannerID := flag.String("scanner-id", "sim-scanner-1", "Scanner identifier used in the topic")
	address := flag.String("address", "aa:bb:cc:dd:ee:ff", "Simulated radio address")
	namespace := flag.String("namespace", "edd1ebeac04e5defa017", "Beacon namespace identifier (empty for unknown devices)")
	instanceHi := flag.String("instance-hi", "0001", "Beacon instance high word")
	instanceLo := flag.String("instance-lo", "0002", "Beacon instance low word")
	txPower := flag.Int("tx-power", -59, "Calibrated reference power at 1m (use 127 to omit)")
	interval := flag.Duration("interval", 2*time.Second, "Interval between published advertisements")
	baseRSSI := flag.Int("base-rssi", -60, "Baseline RSSI value to simulate")
	rssiJitter := flag.Int("rssi-jitter", 6, "Maximum random jitter applied to RSSI readings")

	flag.Parse()

	clientID := fmt.Sprintf("%s-simulator-%d", *scannerID, time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to broker: %v", token.Error())
	}
	log.Printf("connected to MQTT broker %s as %s", *brokerAddr, clientID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	publish := func() {
		payload := advertisementPayload{
			SourceID:   *scannerID,
			Address:    *address,
			RSSI:       randomRSSI(*baseRSSI, *rssiJitter),
			Namespace:  *namespace,
			InstanceHi: *instanceHi,
			InstanceLo: *instanceLo,
		}
		if *txPower != 127 {
			payload.TxPower = txPower
		}

		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("failed to encode payload: %v", err)
			return
		}

		topic := fmt.Sprintf("scanners/%s/advertisements", *scannerID)
		token := client.Publish(topic, 0, false, data)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("publish error: %v", err)
			return
		}
		log.Printf("published %s rssi=%d", topic, payload.RSSI)
	}

	publish()

	for {
		select {
		case <-ctx.Done():
			log.Print("received shutdown signal, disconnecting")
			client.Disconnect(250)
			return
		case <-ticker.C:
			publish()
		}
	}
}

func randomRSSI(base, jitter int) int {
	if jitter <= 0 {
		return base
	}
	delta := rand.Intn(jitter*2+1) - jitter
	return base + delta
}
