package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/broker"
	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/config"
)

var (
	device    string
	facility  string
	zone      string
	count     int
	peakSmoke float64
	interval  time.Duration

	tankID    string
	fromLevel float64
	toLevel   float64
	stepLevel float64
)

var readingsCmd = &cobra.Command{
	Use:   "readings",
	Short: "Publish a smoke/temperature ramp for one device",
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, done, err := connect()
		if err != nil {
			return err
		}
		defer done()

		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		topic := config.ReadingsTopic()
		for _, r := range fireRamp(rng, device, facility, zone, count, peakSmoke, time.Now(), interval) {
			payload, _ := json.Marshal(r)
			if err := pub.Publish(topic, 1, false, payload); err != nil {
				return err
			}
			log.Info().Str("device_id", r.DeviceID).Float64("smoke", r.SmokeIndex).Msg("reading published")
			time.Sleep(interval)
		}
		log.Info().Msg("simulation done")
		return nil
	},
}

var tankCmd = &cobra.Command{
	Use:   "tank",
	Short: "Publish a falling (or rising) level series for one tank",
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, done, err := connect()
		if err != nil {
			return err
		}
		defer done()

		topic := strings.Replace(config.TanksTopic(), "+", tankID, 1)
		for _, lvl := range drain(fromLevel, toLevel, stepLevel) {
			v := lvl
			payload, _ := json.Marshal(broker.LevelMessage{LevelPct: &v, Timestamp: time.Now().UTC()})
			if err := pub.Publish(topic, 1, false, payload); err != nil {
				return err
			}
			log.Info().Str("tank_id", tankID).Float64("level_pct", v).Msg("level published")
			time.Sleep(interval)
		}
		return nil
	},
}

func connect() (broker.Publisher, func(), error) {
	client, err := broker.Connect(config.MQTTBroker(), fmt.Sprintf("safety-simulator-%d", time.Now().UnixNano()), nil)
	if err != nil {
		return broker.Publisher{}, nil, err
	}
	return broker.Publisher{Client: client}, func() { client.Disconnect(250) }, nil
}

func init() {
	readingsCmd.Flags().StringVar(&device, "device", "ESP32_001", "device id")
	readingsCmd.Flags().StringVar(&facility, "facility", "FAC_001", "facility id")
	readingsCmd.Flags().StringVar(&zone, "zone", "A", "zone")
	readingsCmd.Flags().IntVar(&count, "count", 20, "number of readings")
	readingsCmd.Flags().Float64Var(&peakSmoke, "peak-smoke", 450, "smoke index at the end of the ramp")

	tankCmd.Flags().StringVar(&tankID, "tank", "TANK_001", "tank id")
	tankCmd.Flags().Float64Var(&fromLevel, "from", 80, "starting level percent")
	tankCmd.Flags().Float64Var(&toLevel, "to", 10, "final level percent")
	tankCmd.Flags().Float64Var(&stepLevel, "step", 5, "level change per message")

	rootCmd.PersistentFlags().DurationVar(&interval, "interval", 500*time.Millisecond, "delay between messages")
	rootCmd.AddCommand(readingsCmd, tankCmd)
}
