package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/pondwatch/internal/models"
	"github.com/good-yellow-bee/pondwatch/internal/subscriber"
)

var (
	publishBroker   string
	publishUser     string
	publishPass     string
	publishPond     string
	publishDevice   string
	publishTopic    string
	publishQoS      int
	publishCount    int
	publishInterval time.Duration
	publishJitter   float64
	publishRaw      string
	publishValues   = make(map[models.Parameter]*float64)
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish test readings to the MQTT broker",
	Long: `Publish sensor readings the way a pond device would.

Only the parameters given on the command line are included. With --count,
readings are repeated at --interval and --jitter adds relative noise.

Examples:
  # One low-oxygen reading for pond1
  pondctl publish --pond pond1 --dissolved-oxygen 2.1

  # Ten noisy readings, one per second
  pondctl publish --pond pond2 --temperature 26 --ph 7.4 --count 10 --interval 1s --jitter 0.05

  # An arbitrary payload
  pondctl publish --topic sensors/water_quality --raw '{"pond_id":"pond3","ph":"n/a"}'`,
	RunE: runPublish,
}

func runPublish(cmd *cobra.Command, args []string) error {
	if publishRaw == "" && publishPond == "" {
		return fmt.Errorf("--pond is required unless --raw is given")
	}
	if publishQoS < 0 || publishQoS > 2 {
		return fmt.Errorf("--qos must be 0, 1 or 2")
	}
	topic := publishTopic
	if topic == "" {
		if publishPond == "" {
			return fmt.Errorf("--topic is required with --raw when --pond is not set")
		}
		topic = "farm1/" + publishPond + "/data"
	}

	values := make(map[models.Parameter]float64)
	for _, p := range models.Parameters {
		if cmd.Flags().Changed(flagName(p)) {
			values[p] = *publishValues[p]
		}
	}
	if publishRaw == "" && len(values) == 0 {
		return fmt.Errorf("at least one measurement flag is required")
	}

	conn, err := subscriber.NewPahoConn(subscriber.PahoConfig{
		Broker:       publishBroker,
		ClientID:     fmt.Sprintf("pondctl-%d", os.Getpid()),
		Username:     publishUser,
		Password:     publishPass,
		CleanSession: true,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	err = conn.Connect(ctx)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Disconnect()
	PrintVerbose("connected to %s", publishBroker)

	count := max(publishCount, 1)
	for i := 0; i < count; i++ {
		if i > 0 {
			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-time.After(publishInterval):
			}
		}

		payload := []byte(publishRaw)
		if publishRaw == "" {
			payload, err = buildPayload(publishPond, publishDevice, time.Now(), values, publishJitter)
			if err != nil {
				return err
			}
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		err = conn.Publish(ctx, topic, byte(publishQoS), payload)
		cancel()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", topic, payload)
	}
	return nil
}

// buildPayload encodes a device-style reading. jitter scales each value by a
// random factor in [1-jitter, 1+jitter].
func buildPayload(pond, device string, ts time.Time, values map[models.Parameter]float64, jitter float64) ([]byte, error) {
	body := map[string]any{
		"pond_id":   pond,
		"timestamp": ts.Unix(),
	}
	if device != "" {
		body["device_id"] = device
	}
	for p, v := range values {
		if jitter > 0 {
			v *= 1 + jitter*(2*rand.Float64()-1)
		}
		body[string(p)] = v
	}
	return json.Marshal(body)
}

func flagName(p models.Parameter) string {
	return strings.ReplaceAll(string(p), "_", "-")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func init() {
	f := publishCmd.Flags()
	f.StringVar(&publishBroker, "broker", envOr("MQTT_BROKER", "tcp://localhost:1883"), "MQTT broker URL (env MQTT_BROKER)")
	f.StringVar(&publishUser, "username", os.Getenv("MQTT_USERNAME"), "MQTT username (env MQTT_USERNAME)")
	f.StringVar(&publishPass, "password", os.Getenv("MQTT_PASSWORD"), "MQTT password (env MQTT_PASSWORD)")
	f.StringVarP(&publishPond, "pond", "p", "", "pond ID")
	f.StringVar(&publishDevice, "device", "", "device ID")
	f.StringVar(&publishTopic, "topic", "", "topic (default farm1/<pond>/data)")
	f.IntVar(&publishQoS, "qos", 1, "MQTT QoS")
	f.IntVarP(&publishCount, "count", "n", 1, "number of readings to publish")
	f.DurationVar(&publishInterval, "interval", time.Second, "delay between readings")
	f.Float64Var(&publishJitter, "jitter", 0, "relative noise applied to each value, e.g. 0.05")
	f.StringVar(&publishRaw, "raw", "", "publish this payload verbatim")

	for _, p := range models.Parameters {
		v := new(float64)
		publishValues[p] = v
		f.Float64Var(v, flagName(p), 0, fmt.Sprintf("%s value", p))
	}

	rootCmd.AddCommand(publishCmd)
}
