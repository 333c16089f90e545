package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
	sensorSimulator "github.com/LeonardoBeccarini/agro_telemetry/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/agro_telemetry/pkg/rabbitmq"
)

func main() {
	// define flags
	sensorID := flag.String("sensor-id", "sensor1", "unique sensor identifier")
	fieldID := flag.String("field-id", "field1", "field identifier used in the StateChange topic")
	pumpID := flag.String("pump-id", "", "pump whose StateChange events drive this sensor's soil moisture")
	kindFlag := flag.String("kind", "soil_humidity", "temperature | air_humidity | soil_humidity | pump_state")
	formatFlag := flag.String("format", "json", "payload style: json | locale | text | adc")
	mode := flag.String("mode", "broker", "broker (publish on MQTT) | http (serve for polling)")
	listen := flag.String("listen", ":9100", "HTTP listen address in http mode")
	topic := flag.String("topic", "", "publish topic (default sensors/{sensor})")
	stateTopic := flag.String("state-topic", "event/StateChange/{field}/#", "StateChange subscription")
	interval := flag.Duration("interval", 10*time.Second, "publish interval")
	adcBits := flag.Int("adc-bits", 16, "ADC resolution for the adc format (10, 12, 16)")
	host := flag.String("host", "localhost", "MQTT broker host")
	port := flag.Int("port", 1883, "MQTT broker port")
	clientID := flag.String("client-id", "", "MQTT client ID (default sim-{sensor})")
	flag.Parse()

	kind, ok := entities.ParseKind(*kindFlag)
	if !ok {
		log.Fatalf("unknown kind %q", *kindFlag)
	}
	format, err := sensorSimulator.ParseFormat(*formatFlag)
	if err != nil {
		log.Fatal(err)
	}
	if *topic == "" {
		*topic = "sensors/" + *sensorID
	}
	if *clientID == "" {
		*clientID = "sim-" + *sensorID
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// umidità dimezzata in 2 ore a pompa spenta
	halfLife := 2 * time.Hour
	decayRate := math.Log(2) / halfLife.Minutes()
	generator := sensorSimulator.NewDataGenerator(kind, decayRate, *adcBits, time.Now().UnixNano())

	cfg := &rabbitmq.RabbitMQConfig{
		Host:     *host,
		Port:     *port,
		User:     envOr("RABBITMQ_USER", "guest"),
		Password: envOr("RABBITMQ_PASSWORD", "guest"),
		ClientID: *clientID,
	}
	client, err := rabbitmq.NewRabbitMQConn(cfg, ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer rabbitmq.CloseRabbitMQConn(client)

	states := strings.ReplaceAll(*stateTopic, "{field}", *fieldID)
	consumer := rabbitmq.NewConsumer(client, states, nil)

	switch *mode {
	case "broker":
		publisher := rabbitmq.NewPublisher(client, *topic)
		sim := sensorSimulator.NewSensorSimulator(consumer, publisher, generator, *sensorID, *pumpID, format)
		log.Printf("simulator: %s (%s, %s) publishing on %s every %s", *sensorID, kind, format, *topic, *interval)
		sim.Start(ctx, *interval)
	case "http":
		sim := sensorSimulator.NewSensorSimulator(consumer, nil, generator, *sensorID, *pumpID, format)
		hs := &http.Server{Addr: *listen, Handler: sim, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Printf("simulator: %s (%s, %s) serving on %s", *sensorID, kind, format, *listen)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("http server error: %v", err)
			}
		}()
		sim.Start(ctx, *interval)
		_ = hs.Shutdown(context.Background())
	default:
		log.Fatalf("unknown mode %q", *mode)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
