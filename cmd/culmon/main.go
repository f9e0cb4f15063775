package main

import (
	"flag"
	"log"
	"os"

	"github.com/robotalks/cul.go/pkg/bridge/mqtt"
	"github.com/robotalks/cul.go/pkg/env"
)

var (
	mqttURL = "mqtt://localhost:1883/cul/"
)

func init() {
	if val := os.Getenv("CUL_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	opts, prefix, err := mqtt.ClientOptionsFromURL(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}
	if opts.ClientID == "" {
		opts.SetClientID(env.ClientID() + ":mon")
	}
	c := mqtt.NewClient(opts, prefix)
	c.Sub("#", mqtt.Handler(func(topic string, payload []byte) {
		log.Printf("%s: %s", topic, string(payload))
	}))
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalln(token.Error())
	}
	<-(chan struct{})(nil)
}
