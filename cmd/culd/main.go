package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"

	"github.com/golang/glog"

	"github.com/robotalks/cul.go/pkg/bridge"
	"github.com/robotalks/cul.go/pkg/bridge/mqtt"
	"github.com/robotalks/cul.go/pkg/bridge/websocket"
	"github.com/robotalks/cul.go/pkg/env"
	fx "github.com/robotalks/cul.go/pkg/framework"
)

func init() {
	env.SetupFlags()
	env.SetupBridgeFlags()
}

func main() {
	flag.Parse()
	defer glog.Flush()

	conf := env.MustNewConfig()
	drv := conf.MustNewDriver()
	dispatcher := bridge.NewDispatcher(drv.Events())
	runnables := []fx.Runnable{drv, dispatcher}

	if conf.MQTTURL != "" {
		b, err := mqtt.NewBridge(conf.MQTTURL, env.ClientID(), drv)
		if err != nil {
			glog.Exit(err)
		}
		drv.OnSent = b.CommandSent
		dispatcher.Add(b)
		runnables = append(runnables, b)
	}
	if conf.WebsocketAddr != "" {
		srv := websocket.NewServer(conf.WebsocketAddr)
		dispatcher.Add(srv)
		runnables = append(runnables, srv)
	}
	if len(dispatcher.Sinks) == 0 {
		dispatcher.Add(bridge.HandleMessageFunc(func(_ context.Context, msg string) {
			glog.Infof("received %s", msg)
		}))
	}

	if err := fx.NewRunner().HandleSignals().Go(runnables...).Wait(); err != nil {
		glog.Exit(err)
	}
}
