package main

import (
	"github.com/camkit/immis2tcp/internal/api"
	"github.com/camkit/immis2tcp/internal/app"
	"github.com/camkit/immis2tcp/internal/mqtt"
	"github.com/camkit/immis2tcp/internal/proxy"
	"github.com/camkit/immis2tcp/pkg/shell"
)

func main() {
	app.Init() // init config and logs

	api.Init()   // init HTTP API server
	proxy.Init() // init IMMIS proxy sessions
	mqtt.Init()  // publish session events to the hub (optional)

	shell.RunUntilSignal()
}
