package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/flowmesh/flowmesh/common"
	"github.com/flowmesh/flowmesh/netdev"
	"github.com/flowmesh/flowmesh/offload"
)

var (
	version     = "unreleased"
	logLevel    string
	metricsAddr string
	httpAddr    string
	uplink      string
)

func root(cmd *cobra.Command, args []string) {
	common.SetLogLevel(logLevel)
	common.Log.Infof("Starting flowmesh offload agent %s", version)

	ports := netdev.NewPorts()

	nic := netdev.NewDummy("dummy0")
	common.CheckFatal(ports.Add(1, nic))

	vtep := netdev.NewDummyVxlanVport("vxlan0", 4789)
	vtep.SetOffloadAux(offload.NewAux())
	common.CheckFatal(ports.Add(7, vtep))

	if uplink != "" {
		link, err := netdev.NewLink(uplink)
		common.CheckFatal(err)
		common.CheckFatal(ports.Add(2, link))
		common.Log.Infof("Registered uplink %s (ifindex %d, mtu %d)",
			link.Name(), link.Ifindex(), link.MTU())
	}

	engine := offload.Default(ports)

	if err := offload.StartMetrics(metricsAddr); err != nil {
		common.Log.Fatalf("Failed to start metrics: %v", err)
	}

	muxRouter := mux.NewRouter()
	engine.HandleHTTP(muxRouter)
	go func() {
		common.Log.Infof("Serving HTTP on %s", httpAddr)
		if err := http.ListenAndServe(httpAddr, muxRouter); err != nil {
			common.Log.Fatalf("Failed to bind HTTP server: %v", err)
		}
	}()

	common.SignalHandlerLoop(engine)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "flowmesh-offload",
		Short: "Flowmesh hardware flow-offload agent",
		Run:   root}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "logging level (debug, info, warning, error)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", ":6786", "metrics server bind address")
	rootCmd.PersistentFlags().StringVar(&httpAddr, "http-addr", "127.0.0.1:6787", "admin HTTP bind address")
	rootCmd.PersistentFlags().StringVar(&uplink, "uplink", "", "kernel interface to register as an uplink port")

	common.CheckFatal(rootCmd.Execute())
}
