// Command dnp3-bridge polls DNP3 outstations and mirrors their points into a
// data tree, browsable from a terminal UI.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"avaneesh/dnp3-bridge/internal/logger"
	"avaneesh/dnp3-bridge/internal/simulator"
	"avaneesh/dnp3-bridge/pkg/config"
	"avaneesh/dnp3-bridge/pkg/device"
	"avaneesh/dnp3-bridge/pkg/dnp3"
	"avaneesh/dnp3-bridge/pkg/outstation"
	"avaneesh/dnp3-bridge/pkg/point"
	"avaneesh/dnp3-bridge/pkg/store"
	"avaneesh/dnp3-bridge/pkg/tree"
	"avaneesh/dnp3-bridge/pkg/ui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "dnp3-bridge: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "YAML configuration file")
	dbPath := flag.String("db", "", "outstation database (overrides store.path)")
	level := flag.String("log-level", "", "debug, info, warn or error (overrides log.level)")
	tui := flag.Bool("tui", false, "browse the tree in a terminal UI")
	watchAll := flag.Bool("watch-all", false, "without the UI, discover and subscribe to every point")
	simulate := flag.String("simulate", "", "run a simulated outstation on this address, e.g. 127.0.0.1:20000")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *level != "" {
		cfg.Log.Level = *level
	}
	if *tui {
		cfg.UI.Enabled = true
	}

	var out io.Writer = os.Stderr
	var logs *ui.LogView
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	if cfg.UI.Enabled {
		logs = ui.NewLogView(500)
		if cfg.Log.File != "" {
			out = io.MultiWriter(out, logs)
		} else {
			out = logs
		}
	}
	log, err := dnp3.ConfigureLogging(out, cfg.Log.Level, cfg.Log.FrameDebug)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := dnp3.Options{
		ResponseTimeout:   cfg.Session.ResponseTimeout,
		EnableUnsolicited: cfg.Session.EnableUnsolicited,
	}
	for _, o := range cfg.Outstations {
		opts.Seeds = append(opts.Seeds, o.Outstation())
	}
	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path, log)
		if err != nil {
			return err
		}
		defer st.Close()
		opts.Store = st
	}
	if *simulate != "" {
		seed, err := startSimulator(ctx, *simulate, log)
		if err != nil {
			return err
		}
		opts.Seeds = append(opts.Seeds, seed)
	}

	root := tree.NewRoot("dnp3")
	m := dnp3.NewManager(root, opts, log)
	if err := m.Start(ctx); err != nil {
		return err
	}
	defer m.Shutdown()

	if cfg.UI.Enabled {
		return ui.NewBrowser(root, logs, cfg.UI.Refresh).Run(ctx)
	}
	if *watchAll {
		watch(ctx, m, log)
	}
	<-ctx.Done()
	return nil
}

// startSimulator serves a simulated outstation and returns the seed that
// connects to it
func startSimulator(ctx context.Context, addr string, log logger.Logger) (outstation.Config, error) {
	srv, err := simulator.Listen(addr, simulator.Config{ID: "simulator", LocalAddress: 4, RemoteAddress: 17}, logger.WithPrefix(log, "Simulator"))
	if err != nil {
		return outstation.Config{}, err
	}
	go srv.Serve(ctx)
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	db := srv.Database()
	db.Update(simulator.PointTypeBinary, 0, 1)
	db.Update(simulator.PointTypeDoubleBit, 0, 2)
	db.Update(simulator.PointTypeCounter, 0, 0)
	db.Update(simulator.PointTypeAnalog, 0, 0)
	db.Update(simulator.PointTypeBinaryOutput, 0, 0)
	db.Update(simulator.PointTypeAnalogOutput, 0, 0)
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for i := 1; ; i++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.Update(simulator.PointTypeCounter, 0, float64(i))
				db.Update(simulator.PointTypeAnalog, 0, math.Round(100*math.Sin(float64(i)/10))/10)
			}
		}
	}()

	host, port, err := net.SplitHostPort(srv.Addr().String())
	if err != nil {
		return outstation.Config{}, err
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return outstation.Config{}, err
	}
	log.Info("Simulator: Listening on %s", srv.Addr())
	return outstation.Config{
		Name: "Simulator",
		Device: device.Config{
			Network:           &device.NetworkParams{Host: host, Port: p, Protocol: device.ProtocolTCP},
			MasterAddress:     17,
			OutstationAddress: 4,
		},
		EventPollInterval:  2000,
		StaticPollInterval: 10000,
	}, nil
}

// watch discovers every outstation once and subscribes to all of its points,
// logging value changes
func watch(ctx context.Context, m *dnp3.Manager, log logger.Logger) {
	for _, c := range m.Outstations() {
		if err := c.Discover(ctx); err != nil {
			log.Warn("%s: discover: %v", c.Name(), err)
		}
		var walk func(n *tree.Node)
		walk = func(n *tree.Node) {
			for _, child := range n.Children() {
				if _, _, ok := point.ParseName(child.Name()); ok {
					path := child.Path()
					child.Subscribe(func(v tree.Value) { log.Info("%s = %s", path, v) })
				}
				walk(child)
			}
		}
		walk(c.Node())
	}
}
