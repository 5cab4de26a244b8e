// bonbon: behavior server for the Bon-Bon animatronic
// Finds the robot on the local network, drives its servos and serves the
// operator page.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-bonbon/internal/config"
	"github.com/teslashibe/go-bonbon/internal/log"
	"github.com/teslashibe/go-bonbon/pkg/animator"
	"github.com/teslashibe/go-bonbon/pkg/controller"
	"github.com/teslashibe/go-bonbon/pkg/device"
	"github.com/teslashibe/go-bonbon/pkg/hub"
	"github.com/teslashibe/go-bonbon/pkg/vision"
	"github.com/teslashibe/go-bonbon/pkg/vision/yolo"
	"github.com/teslashibe/go-bonbon/pkg/web"
)

var (
	version     = "1.0.0"
	optionsPath = flag.String("options", config.OptionsPath(config.DefaultOptionsPath), "Options file (YAML)")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	noDetector  = flag.Bool("no-detector", false, "Run without person detection")
	debug       = flag.Bool("debug", false, "Log every operator HTTP request")
)

func main() {
	flag.Parse()
	log.Init(*logLevel)
	log.Info("starting bonbon", "version", version, "options", *optionsPath)

	store, err := config.Open(*optionsPath)
	if err != nil {
		log.Error("failed to load options", "error", err)
		os.Exit(1)
	}
	opts := store.Get()

	cal, err := controller.LoadCalibration(opts)
	if err != nil {
		log.Error("invalid servo calibration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Without a device there is nothing to drive
	discovery := &device.Discovery{
		Port:  opts.Device.Port,
		Probe: device.HTTPProber(opts.Device.ProbeTimeout),
		Store: store,
	}
	addr, err := discovery.Find(ctx, opts.Device.Address)
	if err != nil {
		log.Error("failed to find device", "error", err)
		os.Exit(1)
	}

	operators := hub.New("operator")
	srv := web.NewServer(web.Config{
		Port:   opts.Operator.Port,
		Static: opts.Operator.Static,
		Debug:  *debug,
	}, operators)

	linkCfg := device.DefaultConfig()
	linkCfg.Address = addr
	linkCfg.Port = opts.Device.Port
	linkCfg.CameraTimeout = opts.Device.CameraTimeout
	linkCfg.ReconnectDelay = opts.Device.ReconnectDelay
	linkCfg.Ranges = cal.Ranges
	linkCfg.DefaultPose = cal.DefaultPose
	link := device.NewLink(linkCfg, srv)

	anim := animator.New(link, srv, controller.AnimatorConfig(opts, cal.Ranges))

	var detector vision.Detector
	if !*noDetector {
		yoloCfg := yolo.DefaultConfig()
		yoloCfg.ModelPath = opts.Detector.Model
		yoloCfg.MinScore = float32(opts.Detector.MinScore)
		d, err := yolo.New(yoloCfg)
		if err != nil {
			log.Warn("person detection disabled", "error", err)
		} else {
			detector = d
			defer d.Close()
		}
	}

	ctrl := controller.New(link, anim, detector, store, srv)
	operators.OnMessage(ctrl.HandleCommand)
	srv.OnAnimations = ctrl.AnimationNames
	srv.OnStatus = func() web.Status {
		st := ctrl.Status()
		return web.Status{
			State:     st.State.String(),
			Connected: st.Connected,
			Address:   st.Address,
			Vision:    st.Vision,
			Servos:    st.Servos.Array(),
			Animating: st.Animating,
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return link.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return ctrl.Run(ctx) })

	log.Info("running", "device", addr, "operator_port", opts.Operator.Port)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("goodbye")
}
