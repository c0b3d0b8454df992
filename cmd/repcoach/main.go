package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"github.com/ayusman/repcoach/internal/app"
	"github.com/ayusman/repcoach/internal/config"
	"github.com/ayusman/repcoach/internal/detector"
	"github.com/ayusman/repcoach/internal/exercise"
	"github.com/ayusman/repcoach/internal/logging"
	"github.com/ayusman/repcoach/internal/metrics"
	"github.com/ayusman/repcoach/internal/plugin"
	"github.com/ayusman/repcoach/internal/server"
	"github.com/ayusman/repcoach/internal/store"
	"github.com/ayusman/repcoach/internal/tray"
)

const usage = `usage: repcoach [serve] [flags]
       repcoach count -exercise <name> [-video <path>] [flags]`

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && (args[0] == "serve" || args[0] == "count") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = serve(args)
	case "count":
		err = count(args)
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

// common holds the flags shared by all commands.
type common struct {
	env        string
	configPath string
	logLevel   string
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.env, "env", "development", "config table to use (development or production)")
	fs.StringVar(&c.configPath, "config", "", "TOML config file (empty for defaults)")
	fs.StringVar(&c.logLevel, "log-level", "", "override the configured log level")
}

// load reads the config and sets up logging.
func (c *common) load() (*config.Config, error) {
	cfg, err := config.Load(c.env, c.configPath)
	if err != nil {
		return nil, err
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}

	logging.Setup(logging.LoggerSetupParams{
		LogFileName:   cfg.LogsPath,
		LogToStdout:   cfg.LogToStdout,
		LogLevel:      cfg.LogLevel,
		LogFormatJSON: cfg.LogJSON,
	})
	return cfg, nil
}

// deps are the long-lived components shared by the commands.
type deps struct {
	store    *store.Store
	metrics  *metrics.Manager
	registry *prometheus.Registry
	coach    *app.Coach
}

func (d *deps) close() {
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			log.Errorf("close store: %s", err)
		}
	}
}

func build(cfg *config.Config, defaultUser string) (*deps, error) {
	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	dbPath := expandHome(cfg.DBPath)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	st, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewManager("repcoach", "coach", promRegistry)

	var hooks *plugin.Dispatcher
	if cfg.HooksDir != "" {
		mgr := plugin.NewManager(expandHome(cfg.HooksDir))
		if err := mgr.Discover(); err != nil {
			log.Warnf("hooks disabled: %s", err)
		} else {
			log.Infof("loaded %d result hooks from %s", len(mgr.List()), mgr.PluginDir())
			hooks = plugin.NewDispatcher(mgr, plugin.NewExecutor(cfg.HookTimeout()), m)
		}
	}

	detCfg := detector.DefaultConfig()
	detCfg.MinConfidence = cfg.MinConfidence
	detCfg.PoseScript = expandHome(cfg.PoseScript)

	coach, err := app.New(app.Config{
		Store:    st,
		Registry: registry,
		Metrics:  m,
		Hooks:    hooks,
		NewDetector: func() (detector.Detector, error) {
			return detector.NewMediaPipeDetector(detCfg)
		},
		CameraID:        cfg.CameraID,
		LiveFPS:         cfg.LiveFPS,
		MinConfidence:   cfg.MinConfidence,
		MotionThreshold: cfg.MotionThreshold,
		DefaultUser:     defaultUser,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	return &deps{store: st, metrics: m, registry: promRegistry, coach: coach}, nil
}

func serve(args []string) error {
	var c common
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	c.register(fs)
	listen := fs.String("listen", "", "listen address (overrides listen_addr)")
	withTray := fs.Bool("tray", false, "show the system tray menu")
	user := fs.String("user", "", "email that owns sessions started without one")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := c.load()
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}

	d, err := build(cfg, *user)
	if err != nil {
		return err
	}
	defer d.close()

	webDir := findWebDir()
	if webDir != "" {
		log.Infof("serving static files from: %s", webDir)
	}

	srv := server.New(server.Config{
		Coach:          d.coach,
		Metrics:        d.metrics,
		Gatherer:       d.registry,
		StaticDir:      webDir,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		OpenPreview:    d.coach.OpenCamera,
		PreviewFPS:     cfg.LiveFPS,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe(cfg.ListenAddr)
	}()

	if *withTray {
		// The tray needs the main goroutine and returns after Quit.
		go func() {
			<-ctx.Done()
			tray.Quit()
		}()
		runTray(d.coach, "http://"+cfg.ListenAddr)
		stop()
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("server shutdown: %s", err)
	}
	return d.coach.Shutdown(shutdownCtx)
}

// runTray wires the tray menu to the coach and blocks until Quit.
func runTray(coach *app.Coach, dashboardURL string) {
	t := tray.New(coach.Exercises())

	var mu sync.Mutex
	var liveID string

	updates, cancel := coach.Progress().Subscribe("")
	defer cancel()
	go func() {
		for u := range updates {
			if u.Type != app.UpdateFinished || u.Outcome == nil {
				continue
			}
			mu.Lock()
			mine := u.SessionID == liveID
			if mine {
				liveID = ""
			}
			mu.Unlock()
			if mine {
				t.SessionEnded(u.Outcome.Result.Exercise, u.Outcome.Result.Count)
			}
		}
	}()

	t.OnStart(func(id exercise.ID) error {
		info, err := coach.StartLive(app.StartOptions{Exercise: string(id)})
		if err != nil {
			return err
		}
		mu.Lock()
		liveID = info.ID
		mu.Unlock()
		return nil
	})
	t.OnStop(func() {
		mu.Lock()
		id := liveID
		mu.Unlock()
		if id == "" {
			return
		}
		if _, err := coach.StopLive(id); err != nil {
			log.Warnf("tray stop: %s", err)
		}
	})
	t.OnOpen(func() {
		if err := openBrowser(dashboardURL); err != nil {
			log.Warnf("open dashboard: %s", err)
		}
	})

	t.Run()
}

func count(args []string) error {
	var c common
	fs := flag.NewFlagSet("count", flag.ContinueOnError)
	c.register(fs)
	exerciseName := fs.String("exercise", "", "push_up, squat or shoulder_press")
	video := fs.String("video", "", "video file to analyze (empty for the camera)")
	duration := fs.Duration("duration", 0, "stop a camera session after this long (0 waits for Ctrl-C)")
	user := fs.String("user", "", "email to save the session under")
	save := fs.String("save", "auto", "auto, always or never")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *exerciseName == "" {
		return fmt.Errorf("-exercise is required\n%s", usage)
	}
	mode, err := app.ParseSaveMode(*save)
	if err != nil {
		return err
	}

	cfg, err := c.load()
	if err != nil {
		return err
	}

	d, err := build(cfg, *user)
	if err != nil {
		return err
	}
	defer d.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *video == "" && *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	opts := app.StartOptions{Exercise: *exerciseName, UserEmail: *user, Save: mode}
	var out app.Outcome
	if *video != "" {
		out, err = d.coach.AnalyzeVideo(ctx, *video, opts)
	} else {
		out, err = countLive(ctx, d.coach, opts)
	}

	if out.Result.ID != "" {
		printOutcome(out)
	}
	if shutdownErr := d.coach.Shutdown(context.Background()); shutdownErr != nil {
		log.Warnf("shutdown: %s", shutdownErr)
	}
	return err
}

// countLive runs a camera session until ctx ends and prints reps as they
// are counted. A session that fails, for instance on a camera error, returns
// its partial outcome with an error.
func countLive(ctx context.Context, coach *app.Coach, opts app.StartOptions) (app.Outcome, error) {
	updates, cancel := coach.Progress().Subscribe("")
	defer cancel()

	info, err := coach.StartLive(opts)
	if err != nil {
		return app.Outcome{}, err
	}
	fmt.Printf("counting %s, press Ctrl-C to stop\n", info.Exercise)

	for {
		select {
		case <-ctx.Done():
			out, err := coach.StopLive(info.ID)
			if err != nil {
				return out, err
			}
			return out, outcomeErr(out)
		case u := <-updates:
			if u.SessionID != info.ID {
				continue
			}
			if u.Type == app.UpdateFinished && u.Outcome != nil {
				return *u.Outcome, outcomeErr(*u.Outcome)
			}
			if u.Progress.Delta > 0 {
				fmt.Printf("rep %d\n", u.Progress.Count)
			}
		}
	}
}

func outcomeErr(out app.Outcome) error {
	if out.Error == "" {
		return nil
	}
	return fmt.Errorf("session %s: %s", out.Result.ID, out.Error)
}

func printOutcome(out app.Outcome) {
	res := out.Result
	fmt.Printf("%s: %d reps in %s (%d frames, %d skipped)\n",
		res.ExerciseName, res.Count, res.Duration().Round(time.Second/10), res.FramesRead, res.FramesSkipped)
	if out.Saved != nil {
		fmt.Printf("saved as %s for %s\n", out.Saved.ID, out.Saved.UserEmail)
	}
	if out.Error != "" {
		fmt.Printf("error: %s\n", out.Error)
	}
}

func expandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.repcoach/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".repcoach", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}
