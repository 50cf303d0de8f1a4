package cli

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"beamauto/internal/auth"
	"beamauto/internal/automator"
	"beamauto/internal/config"
	"beamauto/internal/pumpengine"
	"beamauto/internal/scheduler"
)

// checkTokenLifetime bounds how long an operator has to relay a signed
// check-response token before it's rejected as expired.
const checkTokenLifetime = 10 * time.Minute

// session is the wiring a running beamline process needs: one Automator,
// one pumpengine.Engine, the background scheduler, and the topology that
// described how they were built. Every cobra subcommand's RunE that
// talks to the Automator or Engine gets one from newSession.
type session struct {
	logger      *slog.Logger
	topo        *config.Topology
	auto        *automator.Automator
	engine      *pumpengine.Engine
	sched       *scheduler.Scheduler
	checkTokens *auth.CheckTokenService
	cancel      context.CancelFunc
}

func newSession(logger *slog.Logger, topoPath string) (*session, error) {
	loader := config.New(config.LoaderConfig{Logger: logger, Path: topoPath})
	topo, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load topology: %w", err)
	}

	secret, err := base64.StdEncoding.DecodeString(topo.CheckSecret)
	if err != nil {
		return nil, fmt.Errorf("decode check_secret: %w", err)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("topology has no check_secret configured")
	}
	checkTokens := auth.NewCheckTokenService(secret, checkTokenLifetime)

	ctx, cancel := context.WithCancel(context.Background())

	auto := automator.New(automator.Config{Logger: logger})
	for _, c := range topo.Controls {
		if err := auto.AddControl(c.Name, c.Kind, echoDispatch(logger, c.Name), automator.Status{Reported: "idle"}); err != nil {
			cancel()
			return nil, fmt.Errorf("register control %s: %w", c.Name, err)
		}
	}
	auto.Start(ctx)

	driver := newSimDriver(logger)
	pathIDs := make([]int, 0, len(topo.FlowPaths))
	for _, fp := range topo.FlowPaths {
		pathIDs = append(pathIDs, fp.ID)
	}
	engine := pumpengine.NewEngine(ctx, pumpengine.Config{Logger: logger}, driver, pathIDs)
	for _, fp := range topo.FlowPaths {
		for _, b := range fp.Buffers {
			engine.SetBuffer(fp.ID, b.Position, b.Description, b.Volume)
		}
	}

	for _, fp := range topo.FlowPaths {
		engine.RunBufferIntegrator(ctx, fp.ID)
	}

	sched, err := scheduler.New(logger, 4, time.Now)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	controlNames := auto.ControlNames()
	if len(controlNames) > 0 {
		if err := sched.RegisterFullStatusPoll(auto, controlNames, "*/5 * * * *", 1, 10*time.Second); err != nil {
			cancel()
			return nil, fmt.Errorf("register full-status poll: %w", err)
		}
	}

	return &session{
		logger:      logger,
		topo:        topo,
		auto:        auto,
		engine:      engine,
		sched:       sched,
		checkTokens: checkTokens,
		cancel:      cancel,
	}, nil
}

func (s *session) Close() {
	_ = s.sched.Stop()
	s.auto.Stop()
	_ = s.engine.Close()
	s.cancel()
}

// flowPath looks up one of the topology's configured flow paths by id.
func (s *session) flowPath(id int) (*config.FlowPathConfig, error) {
	for i := range s.topo.FlowPaths {
		if s.topo.FlowPaths[i].ID == id {
			return &s.topo.FlowPaths[i], nil
		}
	}
	return nil, fmt.Errorf("unknown flow path id %d", id)
}

// operator looks up a configured operator by name.
func (s *session) operator(name string) (*config.OperatorConfig, bool) {
	for i := range s.topo.Operators {
		if s.topo.Operators[i].Name == name {
			return &s.topo.Operators[i], true
		}
	}
	return nil, false
}
