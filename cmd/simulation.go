package cmd

import (
	"fmt"

	"github.com/sarchlab/hybridmem/mem/hybrid"
	"github.com/sarchlab/hybridmem/mem/memaccessagent"
	"github.com/sarchlab/hybridmem/mem/simplemedia"
	"github.com/sarchlab/hybridmem/monitoring"
	"github.com/sarchlab/hybridmem/sim/bottleneckanalysis"
	"github.com/sarchlab/hybridmem/sim/hooking"
	"github.com/sarchlab/hybridmem/sim/timing"
	"github.com/sirupsen/logrus"
)

// A Simulation wires a traffic agent, a hybrid controller, and its two media
// onto one engine.
type Simulation struct {
	Engine  *timing.SerialEngine
	Fast    *simplemedia.Media
	Backing *simplemedia.Media
	Ctrl    *hybrid.Comp
	Agent   *memaccessagent.MemAccessAgent
	Latency *hooking.LatencyTracer
	Tags    *hooking.TagCountTracer
	Buffers *bottleneckanalysis.BufferAnalyzer

	clock   timing.SecondsClock
	monitor *monitoring.Monitor
	bar     *monitoring.ProgressBar
}

// BuildSimulation creates the components described by cfg.
func BuildSimulation(cfg Config, logger logrus.FieldLogger) *Simulation {
	engine := timing.NewSerialEngine()
	s := &Simulation{
		Engine: engine,
		clock:  timing.SecondsClock{TimeTeller: engine, Freq: cfg.Freq()},
	}

	s.Fast = cfg.FastMedia.apply(simplemedia.MakeFastBuilder()).
		WithEngine(engine).
		Build("Fast")
	s.Backing = cfg.BackingMedia.apply(simplemedia.MakeBackingBuilder()).
		WithEngine(engine).
		Build("Backing")

	s.Agent = cfg.Traffic.apply(memaccessagent.MakeBuilder()).
		WithEngine(engine).
		WithLogger(logger).
		Build("Agent")

	s.Latency = hooking.NewLatencyTracer(s.clock, func(t hooking.TaskStart) bool {
		return t.Kind == hybrid.TaskKindRequest
	})
	s.Tags = hooking.NewTagCountTracer(nil)

	s.Ctrl = cfg.Controller.apply(hybrid.MakeBuilder()).
		WithEngine(engine).
		WithFastMedia(s.Fast).
		WithBackingMedia(s.Backing).
		WithTransport(s.Agent).
		WithLogger(logger).
		WithAdditionalHooks(s.Latency, s.Tags).
		Build("HybridCtrl")

	s.Agent.LowModule = s.Ctrl
	s.Fast.SetWaker(s.Ctrl)
	s.Backing.SetWaker(s.Ctrl)

	s.Buffers = bottleneckanalysis.NewBufferAnalyzer(engine)
	s.Buffers.AddSource(s.controllerLevels)
	engine.AcceptHook(s.Buffers)

	return s
}

// Clock returns the seconds clock of the simulation, for tracers.
func (s *Simulation) Clock() timing.SecondsClock {
	return s.clock
}

// AttachMonitor lets a monitor inspect the controller and pause the engine.
func (s *Simulation) AttachMonitor(m *monitoring.Monitor) {
	s.monitor = m
	m.RegisterEngine(s.Engine)
	m.RegisterComponent(controllerInspector{s.Ctrl})

	total := uint64(s.Agent.ReadLeft + s.Agent.WriteLeft)
	s.bar = m.CreateProgressBar("Requests", total)
	s.Agent.SetProgressTracker(s.bar)
}

// Run sends all the traffic, then drains the controller.
func (s *Simulation) Run() error {
	s.Agent.Start()

	if err := s.Engine.Run(); err != nil {
		return err
	}

	if s.Ctrl.Drain() == hybrid.DrainStateDraining {
		if err := s.Engine.Run(); err != nil {
			return err
		}
	}

	if s.monitor != nil {
		s.monitor.Refresh(s.Engine.CurrentTime())
		s.monitor.CompleteProgressBar(s.bar)
	}

	if !s.Agent.Done() {
		return fmt.Errorf("simulation stopped with %d reads and %d writes "+
			"unanswered", len(s.Agent.PendingReadReq),
			len(s.Agent.PendingWriteReq))
	}

	if s.Ctrl.DrainState() != hybrid.DrainStateDrained {
		return fmt.Errorf("controller did not drain: %s",
			s.Ctrl.DrainState())
	}

	return s.Ctrl.CheckTags()
}

func (s *Simulation) controllerLevels() []bottleneckanalysis.Level {
	queues := s.Ctrl.QueueLevels()

	levels := make([]bottleneckanalysis.Level, 0, len(queues))
	for _, q := range queues {
		levels = append(levels, bottleneckanalysis.Level{
			Name:  q.Name,
			Level: q.Level,
			Cap:   q.Cap,
		})
	}

	return levels
}

// controllerInspector shows a controller to the monitor.
type controllerInspector struct {
	ctrl *hybrid.Comp
}

func (i controllerInspector) Name() string {
	return i.ctrl.Name()
}

func (i controllerInspector) Inspect() monitoring.Inspection {
	report := i.ctrl.Report()

	buffers := make([]monitoring.BufferLevel, 0, len(report.Queues))
	for _, q := range report.Queues {
		buffers = append(buffers, monitoring.BufferLevel{
			Buffer: q.Name,
			Level:  q.Level,
			Cap:    q.Cap,
		})
	}

	return monitoring.Inspection{
		State:   &report,
		Buffers: buffers,
	}
}
