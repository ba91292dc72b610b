// Package bottleneckanalysis finds congested buffers by tracking how full
// they stay over time.
package bottleneckanalysis

import (
	"fmt"
	"io"
	"sort"

	"github.com/sarchlab/hybridmem/sim/hooking"
	"github.com/sarchlab/hybridmem/sim/timing"
	"github.com/sirupsen/logrus"
)

// Level is the occupancy of one buffer at one point in time.
type Level struct {
	Name  string
	Level int
	Cap   int
}

// A LevelSource lists the current levels of the buffers it owns.
type LevelSource func() []Level

// Summary is the time-weighted occupancy of one buffer.
type Summary struct {
	Name          string
	Cap           int
	Current       int
	Average       float64
	PeriodAverage float64
}

// BufferAnalyzer can use buffer levels to analyze the bottleneck of the
// system. It samples its sources after every event of the engine it is
// attached to.
type BufferAnalyzer struct {
	timeTeller timing.TimeTeller
	log        logrus.FieldLogger
	lastTime   timing.VTimeInCycle
	period     timing.VTimeInCycle

	sources []LevelSource
	buffers map[string]*bufferInfo
	names   []string
}

type bufferInfo struct {
	capacity                     int
	lastBufLevel                 int
	bufLevelToDuration           map[int]timing.VTimeInCycle
	lastPeriodBufLevelToDuration map[int]timing.VTimeInCycle
}

func averageOf(levelToDuration map[int]timing.VTimeInCycle) float64 {
	sum := 0.0
	durationSum := 0.0

	for level, duration := range levelToDuration {
		sum += float64(level) * float64(duration)
		durationSum += float64(duration)
	}

	if durationSum == 0.0 {
		return 0.0
	}

	return sum / durationSum
}

// NewBufferAnalyzer creates a new BufferAnalyzer.
func NewBufferAnalyzer(timeTeller timing.TimeTeller) *BufferAnalyzer {
	return &BufferAnalyzer{
		timeTeller: timeTeller,
		log:        logrus.StandardLogger(),
		lastTime:   timeTeller.CurrentTime(),
		buffers:    make(map[string]*bufferInfo),
	}
}

// WithPeriod makes the analyzer log the buffer levels once per period.
func (b *BufferAnalyzer) WithPeriod(
	period timing.VTimeInCycle,
	logger logrus.FieldLogger,
) *BufferAnalyzer {
	b.period = period
	b.log = logger

	return b
}

// AddSource registers the buffers of one component.
func (b *BufferAnalyzer) AddSource(source LevelSource) {
	b.sources = append(b.sources, source)
	b.sample(b.timeTeller.CurrentTime())
}

// Func records buffer level changes after each event.
func (b *BufferAnalyzer) Func(ctx hooking.HookCtx) {
	if ctx.Pos != timing.HookPosAfterEvent {
		return
	}

	b.sample(b.timeTeller.CurrentTime())
}

func (b *BufferAnalyzer) sample(now timing.VTimeInCycle) {
	if b.period > 0 && now/b.period != b.lastTime/b.period {
		b.reportPeriod()
		b.resetPeriod()
	}

	duration := now - b.lastTime

	inPeriod := duration
	if b.period > 0 {
		inPeriod = min(duration, now%b.period)
	}

	for _, source := range b.sources {
		for _, level := range source() {
			info := b.infoOf(level)

			info.bufLevelToDuration[info.lastBufLevel] += duration
			info.lastPeriodBufLevelToDuration[info.lastBufLevel] += inPeriod
			info.lastBufLevel = level.Level
		}
	}

	b.lastTime = now
}

func (b *BufferAnalyzer) infoOf(level Level) *bufferInfo {
	info, ok := b.buffers[level.Name]
	if !ok {
		info = &bufferInfo{
			capacity:                     level.Cap,
			bufLevelToDuration:           make(map[int]timing.VTimeInCycle),
			lastPeriodBufLevelToDuration: make(map[int]timing.VTimeInCycle),
		}
		b.buffers[level.Name] = info
		b.names = append(b.names, level.Name)
	}

	return info
}

func (b *BufferAnalyzer) resetPeriod() {
	for _, info := range b.buffers {
		info.lastPeriodBufLevelToDuration = make(map[int]timing.VTimeInCycle)
	}
}

func (b *BufferAnalyzer) reportPeriod() {
	for _, s := range b.Summaries() {
		b.log.WithFields(logrus.Fields{
			"buffer":  s.Name,
			"time":    b.lastTime,
			"average": s.PeriodAverage,
			"cap":     s.Cap,
		}).Info("buffer level in period")
	}
}

// AverageLevel returns the time-weighted mean level of a buffer.
func (b *BufferAnalyzer) AverageLevel(name string) float64 {
	info, ok := b.buffers[name]
	if !ok {
		panic(fmt.Sprintf("buffer %s is not analyzed", name))
	}

	return averageOf(info.bufLevelToDuration)
}

// Summaries returns the occupancy of every buffer, the most occupied first.
func (b *BufferAnalyzer) Summaries() []Summary {
	summaries := make([]Summary, 0, len(b.names))

	for _, name := range b.names {
		info := b.buffers[name]
		summaries = append(summaries, Summary{
			Name:          name,
			Cap:           info.capacity,
			Current:       info.lastBufLevel,
			Average:       averageOf(info.bufLevelToDuration),
			PeriodAverage: averageOf(info.lastPeriodBufLevelToDuration),
		})
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].Average > summaries[j].Average
	})

	return summaries
}

// Report will dump the buffer level information.
func (b *BufferAnalyzer) Report(w io.Writer) {
	fmt.Fprintln(w, "name, current, average, capacity")

	for _, s := range b.Summaries() {
		fmt.Fprintf(w, "%s, %d, %.4f, %d\n",
			s.Name, s.Current, s.Average, s.Cap)
	}
}
