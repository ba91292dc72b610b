package hooking

import (
	"github.com/sirupsen/logrus"
)

// LogHook writes task records to a logrus logger at debug level.
type LogHook struct {
	logger     logrus.FieldLogger
	timeTeller TimeTeller
}

// NewLogHook creates a LogHook.
func NewLogHook(logger logrus.FieldLogger, timeTeller TimeTeller) *LogHook {
	return &LogHook{
		logger:     logger,
		timeTeller: timeTeller,
	}
}

// Func logs the task record carried by ctx.
func (h *LogHook) Func(ctx HookCtx) {
	entry := h.logger.WithField("time", h.timeTeller.Now())

	switch item := ctx.Item.(type) {
	case TaskStart:
		entry.WithFields(logrus.Fields{
			"task":  item.ID,
			"kind":  item.Kind,
			"what":  item.What,
			"where": item.Where,
		}).Debug("task start")
	case TaskStep:
		entry.WithFields(logrus.Fields{
			"task":   item.TaskID,
			"what":   item.What,
			"detail": item.Detail,
		}).Debug("task step")
	case TaskTag:
		entry.WithFields(logrus.Fields{
			"task": item.TaskID,
			"what": item.What,
		}).Debug("task tag")
	case TaskEnd:
		entry.WithField("task", item.ID).Debug("task end")
	}
}
