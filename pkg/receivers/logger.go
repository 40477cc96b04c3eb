package receivers

import (
	"context"
	"fmt"
	"log"

	"github.com/tjstebbing/conductor"
	veil "github.com/veilnet/veilwallet/pkg"
	"gopkg.in/natefinch/lumberjack.v2"
)

// EventLogger writes bus events to a rotating log file, one line per
// event. Trace IDs ride in the message ID so payment lifecycles can
// be grepped end to end.
type EventLogger struct {
	// EventLogger receives veil.Message via Rec
	Rec chan veil.Message
	// and logs them via Log
	Log *log.Logger
}

// Implements veil.MessageSubscriber
func (l EventLogger) GetChan() chan veil.Message {
	return l.Rec
}

// Implements conductor.Service
func (l EventLogger) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		started <- true
		for {
			select {
			case <-stop:
				close(l.Rec)
				close(stopped)
				return
			case msg := <-l.Rec:
				l.Log.Printf("%s:%s (%s): %s\n",
					msg.EventType.Type(),
					msg.EventType,
					msg.ID,
					msg.Message)
			}
		}
	}()
	return nil
}

func NewEventLogger(path string) EventLogger {
	return EventLogger{
		make(chan veil.Message, 1000),
		log.New(&lumberjack.Logger{
			Filename: path,
			Compress: true,
		}, "", log.Ltime|log.Lmicroseconds),
	}
}

// SetupLoggers reads config and registers any configured event loggers.
func SetupLoggers(cond interface {
	Service(string, conductor.Service)
}, bus veil.MessageBus, conf veil.Config) {
	for name, c := range conf.Loggers {
		l := NewEventLogger(c.Path)
		cond.Service(fmt.Sprintf("Logger %s", c.Path), l)

		types := []veil.EventType{}
		for _, t := range c.Types {
			match := false
			for _, x := range veil.EVENT_TYPES {
				if t == x.Type() {
					match = true
					types = append(types, x)
				}
			}
			if !match {
				fmt.Printf("Logger %s: ignoring invalid event type: %s\n", name, t)
			}
		}
		bus.Register(l, types...)
	}
}
