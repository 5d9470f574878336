package orchestrator

import "github.com/rs/zerolog"

// ZerologAdapter satisfies Logger over a zerolog.Logger, the structured
// logging idiom used throughout the rest of this tree (config loading,
// call registry reaping). args is treated as alternating key/value pairs,
// same convention as Logger's doc comment.
type ZerologAdapter struct {
	log zerolog.Logger
}

// NewZerologAdapter wraps an already-configured zerolog.Logger (timestamp
// and level applied by the caller, matching the cmd/agent startup idiom).
func NewZerologAdapter(log zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{log: log}
}

func (z *ZerologAdapter) Debug(msg string, args ...interface{}) {
	z.event(z.log.Debug(), args).Msg(msg)
}

func (z *ZerologAdapter) Info(msg string, args ...interface{}) {
	z.event(z.log.Info(), args).Msg(msg)
}

func (z *ZerologAdapter) Warn(msg string, args ...interface{}) {
	z.event(z.log.Warn(), args).Msg(msg)
}

func (z *ZerologAdapter) Error(msg string, args ...interface{}) {
	z.event(z.log.Error(), args).Msg(msg)
}

// event folds alternating key/value args onto a zerolog event, each value
// added with Event.Interface. A pair whose key is not a string is skipped; a
// trailing unpaired key is logged with an empty value rather than dropped.
func (z *ZerologAdapter) event(ev *zerolog.Event, args []interface{}) *zerolog.Event {
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		if i+1 < len(args) {
			ev = ev.Interface(key, args[i+1])
		} else {
			ev = ev.Str(key, "")
		}
	}
	return ev
}
