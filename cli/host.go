package cli

import (
	"os"
	"time"

	"github.com/zot/luabind"
)

// Stopwatch is the demo class exposed to scripts.
type Stopwatch struct {
	start time.Time
	Label string
}

// Elapsed returns seconds since the last reset. Const: callable through
// either view.
func (s *Stopwatch) Elapsed() float64 {
	return time.Since(s.start).Seconds()
}

// Reset restarts the stopwatch.
func (s *Stopwatch) Reset() {
	s.start = time.Now()
}

// registerHostModule exposes a small "host" module exercising the binding:
// free functions with optional arguments, an out parameter, module
// properties, and an embedded-storage class.
func registerHostModule(b *luabind.Binding) error {
	host := b.Global().Module("host").
		AddFunction("getenv", func(name, def string) string {
			if v, ok := os.LookupEnv(name); ok {
				return v
			}
			return def
		}, luabind.Required(), luabind.Optional("")).
		AddFunction("clock", func() float64 {
			return float64(time.Now().UnixNano()) / float64(time.Second)
		}).
		AddFunction("splitTime", func(seconds float64, mins *int, secs *float64) {
			*mins = int(seconds) / 60
			*secs = seconds - float64(*mins*60)
		}, luabind.Required(), luabind.Out(), luabind.Out()).
		AddConstant("version", "1.0").
		AddProperty("pid", func() int { return os.Getpid() }, nil)
	if err := host.Err(); err != nil {
		return err
	}

	cls := luabind.Class[Stopwatch](host, "Stopwatch").
		AddConstructor(func(label string) Stopwatch {
			return Stopwatch{start: time.Now(), Label: label}
		}, luabind.Optional("stopwatch")).
		AddConstMethod("elapsed", (*Stopwatch).Elapsed).
		AddMethod("reset", (*Stopwatch).Reset).
		AddField("label", "Label", true)
	return cls.Err()
}
