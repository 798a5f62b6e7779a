// Configuration loading for the binding and its CLI, from flags, environment
// variables, and TOML files. Priority: CLI flags > env vars > TOML file >
// defaults.
package luabind

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Options control a single Binding instance.
type Options struct {
	// UnsafeInt64 disables the round-trip check when 64-bit integers cross
	// the number boundary. The default (false) rejects values that cannot
	// be represented exactly in the engine's float64 numbers; enabling this
	// silently truncates instead.
	UnsafeInt64 bool

	// OpenLibraries loads the engine's base, table, string and math
	// libraries into the new state.
	OpenLibraries bool

	// Verbosity gates Logf output: 0=none, 1=registration, 2=dispatch,
	// 3=conversion detail.
	Verbosity int

	// Logger receives log output. Defaults to the standard logger.
	Logger func(format string, args ...any)
}

// DefaultOptions returns the options used when New is given nil.
func DefaultOptions() *Options {
	return &Options{
		OpenLibraries: true,
	}
}

func (o *Options) logf(level int, format string, args ...any) {
	if o.Verbosity < level {
		return
	}
	if o.Logger != nil {
		o.Logger(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Config holds the CLI-facing settings, loadable from a TOML file.
type Config struct {
	Lua     LuaConfig     `toml:"lua"`
	Repl    ReplConfig    `toml:"repl"`
	Logging LoggingConfig `toml:"logging"`
}

// LuaConfig holds engine settings.
type LuaConfig struct {
	UnsafeInt64   bool `toml:"unsafe_int64"`
	OpenLibraries bool `toml:"open_libraries"`
}

// ReplConfig holds interactive-mode settings.
type ReplConfig struct {
	Prompt string `toml:"prompt"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Verbosity int `toml:"verbosity"` // 0=none, 1=registration, 2=dispatch, 3=values
}

// verbosityCounter implements flag.Value for counting -v flags.
type verbosityCounter int

func (v *verbosityCounter) String() string {
	return fmt.Sprintf("%d", *v)
}

func (v *verbosityCounter) Set(string) error {
	*v++
	return nil
}

func (v *verbosityCounter) IsBoolFlag() bool {
	return true
}

// expandVerbosityFlags preprocesses args to expand -vvv into -v -v -v.
// This allows both "-v -v -v" and "-vvv" styles to work.
func expandVerbosityFlags(args []string) []string {
	result := make([]string, 0, len(args))
	for _, arg := range args {
		if len(arg) > 2 && arg[0] == '-' && arg[1] == 'v' {
			allV := true
			for _, c := range arg[1:] {
				if c != 'v' {
					allV = false
					break
				}
			}
			if allV {
				for range arg[1:] {
					result = append(result, "-v")
				}
				continue
			}
		}
		result = append(result, arg)
	}
	return result
}

// DefaultConfig returns a Config with all default values.
func DefaultConfig() *Config {
	return &Config{
		Lua: LuaConfig{
			UnsafeInt64:   false,
			OpenLibraries: true,
		},
		Repl: ReplConfig{
			Prompt: "> ",
		},
		Logging: LoggingConfig{
			Verbosity: 0,
		},
	}
}

// LoadConfig loads configuration from CLI flags, environment variables, and
// an optional TOML file. Returns the config and the remaining non-flag
// arguments (script paths).
func LoadConfig(args []string) (*Config, []string, error) {
	cfg := DefaultConfig()

	args = expandVerbosityFlags(args)

	fs := flag.NewFlagSet("luabind", flag.ContinueOnError)
	configPath := fs.String("config", "", "TOML config file")
	unsafeInt64 := fs.Bool("unsafe-int64", false, "Allow lossy 64-bit integer conversion")
	noLibs := fs.Bool("no-libs", false, "Do not open the Lua standard libraries")
	prompt := fs.String("prompt", "", "REPL prompt")
	var verbosity verbosityCounter
	fs.Var(&verbosity, "v", "Verbosity level (use -v, -vv, or -vvv)")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	// Load TOML config if requested or present in the working directory.
	path := *configPath
	if path == "" {
		path = "luabind.toml"
	}
	if err := cfg.loadTOML(path); err != nil && (!os.IsNotExist(err) || *configPath != "") {
		return nil, nil, err
	}

	cfg.applyEnv()

	// Apply CLI flags (highest priority).
	if *unsafeInt64 {
		cfg.Lua.UnsafeInt64 = true
	}
	if *noLibs {
		cfg.Lua.OpenLibraries = false
	}
	if *prompt != "" {
		cfg.Repl.Prompt = *prompt
	}
	if verbosity > 0 {
		cfg.Logging.Verbosity = int(verbosity)
	}

	return cfg, fs.Args(), nil
}

// loadTOML loads configuration from a TOML file.
func (c *Config) loadTOML(path string) error {
	_, err := toml.DecodeFile(path, c)
	return err
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("LUABIND_UNSAFE_INT64"); v != "" {
		c.Lua.UnsafeInt64 = v == "true" || v == "1"
	}
	if v := os.Getenv("LUABIND_OPEN_LIBRARIES"); v != "" {
		c.Lua.OpenLibraries = v == "true" || v == "1"
	}
	if v := os.Getenv("LUABIND_PROMPT"); v != "" {
		c.Repl.Prompt = v
	}
	if v := os.Getenv("LUABIND_VERBOSITY"); v != "" {
		if verbosity, err := strconv.Atoi(v); err == nil {
			c.Logging.Verbosity = verbosity
		}
	}
}

// Options converts the CLI config into Binding options.
func (c *Config) Options() *Options {
	return &Options{
		UnsafeInt64:   c.Lua.UnsafeInt64,
		OpenLibraries: c.Lua.OpenLibraries,
		Verbosity:     c.Logging.Verbosity,
	}
}
