package luabind

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestExpandVerbosityFlags(t *testing.T) {
	got := expandVerbosityFlags([]string{"-vvv", "-config", "x.toml", "-v"})
	want := []string{"-v", "-v", "-v", "-config", "x.toml", "-v"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expandVerbosityFlags = %v, want %v", got, want)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, rest, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}
	if len(rest) != 0 {
		t.Errorf("Unexpected residual args: %v", rest)
	}
	if cfg.Lua.UnsafeInt64 || !cfg.Lua.OpenLibraries {
		t.Errorf("Unexpected lua defaults: %+v", cfg.Lua)
	}
	if cfg.Repl.Prompt != "> " {
		t.Errorf("Default prompt = %q", cfg.Repl.Prompt)
	}
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "luabind.toml")
	data := []byte("[lua]\nunsafe_int64 = true\n\n[repl]\nprompt = \"file> \"\n\n[logging]\nverbosity = 1\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, rest, err := LoadConfig([]string{"-config", path, "-prompt", "cli> ", "-vv", "run.lua"})
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.Lua.UnsafeInt64 {
		t.Error("File setting should apply")
	}
	if cfg.Repl.Prompt != "cli> " {
		t.Errorf("Flag should override file, prompt = %q", cfg.Repl.Prompt)
	}
	if cfg.Logging.Verbosity != 2 {
		t.Errorf("Verbosity = %d, want 2", cfg.Logging.Verbosity)
	}
	if !reflect.DeepEqual(rest, []string{"run.lua"}) {
		t.Errorf("Residual args = %v", rest)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("LUABIND_PROMPT", "env> ")
	cfg, _, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Repl.Prompt != "env> " {
		t.Errorf("Prompt = %q, want env> ", cfg.Repl.Prompt)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lua.UnsafeInt64 = true
	cfg.Logging.Verbosity = 3
	opts := cfg.Options()
	if !opts.UnsafeInt64 || opts.Verbosity != 3 || !opts.OpenLibraries {
		t.Errorf("Options = %+v", opts)
	}
}
