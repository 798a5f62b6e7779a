// Package cli provides the command-line interface for luabind: a script
// runner and an interactive REPL over a binding with a small host module
// preregistered.
package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"golang.org/x/term"

	"github.com/zot/luabind"
)

// Run executes the CLI with the given arguments.
// Returns exit code (0 = success, non-zero = error).
func Run(args []string) int {
	cfg, scripts, err := luabind.LoadConfig(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "luabind: %s\n", err)
		return 1
	}

	b := luabind.New(cfg.Options())
	defer b.Close()

	if err := registerHostModule(b); err != nil {
		fmt.Fprintf(os.Stderr, "luabind: %s\n", err)
		return 1
	}

	for _, script := range scripts {
		if err := b.DoFile(script); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err)
			return 1
		}
	}
	if len(scripts) > 0 {
		return 0
	}

	if err := repl(b, cfg.Repl.Prompt); err != nil {
		fmt.Fprintf(os.Stderr, "luabind: %s\n", err)
		return 1
	}
	return 0
}

// repl runs an interactive loop in raw terminal mode. Each line is first
// compiled as an expression ("return <line>") so results echo; statements
// fall back to plain compilation. Errors print without ending the session.
func repl(b *luabind.Binding, prompt string) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return replPlain(b, os.Stdin, os.Stdout, prompt)
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return err
	}
	defer term.Restore(fd, oldState)

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}, prompt)

	for {
		line, err := t.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		for _, out := range evalLine(b, line) {
			fmt.Fprintln(t, out)
		}
	}
}

// replPlain is the fallback loop for piped input.
func replPlain(b *luabind.Binding, in io.Reader, out io.Writer, prompt string) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, prompt)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			for _, o := range evalLine(b, line) {
				fmt.Fprintln(out, o)
			}
		}
		fmt.Fprint(out, prompt)
	}
	return scanner.Err()
}

// evalLine compiles and runs one REPL line, returning output lines.
func evalLine(b *luabind.Binding, line string) []string {
	L := b.State()
	fn, err := L.LoadString("return " + line)
	if err != nil {
		if fn, err = L.LoadString(line); err != nil {
			return []string{err.Error()}
		}
	}
	base := L.GetTop()
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return []string{err.Error()}
	}
	var out []string
	for i := base + 1; i <= L.GetTop(); i++ {
		out = append(out, lua.LVAsString(L.ToStringMeta(L.Get(i))))
	}
	L.SetTop(base)
	return out
}
