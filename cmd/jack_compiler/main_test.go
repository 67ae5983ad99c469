package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// A small self-contained class exercising 'while'/'let'/'do'/'return', arithmetic and a
// standard library call, compiled end to end through the Handler entrypoint.
const sumLoopSource = `class Main {
    function void main() {
        var int i, sum;
        let i = 0;
        let sum = 0;
        while (i < 10) {
            let sum = sum + i;
            let i = i + 1;
        }
        do Output.printInt(sum);
        return;
    }
}
`

// A second class exercising constructors, fields, methods and array indexing, compiled
// alongside 'Main.jack' above as a small multi-file program.
const counterSource = `class Counter {
    field int value;
    field Array history;

    constructor Counter new(int start) {
        let value = start;
        let history = Array.new(10);
        return this;
    }

    method void bump(int amount) {
        let value = value + amount;
        let history[0] = value;
        return;
    }

    method int get() {
        return value;
    }
}
`

func TestJackCompiler(t *testing.T) {
	compile := func(t *testing.T, sources map[string]string, options map[string]string) map[string][]string {
		dir := t.TempDir()

		for name, source := range sources {
			if err := os.WriteFile(filepath.Join(dir, name), []byte(source), 0o644); err != nil {
				t.Fatalf("error writing input fixture %s: %s", name, err)
			}
		}

		if status := Handler([]string{dir}, options); status != 0 {
			t.Fatalf("unexpected exit status code: expected 0 got %d", status)
		}

		outputs := map[string][]string{}
		for name := range sources {
			class := strings.TrimSuffix(name, ".jack")
			compiled, err := os.ReadFile(filepath.Join(dir, class+".vm"))
			if err != nil {
				t.Fatalf("error reading generated output for %s: %s", class, err)
			}
			outputs[class] = strings.Split(strings.TrimRight(string(compiled), "\n"), "\n")
		}
		return outputs
	}

	t.Run("SumLoop", func(t *testing.T) {
		outputs := compile(t, map[string]string{"Main.jack": sumLoopSource}, map[string]string{"stdlib": "true"})

		lines := outputs["Main"]
		if len(lines) == 0 {
			t.Fatal("expected a non-empty translation")
		}
		if lines[0] != "function Main.main 2" {
			t.Errorf("expected first instruction to declare 'Main.main' with 2 locals, got '%s'", lines[0])
		}

		hasLoopLabel, hasCall := false, false
		for _, line := range lines {
			if strings.HasPrefix(line, "label ") {
				hasLoopLabel = true
			}
			if strings.Contains(line, "call Output.printInt") {
				hasCall = true
			}
		}
		if !hasLoopLabel {
			t.Error("expected a VM label for the 'while' loop")
		}
		if !hasCall {
			t.Error("expected a call to 'Output.printInt'")
		}
	})

	t.Run("CounterWithTypecheck", func(t *testing.T) {
		outputs := compile(t, map[string]string{"Counter.jack": counterSource},
			map[string]string{"stdlib": "true", "typecheck": "true"})

		lines := outputs["Counter"]
		if len(lines) == 0 {
			t.Fatal("expected a non-empty translation")
		}

		hasNew, hasBump, hasGet := false, false, false
		for _, line := range lines {
			switch {
			case strings.HasPrefix(line, "function Counter.new"):
				hasNew = true
			case strings.HasPrefix(line, "function Counter.bump"):
				hasBump = true
			case strings.HasPrefix(line, "function Counter.get"):
				hasGet = true
			}
		}
		if !hasNew || !hasBump || !hasGet {
			t.Errorf("expected declarations for 'new', 'bump' and 'get', got new=%v bump=%v get=%v", hasNew, hasBump, hasGet)
		}
	})
}
