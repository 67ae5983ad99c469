package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const simpleAddSource = `push constant 7
push constant 8
add
`

const basicLoopSource = `push constant 0
pop local 0
label LOOP_START
push argument 0
push local 0
add
pop local 0
push argument 0
push constant 1
sub
pop argument 0
push argument 0
if-goto LOOP_START
push local 0
return
`

func TestVMTranslator(t *testing.T) {
	translate := func(t *testing.T, source string, options map[string]string) []string {
		dir := t.TempDir()
		input := filepath.Join(dir, "Program.vm")
		output := filepath.Join(dir, "Program.asm")

		if err := os.WriteFile(input, []byte(source), 0o644); err != nil {
			t.Fatalf("error writing input fixture: %s", err)
		}

		opts := map[string]string{"output": output}
		for k, v := range options {
			opts[k] = v
		}

		if status := Handler([]string{input}, opts); status != 0 {
			t.Fatalf("unexpected exit status code: expected 0 got %d", status)
		}

		compiled, err := os.ReadFile(output)
		if err != nil {
			t.Fatalf("error reading output file %s: %s", output, err)
		}

		return strings.Split(strings.TrimRight(string(compiled), "\n"), "\n")
	}

	t.Run("SimpleAdd.vm without bootstrap", func(t *testing.T) {
		lines := translate(t, simpleAddSource, nil)

		// Without a bootstrap prelude the very first emitted instruction is the
		// translation of 'push constant 7': loading the constant into the 'D' register.
		if lines[0] != "@7" {
			t.Errorf("expected first instruction to be '@7', got '%s'", lines[0])
		}
		if lines[1] != "D=A" {
			t.Errorf("expected second instruction to be 'D=A', got '%s'", lines[1])
		}
	})

	t.Run("SimpleAdd.vm with bootstrap", func(t *testing.T) {
		lines := translate(t, simpleAddSource, map[string]string{"bootstrap": "true"})

		// The bootstrap prelude always sets the Stack Pointer to 256 before anything else.
		if lines[0] != "@256" {
			t.Errorf("expected first instruction to be '@256', got '%s'", lines[0])
		}
		if lines[1] != "D=A" {
			t.Errorf("expected second instruction to be 'D=A', got '%s'", lines[1])
		}
		if lines[2] != "@SP" || lines[3] != "M=D" {
			t.Errorf("expected bootstrap to set SP from D, got '%s'/'%s'", lines[2], lines[3])
		}
	})

	t.Run("BasicLoop.vm", func(t *testing.T) {
		lines := translate(t, basicLoopSource, nil)

		if len(lines) == 0 {
			t.Fatal("expected a non-empty translation")
		}

		// The 'label LOOP_START' VM instruction must lower to an Asm label declaration,
		// and the subsequent 'if-goto LOOP_START' must reference the very same symbol,
		// qualified with the file's name ("Program.vm" -> "Program$LOOP_START").
		foundLabel, foundGoto := false, false
		for _, line := range lines {
			if strings.Contains(line, "(") && strings.Contains(line, "LOOP_START") {
				foundLabel = true
			}
			if line == "@Program$LOOP_START" {
				foundGoto = true
			}
		}
		if !foundLabel {
			t.Error("expected a Hack label declaration for 'LOOP_START'")
		}
		if !foundGoto {
			t.Error("expected a jump referencing the 'LOOP_START' label")
		}
	})
}
