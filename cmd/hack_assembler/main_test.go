package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Add.asm: computes 2 + 3 and stores the result in R0, the canonical first assembly program,
// exercising A and C instructions with no symbols involved at all.
const addAsmSource = `@2
D=A
@3
D=D+A
@0
M=D
`

// Variables.asm: references two undeclared symbols, which the assembler must treat as new
// variables and allocate starting at RAM[16], in the order they are first seen.
const variablesAsmSource = `@foo
M=1
@bar
M=1
`

func TestHackAssembler(t *testing.T) {
	test := func(t *testing.T, source string, expected []string) {
		dir := t.TempDir()
		input := filepath.Join(dir, "program.asm")
		output := filepath.Join(dir, "program.hack")

		if err := os.WriteFile(input, []byte(source), 0o644); err != nil {
			t.Fatalf("error writing input fixture: %s", err)
		}

		if status := Handler([]string{input, output}, nil); status != 0 {
			t.Fatalf("unexpected exit status code: expected 0 got %d", status)
		}

		compiled, err := os.ReadFile(output)
		if err != nil {
			t.Fatalf("error reading output file %s: %s", output, err)
		}

		got := strings.Split(strings.TrimRight(string(compiled), "\n"), "\n")
		if len(got) != len(expected) {
			t.Fatalf("expected %d instructions, got %d", len(expected), len(got))
		}
		for i := range expected {
			if got[i] != expected[i] {
				t.Errorf("instruction %d: expected %s got %s", i, expected[i], got[i])
			}
		}
	}

	t.Run("Add.asm", func(t *testing.T) {
		test(t, addAsmSource, []string{
			fmt.Sprintf("%016b", 2),
			"1110110000010000", // D=A
			fmt.Sprintf("%016b", 3),
			"1110000010010000", // D=D+A
			fmt.Sprintf("%016b", 0),
			"1110001100001000", // M=D
		})
	})

	t.Run("Variables.asm", func(t *testing.T) {
		test(t, variablesAsmSource, []string{
			fmt.Sprintf("%016b", 16), // 'foo' is the first unresolved symbol, allocated at 16
			"1110111111001000",      // M=1
			fmt.Sprintf("%016b", 17), // 'bar' is the second, allocated at 17
			"1110111111001000",      // M=1
		})
	})
}
