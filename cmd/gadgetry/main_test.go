package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// pop rax; pop rbx; ret; mov rax, 0x1337; jmp qword ptr [rax]
var shellcode = []byte{0x58, 0x5b, 0xc3, 0x48, 0xc7, 0xc0, 0x37, 0x13, 0x00, 0x00, 0xff, 0x20}

func writeBin(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func countJSONLLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	count := 0
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			t.Fatalf("decode %s line %d: %v", path, count+1, err)
		}
		count++
	}
	return count
}

func TestSearchRaw(t *testing.T) {
	dir := t.TempDir()
	bin := writeBin(t, dir, "sc.bin", shellcode)
	jsonl := filepath.Join(dir, "gadgets.jsonl")
	summary := filepath.Join(dir, "summary.json")

	out, err := run(t, "search", "--arch", "x64", "--color", "never", "--jsonl", jsonl, "--summary", summary, bin)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"0x0000000000000000: pop rax; pop rbx; ret\n",
		"0x0000000000000003: mov rax, 0x1337; jmp qword ptr [rax]\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	lines := strings.Count(out, "\n")
	if n := countJSONLLines(t, jsonl); n != lines {
		t.Errorf("jsonl has %d records, text has %d lines", n, lines)
	}

	data, err := os.ReadFile(summary)
	if err != nil {
		t.Fatal(err)
	}
	var sum struct {
		Binaries []struct {
			Format  string `json:"format"`
			Gadgets int    `json:"gadgets"`
		} `json:"binaries"`
		Gadgets int `json:"gadgets"`
	}
	if err := json.Unmarshal(data, &sum); err != nil {
		t.Fatal(err)
	}
	if len(sum.Binaries) != 1 || sum.Binaries[0].Format != "raw" || sum.Gadgets != lines {
		t.Errorf("summary = %+v, want one raw binary and %d gadgets", sum, lines)
	}
}

func TestSearchHTML(t *testing.T) {
	dir := t.TempDir()
	bin := writeBin(t, dir, "sc.bin", shellcode)
	report := filepath.Join(dir, "report.html")
	if _, err := run(t, "search", "--arch", "x64", "--color", "never", "--html", report, bin); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(report)
	if err != nil {
		t.Fatal(err)
	}
	html := string(data)
	for _, want := range []string{"<h2>Binaries</h2>", "sc.bin", "pop rax; pop rbx; ret", "</html>"} {
		if !strings.Contains(html, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestSearchATT(t *testing.T) {
	bin := writeBin(t, t.TempDir(), "sc.bin", shellcode)
	out, err := run(t, "search", "--arch", "x64", "--color", "never", "--att", bin)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "0x0000000000000000: pop %rax; pop %rbx; ") {
		t.Errorf("output not in AT&T syntax:\n%s", out)
	}
}

func TestSearchHTMLUnwritable(t *testing.T) {
	dir := t.TempDir()
	bin := writeBin(t, dir, "sc.bin", shellcode)
	report := filepath.Join(dir, "missing", "report.html")
	if _, err := run(t, "search", "--arch", "x64", "--color", "never", "--html", report, bin); err == nil {
		t.Error("expected error for unwritable report path")
	}
}

func TestSearchFilters(t *testing.T) {
	bin := writeBin(t, t.TempDir(), "sc.bin", shellcode)
	out, err := run(t, "search", "--arch", "x64", "--color", "never", "--bad-bytes", "00", "--reg-pop", bin)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "pop rax; pop rbx; ret") {
		t.Errorf("output missing pop rax; pop rbx; ret:\n%s", out)
	}
	if strings.Contains(out, "mov") {
		t.Errorf("filtered output still has mov:\n%s", out)
	}
}

func TestSearchCrossReference(t *testing.T) {
	dir := t.TempDir()
	a := writeBin(t, dir, "a.bin", shellcode)
	b := writeBin(t, dir, "b.bin", []byte{0x90, 0x58, 0x5b, 0xc3})
	dot := filepath.Join(dir, "xref.dot")

	out, err := run(t, "search", "--arch", "x64", "--color", "never", "--dot", dot, a, b)
	if err != nil {
		t.Fatal(err)
	}
	want := "[" + a + ": 0x0000000000000000], [" + b + ": 0x0000000000000001]: pop rax; pop rbx; ret\n"
	if !strings.Contains(out, want) {
		t.Errorf("output missing %q:\n%s", want, out)
	}
	if strings.Contains(out, "jmp") {
		t.Errorf("full match reported a gadget only in %s:\n%s", a, out)
	}
	if _, err := os.Stat(dot); err != nil {
		t.Errorf("dot not written: %v", err)
	}

	out, err = run(t, "search", "--arch", "x64", "--color", "never", "--partial", filepath.Join(dir, "*.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "jmp qword ptr [rax]") || strings.Contains(out, ": pop rax; pop rbx; ret\n") {
		t.Errorf("partial output:\n%s", out)
	}
}

func TestSearchErrors(t *testing.T) {
	bin := writeBin(t, t.TempDir(), "sc.bin", shellcode)
	tests := []struct {
		name string
		args []string
	}{
		{"no args", []string{"search"}},
		{"raw without arch", []string{"search", bin}},
		{"bad arch", []string{"search", "--arch", "mips", bin}},
		{"bad terminator", []string{"search", "--terminators", "jcc", "--arch", "x64", bin}},
		{"bad regex", []string{"search", "--arch", "x64", "--include", "(", bin}},
		{"bad pivot", []string{"search", "--arch", "x64", "--pivot", "maybe", bin}},
		{"negative window", []string{"search", "--arch", "x64", "--max-bytes", "-1", bin}},
		{"imports of raw file", []string{"imports", bin}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, tt.args...); err == nil {
				t.Errorf("%v: expected error", tt.args)
			}
		})
	}
}
