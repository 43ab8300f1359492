package transpose

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type notePitch struct {
	Step   string `xml:"step"`
	Alter  int    `xml:"alter"`
	Octave int    `xml:"octave"`
}

type scoreDoc struct {
	Fifths  []int       `xml:"part>measure>attributes>key>fifths"`
	Pitches []notePitch `xml:"part>measure>note>pitch"`
}

func buildScore(t *testing.T, fifths *int, pitches []notePitch) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	b.WriteString("<score-partwise version=\"4.0\">\n  <part id=\"P1\">\n    <measure number=\"1\">\n")
	if fifths != nil {
		fmt.Fprintf(&b, "      <attributes>\n        <divisions>1</divisions>\n        <key>\n          <fifths>%d</fifths>\n        </key>\n      </attributes>\n", *fifths)
	}
	for _, p := range pitches {
		b.WriteString("      <note>\n        <pitch>\n")
		fmt.Fprintf(&b, "          <step>%s</step>\n", p.Step)
		if p.Alter != 0 {
			fmt.Fprintf(&b, "          <alter>%d</alter>\n", p.Alter)
		}
		fmt.Fprintf(&b, "          <octave>%d</octave>\n", p.Octave)
		b.WriteString("        </pitch>\n        <duration>1</duration>\n      </note>\n")
	}
	b.WriteString("    </measure>\n  </part>\n</score-partwise>\n")

	path := filepath.Join(t.TempDir(), "score.musicxml")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write score: %v", err)
	}
	return path
}

func parseScore(t *testing.T, path string) scoreDoc {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read transposed score: %v", err)
	}
	var doc scoreDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal transposed score: %v", err)
	}
	return doc
}

func intp(v int) *int { return &v }

func TestParseKeySynonyms(t *testing.T) {
	cases := []struct {
		name string
		pc   int
		mode Mode
	}{
		{"C", 0, Major},
		{"Cmaj", 0, Major},
		{"CM", 0, Major},
		{"Cm", 0, Minor},
		{"Cmin", 0, Minor},
		{"Bb", 10, Major},
		{"A#", 10, Major},
		{"F#m", 6, Minor},
		{"Gbm", 6, Minor},
		{"Amin", 9, Minor},
		{" Eb ", 3, Major},
	}
	for _, tc := range cases {
		k, err := ParseKey(tc.name)
		if err != nil {
			t.Fatalf("ParseKey(%q): %v", tc.name, err)
		}
		if k.PitchClass != tc.pc || k.Mode != tc.mode {
			t.Fatalf("ParseKey(%q) = pc %d mode %d, want pc %d mode %d",
				tc.name, k.PitchClass, k.Mode, tc.pc, tc.mode)
		}
	}
}

func TestParseKeyUnknown(t *testing.T) {
	_, err := ParseKey("H#")
	if err == nil {
		t.Fatalf("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "H#") {
		t.Fatalf("error should name the rejected key, got %v", err)
	}
}

func TestKeyFifths(t *testing.T) {
	cases := []struct {
		name   string
		fifths int
	}{
		{"C", 0},
		{"G", 1},
		{"D", 2},
		{"F", -1},
		{"Bb", -2},
		{"F#", 6},
		{"Am", 0},
		{"Em", 1},
		{"Dm", -1},
	}
	for _, tc := range cases {
		k, err := ParseKey(tc.name)
		if err != nil {
			t.Fatalf("ParseKey(%q): %v", tc.name, err)
		}
		if got := k.Fifths(); got != tc.fifths {
			t.Fatalf("Fifths(%q) = %d, want %d", tc.name, got, tc.fifths)
		}
	}
}

func TestSemitoneDelta(t *testing.T) {
	cases := []struct {
		from, to string
		want     int
	}{
		{"C", "F", 5},
		{"C", "G", -5},
		{"C", "B", -1},
		{"C", "Db", 1},
		{"C", "F#", 6}, // tritone resolves upward
		{"Bb", "C", 2},
		{"Am", "Cm", 3},
	}
	for _, tc := range cases {
		from, err := ParseKey(tc.from)
		if err != nil {
			t.Fatalf("ParseKey(%q): %v", tc.from, err)
		}
		to, err := ParseKey(tc.to)
		if err != nil {
			t.Fatalf("ParseKey(%q): %v", tc.to, err)
		}
		if got := SemitoneDelta(from, to); got != tc.want {
			t.Fatalf("SemitoneDelta(%s, %s) = %d, want %d", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestBySemitonesUpSpellsSharps(t *testing.T) {
	// No key signature, so the interval direction decides the spelling.
	in := buildScore(t, nil, []notePitch{{Step: "C", Octave: 4}, {Step: "B", Octave: 4}})
	out := filepath.Join(t.TempDir(), "out.musicxml")

	if err := BySemitones(in, out, 1); err != nil {
		t.Fatalf("transpose: %v", err)
	}
	doc := parseScore(t, out)
	want := []notePitch{{Step: "C", Alter: 1, Octave: 4}, {Step: "C", Octave: 5}}
	if len(doc.Pitches) != len(want) {
		t.Fatalf("got %d pitches, want %d", len(doc.Pitches), len(want))
	}
	for i, p := range doc.Pitches {
		if p != want[i] {
			t.Fatalf("pitch %d = %+v, want %+v", i, p, want[i])
		}
	}
}

func TestBySemitonesDownSpellsFlats(t *testing.T) {
	in := buildScore(t, nil, []notePitch{{Step: "D", Octave: 4}})
	out := filepath.Join(t.TempDir(), "out.musicxml")

	if err := BySemitones(in, out, -1); err != nil {
		t.Fatalf("transpose: %v", err)
	}
	doc := parseScore(t, out)
	if len(doc.Pitches) != 1 || doc.Pitches[0] != (notePitch{Step: "D", Alter: -1, Octave: 4}) {
		t.Fatalf("got %+v, want Db4", doc.Pitches)
	}
}

func TestBySemitonesRewritesKeySignature(t *testing.T) {
	// C major up a whole tone lands in D major; the new signature governs
	// the spelling of every following note.
	in := buildScore(t, intp(0), []notePitch{{Step: "C", Octave: 4}, {Step: "E", Octave: 4}})
	out := filepath.Join(t.TempDir(), "out.musicxml")

	if err := BySemitones(in, out, 2); err != nil {
		t.Fatalf("transpose: %v", err)
	}
	doc := parseScore(t, out)
	if len(doc.Fifths) != 1 || doc.Fifths[0] != 2 {
		t.Fatalf("fifths = %v, want [2]", doc.Fifths)
	}
	want := []notePitch{{Step: "D", Octave: 4}, {Step: "F", Alter: 1, Octave: 4}}
	for i, p := range doc.Pitches {
		if p != want[i] {
			t.Fatalf("pitch %d = %+v, want %+v", i, p, want[i])
		}
	}
}

func TestBySemitonesFlatKeyGovernsSpelling(t *testing.T) {
	// C major up one semitone is written as Db major, so notes spell flat.
	in := buildScore(t, intp(0), []notePitch{{Step: "C", Octave: 4}})
	out := filepath.Join(t.TempDir(), "out.musicxml")

	if err := BySemitones(in, out, 1); err != nil {
		t.Fatalf("transpose: %v", err)
	}
	doc := parseScore(t, out)
	if len(doc.Fifths) != 1 || doc.Fifths[0] != -5 {
		t.Fatalf("fifths = %v, want [-5]", doc.Fifths)
	}
	if doc.Pitches[0] != (notePitch{Step: "D", Alter: -1, Octave: 4}) {
		t.Fatalf("got %+v, want Db4", doc.Pitches[0])
	}
}

func TestBySemitonesZeroIsIdentity(t *testing.T) {
	// Bb without a flat key signature must stay Bb, not respell to A#.
	in := buildScore(t, nil, []notePitch{{Step: "B", Alter: -1, Octave: 4}})
	out := filepath.Join(t.TempDir(), "out.musicxml")

	if err := BySemitones(in, out, 0); err != nil {
		t.Fatalf("transpose: %v", err)
	}
	orig, err := os.ReadFile(in)
	if err != nil {
		t.Fatalf("read input: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(got) != string(orig) {
		t.Fatalf("zero-semitone output differs from input:\n%s", got)
	}
}

func TestBySemitonesZeroInPlace(t *testing.T) {
	in := buildScore(t, nil, []notePitch{{Step: "E", Alter: -1, Octave: 5}})
	if err := BySemitones(in, in, 0); err != nil {
		t.Fatalf("transpose: %v", err)
	}
	doc := parseScore(t, in)
	if len(doc.Pitches) != 1 || doc.Pitches[0] != (notePitch{Step: "E", Alter: -1, Octave: 5}) {
		t.Fatalf("got %+v, want Eb5 untouched", doc.Pitches)
	}
}

func TestBySemitonesRange(t *testing.T) {
	in := buildScore(t, nil, []notePitch{{Step: "C", Octave: 4}})
	out := filepath.Join(t.TempDir(), "out.musicxml")
	for _, n := range []int{13, -13} {
		if err := BySemitones(in, out, n); err == nil {
			t.Fatalf("expected range error for %d semitones", n)
		}
	}
}

func TestByKey(t *testing.T) {
	in := buildScore(t, intp(0), []notePitch{{Step: "C", Octave: 4}, {Step: "A", Octave: 4}})
	out := filepath.Join(t.TempDir(), "out.musicxml")

	if err := ByKey(in, out, "C", "F"); err != nil {
		t.Fatalf("transpose: %v", err)
	}
	doc := parseScore(t, out)
	if len(doc.Fifths) != 1 || doc.Fifths[0] != -1 {
		t.Fatalf("fifths = %v, want [-1]", doc.Fifths)
	}
	want := []notePitch{{Step: "F", Octave: 4}, {Step: "D", Octave: 5}}
	for i, p := range doc.Pitches {
		if p != want[i] {
			t.Fatalf("pitch %d = %+v, want %+v", i, p, want[i])
		}
	}
}

func TestByKeyInvalidKey(t *testing.T) {
	in := buildScore(t, nil, []notePitch{{Step: "C", Octave: 4}})
	out := filepath.Join(t.TempDir(), "out.musicxml")

	err := ByKey(in, out, "C", "Qb")
	if err == nil {
		t.Fatalf("expected error for invalid key")
	}
	if !strings.Contains(err.Error(), "Qb") {
		t.Fatalf("error should name the invalid key, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatalf("no output should be written on key error")
	}
}

func TestRoundTrip(t *testing.T) {
	pitches := []notePitch{
		{Step: "C", Octave: 4},
		{Step: "E", Alter: -1, Octave: 4},
		{Step: "G", Octave: 4},
		{Step: "B", Octave: 3},
	}
	in := buildScore(t, intp(-3), pitches)
	up := filepath.Join(t.TempDir(), "up.musicxml")
	back := filepath.Join(t.TempDir(), "back.musicxml")

	if err := BySemitones(in, up, 3); err != nil {
		t.Fatalf("transpose up: %v", err)
	}
	if err := BySemitones(up, back, -3); err != nil {
		t.Fatalf("transpose back: %v", err)
	}

	orig := parseScore(t, in)
	got := parseScore(t, back)
	if len(got.Pitches) != len(orig.Pitches) {
		t.Fatalf("pitch count changed: %d vs %d", len(got.Pitches), len(orig.Pitches))
	}
	for i := range orig.Pitches {
		if midiOf(t, got.Pitches[i]) != midiOf(t, orig.Pitches[i]) {
			t.Fatalf("pitch %d changed: %+v vs %+v", i, got.Pitches[i], orig.Pitches[i])
		}
	}
	if got.Fifths[0] != orig.Fifths[0] {
		t.Fatalf("fifths changed: %d vs %d", got.Fifths[0], orig.Fifths[0])
	}
}

func TestRewritePreservesUnrelatedContent(t *testing.T) {
	in := buildScore(t, intp(0), []notePitch{{Step: "C", Octave: 4}})
	out := filepath.Join(t.TempDir(), "out.musicxml")
	if err := BySemitones(in, out, 2); err != nil {
		t.Fatalf("transpose: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	for _, want := range []string{"score-partwise", "<divisions>1</divisions>", "<duration>1</duration>", "measure number=\"1\""} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("output lost %q:\n%s", want, data)
		}
	}
}

func midiOf(t *testing.T, p notePitch) int {
	t.Helper()
	base, ok := noteSemitones[p.Step]
	if !ok {
		t.Fatalf("bad step %q", p.Step)
	}
	return (p.Octave+1)*12 + base + p.Alter
}
