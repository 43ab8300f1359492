// Package transpose rewrites MusicXML documents by a semitone interval or
// between named keys. The rewrite is token level: only <pitch> children and
// <key><fifths> values change, everything else passes through untouched.
package transpose

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const (
	// MinSemitones and MaxSemitones bound the accepted interval, matching
	// the job API contract.
	MinSemitones = -12
	MaxSemitones = 12
)

// noteSemitones maps diatonic steps to their pitch class offset from C.
var noteSemitones = map[string]int{
	"C": 0, "D": 2, "E": 4, "F": 5, "G": 7, "A": 9, "B": 11,
}

// sharpSpelling and flatSpelling map a pitch class to step and alteration.
var sharpSpelling = [12]struct {
	step  string
	alter int
}{
	{"C", 0}, {"C", 1}, {"D", 0}, {"D", 1}, {"E", 0}, {"F", 0},
	{"F", 1}, {"G", 0}, {"G", 1}, {"A", 0}, {"A", 1}, {"B", 0},
}

var flatSpelling = [12]struct {
	step  string
	alter int
}{
	{"C", 0}, {"D", -1}, {"D", 0}, {"E", -1}, {"E", 0}, {"F", 0},
	{"G", -1}, {"G", 0}, {"A", -1}, {"A", 0}, {"B", -1}, {"B", 0},
}

// BySemitones transposes the MusicXML document at inPath by the given number
// of semitones and writes the result to outPath. Upward intervals spell
// sharps, downward intervals spell flats, unless a rewritten key signature
// dictates otherwise. Zero semitones copies the document verbatim.
func BySemitones(inPath, outPath string, semitones int) error {
	if semitones < MinSemitones || semitones > MaxSemitones {
		return fmt.Errorf("semitones %d out of range [%d, %d]", semitones, MinSemitones, MaxSemitones)
	}
	return rewriteFile(inPath, outPath, semitones, semitones < 0)
}

// ByKey transposes from one named key to another using the smallest signed
// interval between their tonics. Spelling follows the target key.
func ByKey(inPath, outPath, fromName, toName string) error {
	from, err := ParseKey(fromName)
	if err != nil {
		return err
	}
	to, err := ParseKey(toName)
	if err != nil {
		return err
	}
	return rewriteFile(inPath, outPath, SemitoneDelta(from, to), to.Fifths() < 0)
}

func rewriteFile(inPath, outPath string, semitones int, spellFlats bool) error {
	// A zero interval is an identity: the document passes through unchanged,
	// preserving the original enharmonic spelling.
	if semitones == 0 {
		return passThrough(inPath, outPath)
	}

	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("open notation document: %w", err)
	}
	defer in.Close()

	tmp := outPath + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	rw := &rewriter{semitones: semitones, spellFlats: spellFlats}
	if err := rw.run(in, out); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, outPath)
}

func passThrough(inPath, outPath string) error {
	if inPath == outPath {
		if _, err := os.Stat(inPath); err != nil {
			return fmt.Errorf("open notation document: %w", err)
		}
		return nil
	}
	data, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("open notation document: %w", err)
	}
	return os.WriteFile(outPath, data, 0o644)
}

// rewriter streams XML tokens, intercepting <pitch> subtrees and <fifths>
// text inside <key> elements.
type rewriter struct {
	semitones  int
	spellFlats bool

	inKey     bool
	inFifths  bool
	pathDepth int
}

func (rw *rewriter) run(r io.Reader, w io.Writer) error {
	dec := xml.NewDecoder(r)
	enc := xml.NewEncoder(w)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("parse notation document: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "pitch":
				if err := rw.rewritePitch(dec, enc, t); err != nil {
					return err
				}
				continue
			case "key":
				rw.inKey = true
			case "fifths":
				if rw.inKey {
					rw.inFifths = true
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "key":
				rw.inKey = false
			case "fifths":
				rw.inFifths = false
			}
		case xml.CharData:
			if rw.inFifths {
				rewritten, err := rw.rewriteFifths(string(t))
				if err != nil {
					return err
				}
				tok = xml.CharData(rewritten)
			}
		}

		if err := enc.EncodeToken(xml.CopyToken(tok)); err != nil {
			return fmt.Errorf("write notation document: %w", err)
		}
	}
	return enc.Flush()
}

// rewriteFifths shifts a key signature by the interval. Each semitone moves
// the signature seven steps around the circle of fifths.
func (rw *rewriter) rewriteFifths(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return text, nil
	}
	fifths, err := strconv.Atoi(trimmed)
	if err != nil {
		return "", fmt.Errorf("malformed key signature %q: %w", trimmed, err)
	}
	shifted := ((fifths+7*rw.semitones)%12 + 12) % 12
	if shifted > 6 {
		shifted -= 12
	}
	// Keys rewritten mid-document govern how later notes are spelled.
	rw.spellFlats = shifted < 0
	return strings.Replace(text, trimmed, strconv.Itoa(shifted), 1), nil
}

// rewritePitch consumes a <pitch> subtree from the decoder and emits a
// transposed replacement, keeping the subtree's indentation.
func (rw *rewriter) rewritePitch(dec *xml.Decoder, enc *xml.Encoder, start xml.StartElement) error {
	var (
		step        string
		alter       int
		octave      int
		current     string
		childIndent string
		closeIndent string
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("parse pitch element: %w", err)
		}
		done := false
		switch t := tok.(type) {
		case xml.StartElement:
			current = t.Name.Local
		case xml.CharData:
			text := string(t)
			switch current {
			case "step":
				step = strings.TrimSpace(text)
			case "alter":
				alter, err = atoiLoose(text)
				if err != nil {
					return fmt.Errorf("malformed alter %q: %w", strings.TrimSpace(text), err)
				}
			case "octave":
				octave, err = atoiLoose(text)
				if err != nil {
					return fmt.Errorf("malformed octave %q: %w", strings.TrimSpace(text), err)
				}
			default:
				if strings.Contains(text, "\n") {
					if childIndent == "" {
						childIndent = text
					}
					closeIndent = text
				}
			}
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				done = true
			}
			current = ""
		}
		if done {
			break
		}
	}

	base, ok := noteSemitones[strings.ToUpper(step)]
	if !ok {
		return fmt.Errorf("malformed pitch step %q", step)
	}

	midi := (octave+1)*12 + base + alter + rw.semitones
	newOctave := midi/12 - 1
	pc := ((midi % 12) + 12) % 12
	spelled := sharpSpelling[pc]
	if rw.spellFlats {
		spelled = flatSpelling[pc]
	}

	emit := func(toks ...xml.Token) error {
		for _, t := range toks {
			if err := enc.EncodeToken(t); err != nil {
				return fmt.Errorf("write pitch element: %w", err)
			}
		}
		return nil
	}
	child := func(name, value string) error {
		n := xml.Name{Local: name}
		toks := []xml.Token{}
		if childIndent != "" {
			toks = append(toks, xml.CharData(childIndent))
		}
		toks = append(toks, xml.StartElement{Name: n}, xml.CharData(value), xml.EndElement{Name: n})
		return emit(toks...)
	}

	if err := emit(start); err != nil {
		return err
	}
	if err := child("step", spelled.step); err != nil {
		return err
	}
	if spelled.alter != 0 {
		if err := child("alter", strconv.Itoa(spelled.alter)); err != nil {
			return err
		}
	}
	if err := child("octave", strconv.Itoa(newOctave)); err != nil {
		return err
	}
	if closeIndent != "" {
		if err := emit(xml.CharData(closeIndent)); err != nil {
			return err
		}
	}
	return emit(xml.EndElement{Name: start.Name})
}

func atoiLoose(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
