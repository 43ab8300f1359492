package transpose

import (
	"fmt"
	"strings"
)

// Mode distinguishes major and minor key spellings.
type Mode int

const (
	Major Mode = iota
	Minor
)

// Key is a parsed key name: tonic pitch class (C=0) and mode.
type Key struct {
	Name       string
	PitchClass int
	Mode       Mode
}

// keyTable maps accepted key names to tonic pitch class and mode. The synonym
// set mirrors what the job API accepts: plain tonic, maj/M suffix for major,
// m/min for minor, sharp and flat tonics.
var keyTable = map[string]Key{
	"C":     {PitchClass: 0, Mode: Major},
	"Cmaj":  {PitchClass: 0, Mode: Major},
	"CM":    {PitchClass: 0, Mode: Major},
	"Cm":    {PitchClass: 0, Mode: Minor},
	"Cmin":  {PitchClass: 0, Mode: Minor},
	"C#":    {PitchClass: 1, Mode: Major},
	"C#maj": {PitchClass: 1, Mode: Major},
	"C#m":   {PitchClass: 1, Mode: Minor},
	"Db":    {PitchClass: 1, Mode: Major},
	"Dbmaj": {PitchClass: 1, Mode: Major},
	"Dbm":   {PitchClass: 1, Mode: Minor},
	"D":     {PitchClass: 2, Mode: Major},
	"Dmaj":  {PitchClass: 2, Mode: Major},
	"DM":    {PitchClass: 2, Mode: Major},
	"Dm":    {PitchClass: 2, Mode: Minor},
	"Dmin":  {PitchClass: 2, Mode: Minor},
	"D#":    {PitchClass: 3, Mode: Major},
	"D#m":   {PitchClass: 3, Mode: Minor},
	"Eb":    {PitchClass: 3, Mode: Major},
	"Ebmaj": {PitchClass: 3, Mode: Major},
	"Ebm":   {PitchClass: 3, Mode: Minor},
	"E":     {PitchClass: 4, Mode: Major},
	"Emaj":  {PitchClass: 4, Mode: Major},
	"EM":    {PitchClass: 4, Mode: Major},
	"Em":    {PitchClass: 4, Mode: Minor},
	"Emin":  {PitchClass: 4, Mode: Minor},
	"F":     {PitchClass: 5, Mode: Major},
	"Fmaj":  {PitchClass: 5, Mode: Major},
	"FM":    {PitchClass: 5, Mode: Major},
	"Fm":    {PitchClass: 5, Mode: Minor},
	"Fmin":  {PitchClass: 5, Mode: Minor},
	"F#":    {PitchClass: 6, Mode: Major},
	"F#maj": {PitchClass: 6, Mode: Major},
	"F#m":   {PitchClass: 6, Mode: Minor},
	"Gb":    {PitchClass: 6, Mode: Major},
	"Gbmaj": {PitchClass: 6, Mode: Major},
	"Gbm":   {PitchClass: 6, Mode: Minor},
	"G":     {PitchClass: 7, Mode: Major},
	"Gmaj":  {PitchClass: 7, Mode: Major},
	"GM":    {PitchClass: 7, Mode: Major},
	"Gm":    {PitchClass: 7, Mode: Minor},
	"Gmin":  {PitchClass: 7, Mode: Minor},
	"G#":    {PitchClass: 8, Mode: Major},
	"G#m":   {PitchClass: 8, Mode: Minor},
	"Ab":    {PitchClass: 8, Mode: Major},
	"Abmaj": {PitchClass: 8, Mode: Major},
	"Abm":   {PitchClass: 8, Mode: Minor},
	"A":     {PitchClass: 9, Mode: Major},
	"Amaj":  {PitchClass: 9, Mode: Major},
	"AM":    {PitchClass: 9, Mode: Major},
	"Am":    {PitchClass: 9, Mode: Minor},
	"Amin":  {PitchClass: 9, Mode: Minor},
	"A#":    {PitchClass: 10, Mode: Major},
	"A#m":   {PitchClass: 10, Mode: Minor},
	"Bb":    {PitchClass: 10, Mode: Major},
	"Bbmaj": {PitchClass: 10, Mode: Major},
	"Bbm":   {PitchClass: 10, Mode: Minor},
	"B":     {PitchClass: 11, Mode: Major},
	"Bmaj":  {PitchClass: 11, Mode: Major},
	"BM":    {PitchClass: 11, Mode: Major},
	"Bm":    {PitchClass: 11, Mode: Minor},
	"Bmin":  {PitchClass: 11, Mode: Minor},
}

// ParseKey resolves a key name like "Bb", "F#m" or "Amin". The error names the
// rejected key so job failure messages can surface it directly.
func ParseKey(name string) (Key, error) {
	trimmed := strings.TrimSpace(name)
	k, ok := keyTable[trimmed]
	if !ok {
		return Key{}, fmt.Errorf("unrecognized key %q", name)
	}
	k.Name = trimmed
	return k, nil
}

// Fifths returns the key signature (sharps positive, flats negative) for the
// key. Minor keys share the signature of their relative major.
func (k Key) Fifths() int {
	pc := k.PitchClass
	if k.Mode == Minor {
		pc = (pc + 3) % 12
	}
	// 7 is the multiplicative inverse of 7 mod 12, so this inverts
	// pc = 7*fifths mod 12.
	f := (pc * 7) % 12
	if f > 6 {
		f -= 12
	}
	return f
}

// SemitoneDelta is the smallest signed movement from one tonic to another,
// wrapped to [-5, +6]. A tritone resolves upward.
func SemitoneDelta(from, to Key) int {
	d := ((to.PitchClass-from.PitchClass)%12 + 12) % 12
	if d > 6 {
		d -= 12
	}
	return d
}
