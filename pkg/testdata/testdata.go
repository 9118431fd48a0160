// Package testdata generates random values for scenario input fields.
package testdata

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
)

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Numeric strings use digits in [minDigit, maxDigit].
const (
	minDigit = 2
	maxDigit = 8
)

// Default range for RandomInRange.
const (
	DefaultRangeLow  = 15
	DefaultRangeHigh = 25
)

// Generator produces random test data. It is safe for concurrent use.
type Generator struct {
	mu sync.Mutex
	r  *rand.Rand
}

// New returns a generator backed by src. A fixed source gives repeatable data.
func New(src rand.Source) *Generator {
	return &Generator{r: rand.New(src)}
}

// NewSeeded returns a generator with a PCG source seeded by seed.
func NewSeeded(seed uint64) *Generator {
	return New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

var std = New(rand.NewPCG(rand.Uint64(), rand.Uint64()))

func (g *Generator) intN(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.r.IntN(n)
}

// AlphabeticString returns n random ASCII letters.
func (g *Generator) AlphabeticString(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(letters[g.intN(len(letters))])
	}
	return b.String()
}

// NumericString returns n random digits between 2 and 8.
func (g *Generator) NumericString(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(byte('0' + minDigit + g.intN(maxDigit-minDigit+1)))
	}
	return b.String()
}

// IntInRange returns a value in [lo, hi].
func (g *Generator) IntInRange(lo, hi int) (int, error) {
	if lo > hi {
		return 0, fmt.Errorf("invalid range [%d, %d]", lo, hi)
	}
	return lo + g.intN(hi-lo+1), nil
}

// RandomInRange returns a value in [15, 25].
func (g *Generator) RandomInRange() int {
	n, _ := g.IntInRange(DefaultRangeLow, DefaultRangeHigh)
	return n
}

// Data is a set of form values for one scenario.
type Data struct {
	Note        string `json:"note" yaml:"note"`
	Description string `json:"description" yaml:"description"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
	FirstName   string `json:"firstName" yaml:"firstName"`
	LastName    string `json:"lastName" yaml:"lastName"`
	Phone       string `json:"phone" yaml:"phone"`
	Miles       string `json:"miles" yaml:"miles"`
}

// Data returns a fresh set of form values.
func (g *Generator) Data() Data {
	return Data{
		Note:        g.AlphabeticString(10),
		Description: g.AlphabeticString(10),
		Username:    g.AlphabeticString(6) + "@gmail.com",
		Password:    g.AlphabeticString(4) + "@123",
		FirstName:   g.AlphabeticString(6),
		LastName:    g.AlphabeticString(6),
		Phone:       "0123456789",
		Miles:       "10",
	}
}

// Lookup returns the value of a field by its yaml name, for ${data.<field>}
// placeholders in suite files.
func (d Data) Lookup(field string) (string, bool) {
	switch field {
	case "note":
		return d.Note, true
	case "description":
		return d.Description, true
	case "username":
		return d.Username, true
	case "password":
		return d.Password, true
	case "firstName":
		return d.FirstName, true
	case "lastName":
		return d.LastName, true
	case "phone":
		return d.Phone, true
	case "miles":
		return d.Miles, true
	default:
		return "", false
	}
}

// AlphabeticString returns n random letters from the default generator.
func AlphabeticString(n int) string { return std.AlphabeticString(n) }

// NumericString returns n random digits from the default generator.
func NumericString(n int) string { return std.NumericString(n) }

// IntInRange returns a value in [lo, hi] from the default generator.
func IntInRange(lo, hi int) (int, error) { return std.IntInRange(lo, hi) }

// NewData returns form values from the default generator.
func NewData() Data { return std.Data() }
