package agentloop

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// RepetitionConfig tunes stagnation detection.
type RepetitionConfig struct {
	// Window is how many recent fingerprints are remembered.
	Window int `yaml:"window" json:"window"`
	// Threshold is how many similar fingerprints the window may hold, the new
	// one included, before the next similar one counts as stagnation.
	Threshold int `yaml:"threshold" json:"threshold"`
	// Tolerance is the edit distance under which two argument sets for the
	// same tool are considered the same action.
	Tolerance int `yaml:"tolerance" json:"tolerance"`
}

// DefaultRepetitionConfig returns the default guard settings.
func DefaultRepetitionConfig() RepetitionConfig {
	return RepetitionConfig{Window: 10, Threshold: 3, Tolerance: 2}
}

// maxFingerprintValue is the longest argument value kept verbatim in a
// fingerprint; longer values are hashed.
const maxFingerprintValue = 256

// GuardVerdict is the outcome of observing one action.
type GuardVerdict int

const (
	GuardOK GuardVerdict = iota
	// GuardWarn is a first strike: the caller should inject a corrective
	// turn and continue.
	GuardWarn
	// GuardFail is a second strike: the run must fail.
	GuardFail
)

func (v GuardVerdict) String() string {
	switch v {
	case GuardWarn:
		return "warn"
	case GuardFail:
		return "fail"
	}
	return "ok"
}

type fingerprint struct {
	tool string
	args string
}

func (f fingerprint) String() string {
	return f.tool + "(" + f.args + ")"
}

// RepetitionGuard watches dispatched actions for stagnation. It belongs to
// one run and is not safe for concurrent use.
type RepetitionGuard struct {
	cfg        RepetitionConfig
	window     []fingerprint
	next       int
	strikes    int
	sinceReset int
}

// NewRepetitionGuard creates a guard. Non-positive settings take defaults;
// a negative tolerance is treated as exact matching.
func NewRepetitionGuard(cfg RepetitionConfig) *RepetitionGuard {
	def := DefaultRepetitionConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Tolerance < 0 {
		cfg.Tolerance = 0
	}
	return &RepetitionGuard{cfg: cfg, window: make([]fingerprint, 0, cfg.Window)}
}

// Observe records a dispatched call and reports whether the run is
// stagnating. The returned error is non-nil for GuardWarn and GuardFail.
func (g *RepetitionGuard) Observe(call ToolCallRecord) (GuardVerdict, *StagnationError) {
	fp := newFingerprint(call.Name, call.Args)

	matches := 1
	for _, prev := range g.window {
		if g.similar(prev, fp) {
			matches++
		}
	}
	g.push(fp)

	if g.strikes > 0 {
		g.sinceReset++
	}

	if matches <= g.cfg.Threshold {
		if g.strikes > 0 && g.sinceReset >= g.cfg.Window {
			g.strikes = 0
			g.sinceReset = 0
		}
		return GuardOK, nil
	}

	g.strikes++
	stagnation := &StagnationError{Fingerprint: fp.String(), Matches: matches, Strike: g.strikes}
	if g.strikes >= 2 {
		return GuardFail, stagnation
	}
	g.window = g.window[:0]
	g.next = 0
	g.sinceReset = 0
	return GuardWarn, stagnation
}

// Strikes returns the current strike count.
func (g *RepetitionGuard) Strikes() int { return g.strikes }

func (g *RepetitionGuard) push(fp fingerprint) {
	if len(g.window) < g.cfg.Window {
		g.window = append(g.window, fp)
		return
	}
	g.window[g.next] = fp
	g.next = (g.next + 1) % g.cfg.Window
}

func (g *RepetitionGuard) similar(a, b fingerprint) bool {
	if a.tool != b.tool {
		return false
	}
	if a.args == b.args {
		return true
	}
	return withinDistance([]rune(a.args), []rune(b.args), g.cfg.Tolerance)
}

// CorrectiveNotice is the system turn injected on a first strike.
func CorrectiveNotice(err *StagnationError) string {
	return fmt.Sprintf("You have repeated the action %s %d times without making progress. "+
		"Do not repeat it again. Read the previous tool results, try a different approach, "+
		"or finish with <ENDOFOP> if the task is already complete.", err.Fingerprint, err.Matches)
}

// Fingerprint returns the canonical identity of an action: the tool name and
// its arguments sorted by key with whitespace collapsed.
func Fingerprint(name string, args map[string]string) string {
	return newFingerprint(name, args).String()
}

func newFingerprint(name string, args map[string]string) fingerprint {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := strings.Join(strings.Fields(args[k]), " ")
		if len(v) > maxFingerprintValue {
			sum := sha256.Sum256([]byte(v))
			v = fmt.Sprintf("sha256:%x", sum[:8])
		}
		parts = append(parts, k+"="+v)
	}
	return fingerprint{tool: name, args: strings.Join(parts, ",")}
}

// withinDistance reports whether the Levenshtein distance between a and b is
// at most k. Only the diagonal band of width k is computed.
func withinDistance(a, b []rune, k int) bool {
	if abs(len(a)-len(b)) > k {
		return false
	}
	if k == 0 {
		return string(a) == string(b)
	}
	inf := k + 1
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		if j <= k {
			prev[j] = j
		} else {
			prev[j] = inf
		}
	}

	for i := 1; i <= len(a); i++ {
		lo := max(1, i-k)
		hi := min(len(b), i+k)
		if lo == 1 {
			cur[0] = i
		} else {
			cur[lo-1] = inf
		}
		rowMin := inf
		for j := lo; j <= hi; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			v := prev[j-1] + cost
			if prev[j]+1 < v {
				v = prev[j] + 1
			}
			if cur[j-1]+1 < v {
				v = cur[j-1] + 1
			}
			cur[j] = v
			if v < rowMin {
				rowMin = v
			}
		}
		if hi+1 <= len(b) {
			cur[hi+1] = inf
		}
		if rowMin > k {
			return false
		}
		prev, cur = cur, prev
	}
	return prev[len(b)] <= k
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
