// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package proteodiff

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ContrastDefinition names a comparison of group means, the samples
// it uses, and the abundance threshold applied before fitting.
type ContrastDefinition struct {
	Name string `yaml:"name"`
	// Subset maps a factor to its accepted levels. A sample is used
	// if it matches every entry. An empty Subset selects all samples.
	Subset map[string][]string `yaml:"subset"`
	// Match, if non-nil, must also accept a sample for it to be used.
	Match func(SampleInfo) bool `yaml:"-"`
	// Design is the factor whose levels become the model columns.
	// Defaults to GroupFactor.
	Design string `yaml:"design"`
	// Levels optionally fixes the order of the design columns.
	Levels []string `yaml:"levels"`
	// Threshold is the minimum subset-mean log2 abundance. Nil keeps
	// every feature.
	Threshold *float64 `yaml:"threshold"`
	// Exactly one of Coefficients (aligned with the design columns)
	// and Expression (e.g. "(A-B)-(C-D)") must be given.
	Coefficients []float64 `yaml:"coefficients"`
	Expression   string    `yaml:"expression"`
}

// contrastPlan is a validated contrast resolved against the sample
// metadata.
type contrastPlan struct {
	def     ContrastDefinition
	columns []int     // sample (matrix column) indices in the subset
	levels  []string  // design columns
	assign  []int     // per subset sample, index into levels
	coef    []float64 // contrast vector, len(levels)
}

func (p *contrastPlan) designString() string {
	return "~0 + " + p.def.designFactor()
}

func (p *contrastPlan) formulaString() string {
	return formatContrast(p.levels, p.coef)
}

func (def ContrastDefinition) threshold() float64 {
	if def.Threshold == nil {
		return math.Inf(-1)
	}
	return *def.Threshold
}

func (def ContrastDefinition) designFactor() string {
	if def.Design == "" {
		return GroupFactor
	}
	return def.Design
}

var contrastNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.+-]*$`)

// plan validates def against sm (already aligned to the matrix) and
// resolves the subset, design columns, and contrast vector.
func (def ContrastDefinition) plan(sm *SampleMetadata) (*contrastPlan, error) {
	name := def.Name
	if !contrastNameRe.MatchString(name) {
		return nil, configErrorf(name, "name", "contrast name must match %s", contrastNameRe)
	}
	factors := make([]string, 0, len(def.Subset))
	for factor := range def.Subset {
		factors = append(factors, factor)
	}
	sort.Strings(factors)
	for _, factor := range factors {
		if !sm.HasFactor(factor) {
			return nil, configErrorf(name, "subset-factor", "subset refers to factor %q, not present in sample metadata (factors: %s)", factor, strings.Join(sm.Factors, ", "))
		}
	}
	design := def.designFactor()
	if !sm.HasFactor(design) {
		return nil, configErrorf(name, "design-factor", "design factor %q not present in sample metadata (factors: %s)", design, strings.Join(sm.Factors, ", "))
	}

	p := &contrastPlan{def: def}
	for i, si := range sm.Samples {
		if def.matches(si) {
			p.columns = append(p.columns, i)
		}
	}
	if len(p.columns) == 0 {
		return nil, configErrorf(name, "empty-subset", "sample predicate matches zero samples")
	}

	present := map[string]bool{}
	for _, i := range p.columns {
		present[sm.Samples[i].Levels[design]] = true
	}
	if len(def.Levels) > 0 {
		declared := map[string]bool{}
		for _, lvl := range def.Levels {
			if declared[lvl] {
				return nil, configErrorf(name, "design-levels", "level %q listed twice", lvl)
			}
			declared[lvl] = true
			if !present[lvl] {
				return nil, configErrorf(name, "design-levels", "level %q of factor %q has no samples in the subset", lvl, design)
			}
		}
		for lvl := range present {
			if !declared[lvl] {
				return nil, configErrorf(name, "design-levels", "subset includes level %q of factor %q, which is not in the declared levels", lvl, design)
			}
		}
		p.levels = append([]string(nil), def.Levels...)
	} else {
		for lvl := range present {
			p.levels = append(p.levels, lvl)
		}
		sort.Strings(p.levels)
	}
	levelIndex := map[string]int{}
	for k, lvl := range p.levels {
		levelIndex[lvl] = k
	}
	p.assign = make([]int, len(p.columns))
	for k, i := range p.columns {
		p.assign[k] = levelIndex[sm.Samples[i].Levels[design]]
	}

	switch {
	case len(def.Coefficients) > 0 && def.Expression != "":
		return nil, configErrorf(name, "coefficients", "specify either coefficients or expression, not both")
	case len(def.Coefficients) > 0:
		if len(def.Coefficients) != len(p.levels) {
			return nil, configErrorf(name, "coefficients", "%d coefficients for %d design columns (%s)", len(def.Coefficients), len(p.levels), strings.Join(p.levels, ", "))
		}
		p.coef = append([]float64(nil), def.Coefficients...)
	case def.Expression != "":
		coef, err := parseContrast(def.Expression, p.levels)
		if err != nil {
			return nil, configErrorf(name, "expression", "%s", err)
		}
		p.coef = coef
	default:
		return nil, configErrorf(name, "coefficients", "no coefficients or expression given")
	}
	allZero := true
	for _, c := range p.coef {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, configErrorf(name, "coefficients", "non-finite coefficient")
		}
		if c != 0 {
			allZero = false
		}
	}
	if allZero {
		return nil, configErrorf(name, "coefficients", "all contrast coefficients are zero")
	}
	return p, nil
}

func (def ContrastDefinition) matches(si SampleInfo) bool {
	for factor, accept := range def.Subset {
		lvl := si.Levels[factor]
		ok := false
		for _, a := range accept {
			if a == lvl {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return def.Match == nil || def.Match(si)
}

// planContrasts validates every definition. Invalid contrasts get an
// error in errs (same index); valid ones a plan.
func planContrasts(defs []ContrastDefinition, sm *SampleMetadata) (plans []*contrastPlan, errs []error) {
	plans = make([]*contrastPlan, len(defs))
	errs = make([]error, len(defs))
	seen := map[string]bool{}
	for i, def := range defs {
		if seen[def.Name] {
			errs[i] = configErrorf(def.Name, "duplicate-name", "contrast name is used more than once")
			continue
		}
		seen[def.Name] = true
		plans[i], errs[i] = def.plan(sm)
	}
	return
}

// InteractionVector returns the coefficients of (a-b)-(c-d) over
// levels as one vector.
func InteractionVector(levels []string, a, b, c, d string) ([]float64, error) {
	return parseContrast(fmt.Sprintf("(`%s` - `%s`) - (`%s` - `%s`)", a, b, c, d), levels)
}

// formatContrast renders coefficients as a readable formula, e.g.
// "KO.T - KO.C - WT.T + WT.C". The first positive term is written
// first, the rest follow in level order.
func formatContrast(levels []string, coef []float64) string {
	order := make([]int, 0, len(coef))
	for k, c := range coef {
		if c > 0 {
			order = append(order, k)
			break
		}
	}
	for k := range coef {
		if len(order) == 0 || k != order[0] {
			order = append(order, k)
		}
	}
	var b strings.Builder
	for _, k := range order {
		c := coef[k]
		if c == 0 {
			continue
		}
		abs := c
		if c < 0 {
			abs = -c
		}
		switch {
		case b.Len() == 0 && c < 0:
			b.WriteString("-")
		case b.Len() > 0 && c < 0:
			b.WriteString(" - ")
		case b.Len() > 0:
			b.WriteString(" + ")
		}
		if abs != 1 {
			b.WriteString(strconv.FormatFloat(abs, 'g', -1, 64))
			b.WriteString("*")
		}
		b.WriteString(levels[k])
	}
	return b.String()
}

// linear is a linear combination of design columns plus a constant,
// the value type of the contrast expression evaluator.
type linear struct {
	coef  []float64
	konst float64
}

func (l linear) isConst() bool {
	for _, c := range l.coef {
		if c != 0 {
			return false
		}
	}
	return true
}

func (l linear) add(r linear, sign float64) linear {
	out := linear{coef: make([]float64, len(l.coef)), konst: l.konst + sign*r.konst}
	for k := range l.coef {
		out.coef[k] = l.coef[k] + sign*r.coef[k]
	}
	return out
}

func (l linear) scale(f float64) linear {
	out := linear{coef: make([]float64, len(l.coef)), konst: l.konst * f}
	for k := range l.coef {
		out.coef[k] = l.coef[k] * f
	}
	return out
}

// contrastParser evaluates expressions like "0.5*(A+B) - C" into a
// coefficient vector. Level names may contain letters, digits, "_"
// and "."; other names can be quoted with backticks.
type contrastParser struct {
	src    string
	pos    int
	levels map[string]int
	n      int
}

func parseContrast(expr string, levels []string) ([]float64, error) {
	p := &contrastParser{src: expr, levels: map[string]int{}, n: len(levels)}
	for k, lvl := range levels {
		p.levels[lvl] = k
	}
	v, err := p.expr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, fmt.Errorf("unexpected %q at offset %d in %q", p.src[p.pos:], p.pos, expr)
	}
	if v.konst != 0 {
		return nil, fmt.Errorf("expression %q has a constant term", expr)
	}
	return v.coef, nil
}

func (p *contrastParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *contrastParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *contrastParser) expr() (linear, error) {
	v, err := p.term()
	if err != nil {
		return v, err
	}
	for {
		op := p.peek()
		if op != '+' && op != '-' {
			return v, nil
		}
		p.pos++
		r, err := p.term()
		if err != nil {
			return v, err
		}
		if op == '+' {
			v = v.add(r, 1)
		} else {
			v = v.add(r, -1)
		}
	}
}

func (p *contrastParser) term() (linear, error) {
	v, err := p.unary()
	if err != nil {
		return v, err
	}
	for {
		op := p.peek()
		if op != '*' && op != '/' {
			return v, nil
		}
		p.pos++
		r, err := p.unary()
		if err != nil {
			return v, err
		}
		switch {
		case op == '/' && !r.isConst():
			return v, fmt.Errorf("cannot divide by a group mean at offset %d", p.pos)
		case op == '/' && r.konst == 0:
			return v, fmt.Errorf("division by zero at offset %d", p.pos)
		case op == '/':
			v = v.scale(1 / r.konst)
		case v.isConst():
			v = r.scale(v.konst)
		case r.isConst():
			v = v.scale(r.konst)
		default:
			return v, fmt.Errorf("product of two group means at offset %d is not linear", p.pos)
		}
	}
}

func (p *contrastParser) unary() (linear, error) {
	switch p.peek() {
	case '-':
		p.pos++
		v, err := p.unary()
		return v.scale(-1), err
	case '+':
		p.pos++
		return p.unary()
	}
	return p.primary()
}

func (p *contrastParser) primary() (linear, error) {
	zero := linear{coef: make([]float64, p.n)}
	c := p.peek()
	switch {
	case c == 0:
		return zero, fmt.Errorf("unexpected end of expression %q", p.src)
	case c == '(':
		p.pos++
		v, err := p.expr()
		if err != nil {
			return v, err
		}
		if p.peek() != ')' {
			return v, fmt.Errorf("missing ')' at offset %d", p.pos)
		}
		p.pos++
		return v, nil
	case c == '`':
		end := strings.IndexByte(p.src[p.pos+1:], '`')
		if end < 0 {
			return zero, fmt.Errorf("unterminated quoted name at offset %d", p.pos)
		}
		name := p.src[p.pos+1 : p.pos+1+end]
		p.pos += end + 2
		return p.level(name, zero)
	}
	start := p.pos
	for p.pos < len(p.src) && isNameByte(p.src[p.pos]) {
		p.pos++
	}
	word := p.src[start:p.pos]
	if word == "" {
		return zero, fmt.Errorf("unexpected %q at offset %d", p.src[start:], start)
	}
	if _, ok := p.levels[word]; !ok {
		if f, err := strconv.ParseFloat(word, 64); err == nil {
			zero.konst = f
			return zero, nil
		}
	}
	return p.level(word, zero)
}

func (p *contrastParser) level(name string, zero linear) (linear, error) {
	k, ok := p.levels[name]
	if !ok {
		names := make([]string, 0, len(p.levels))
		for lvl := range p.levels {
			names = append(names, lvl)
		}
		sort.Strings(names)
		return zero, fmt.Errorf("unknown level %q (design levels: %s)", name, strings.Join(names, ", "))
	}
	zero.coef[k] = 1
	return zero, nil
}

func isNameByte(c byte) bool {
	return c == '_' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
