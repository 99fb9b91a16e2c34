// Package dependency classifies the storage data dependencies between the public functions of a contract.
package dependency

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// Class is a set of dependency classes holding between an ordered pair of functions. Several classes may hold at once.
type Class uint8

const (
	// RAW indicates the second function reads a slot the first writes.
	RAW Class = 1 << iota
	// WAW indicates both functions write a common slot.
	WAW
	// WAR indicates the first function reads a slot the second writes.
	WAR
	// RAR indicates both functions read a common slot that neither writes.
	RAR
)

// None is the empty class set.
const None Class = 0

// Scheduling is the set of classes under which a follow-up transaction can affect a storage mutation finding.
const Scheduling = RAW | WAW | WAR

// Has indicates whether any class of other is present in c.
func (c Class) Has(other Class) bool {
	return c&other != 0
}

// String returns the classes joined by "|", or "none".
func (c Class) String() string {
	if c == None {
		return "none"
	}
	names := make([]string, 0, 4)
	for _, entry := range []struct {
		class Class
		name  string
	}{{RAW, "RAW"}, {WAW, "WAW"}, {WAR, "WAR"}, {RAR, "RAR"}} {
		if c.Has(entry.class) {
			names = append(names, entry.name)
		}
	}
	return strings.Join(names, "|")
}

// Pair is the classification of one ordered pair of functions.
type Pair struct {
	First  string
	Second string
	Class  Class
}

// Record is the dependency classification of every ordered pair of functions of a contract. It is immutable once
// built and safe for concurrent use.
type Record struct {
	functions []string
	classes   map[string]map[string]Class
}

// Analyze classifies every ordered pair (A, B) of the functions named in reads or writes, including pairs of a
// function with itself. The result depends only on the provided sets.
func Analyze(reads map[string][]string, writes map[string][]string) *Record {
	readSets := toSets(reads)
	writeSets := toSets(writes)

	functions := make([]string, 0, len(readSets)+len(writeSets))
	for f := range readSets {
		functions = append(functions, f)
	}
	for f := range writeSets {
		if _, ok := readSets[f]; !ok {
			functions = append(functions, f)
		}
	}
	slices.Sort(functions)

	r := &Record{
		functions: functions,
		classes:   make(map[string]map[string]Class, len(functions)),
	}
	for _, a := range functions {
		r.classes[a] = make(map[string]Class, len(functions))
		for _, b := range functions {
			r.classes[a][b] = classify(readSets[a], writeSets[a], readSets[b], writeSets[b])
		}
	}
	return r
}

// classify computes the classes holding for the pair (A, B) from their read and write sets.
func classify(readsA, writesA, readsB, writesB map[string]struct{}) Class {
	class := None
	if intersects(writesA, readsB) {
		class |= RAW
	}
	if intersects(writesA, writesB) {
		class |= WAW
	}
	if intersects(readsA, writesB) {
		class |= WAR
	}
	for slot := range readsA {
		if _, ok := readsB[slot]; !ok {
			continue
		}
		_, writtenA := writesA[slot]
		_, writtenB := writesB[slot]
		if !writtenA && !writtenB {
			class |= RAR
			break
		}
	}
	return class
}

// toSets converts slot lists to sets.
func toSets(lists map[string][]string) map[string]map[string]struct{} {
	sets := make(map[string]map[string]struct{}, len(lists))
	for f, slots := range lists {
		set := make(map[string]struct{}, len(slots))
		for _, slot := range slots {
			set[slot] = struct{}{}
		}
		sets[f] = set
	}
	return sets
}

// intersects indicates whether two sets share an element.
func intersects(a, b map[string]struct{}) bool {
	if len(b) < len(a) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

// Functions returns the classified functions, sorted.
func (r *Record) Functions() []string {
	return slices.Clone(r.functions)
}

// Class returns the classes holding for the ordered pair (a, b). Unknown functions have no dependencies.
func (r *Record) Class(a string, b string) Class {
	return r.classes[a][b]
}

// Permutations returns the functions B, sorted, such that (f, B) holds a scheduling class: the functions worth
// calling immediately after f.
func (r *Record) Permutations(f string) []string {
	result := make([]string, 0)
	for _, b := range r.functions {
		if r.Class(f, b).Has(Scheduling) {
			result = append(result, b)
		}
	}
	return result
}

// Dependents returns the functions B, sorted, such that (B, f) holds a scheduling class.
func (r *Record) Dependents(f string) []string {
	result := make([]string, 0)
	for _, b := range r.functions {
		if r.Class(b, f).Has(Scheduling) {
			result = append(result, b)
		}
	}
	return result
}

// Related returns the functions B, sorted, such that (B, f) holds any class, read-after-read included.
func (r *Record) Related(f string) []string {
	result := make([]string, 0)
	for _, b := range r.functions {
		if r.Class(b, f) != None {
			result = append(result, b)
		}
	}
	return result
}

// Pairs returns every ordered pair with at least one class, sorted by first then second function.
func (r *Record) Pairs() []Pair {
	pairs := make([]Pair, 0)
	for _, a := range r.functions {
		for _, b := range r.functions {
			if class := r.Class(a, b); class != None {
				pairs = append(pairs, Pair{First: a, Second: b, Class: class})
			}
		}
	}
	return pairs
}

// String returns one line per dependent pair.
func (r *Record) String() string {
	var sb strings.Builder
	for _, p := range r.Pairs() {
		sb.WriteString(fmt.Sprintf("%v -> %v: %v\n", p.First, p.Second, p.Class))
	}
	return sb.String()
}
