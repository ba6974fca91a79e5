package sink

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var turtlePrefixes = []struct{ prefix, ns string }{
	{"rdf", nsRDF},
	{"rdfs", nsRDFS},
	{"xsd", nsXSD},
	{"dcterms", nsDCTerms},
	{"oparl", nsOParl},
	{"geo", nsGeo},
}

var localName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// writeTurtle reads N-Triples and writes them as Turtle, grouping the
// statements of each subject. It returns the number of triples written.
func writeTurtle(w io.Writer, r io.Reader) (int, error) {
	var (
		order    []string
		bySubj   = map[string][]triple{}
		total    int
		lineNo   int
		scanner  = bufio.NewScanner(r)
	)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		t, err := parseNTriple(line)
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if _, ok := bySubj[t.s]; !ok {
			order = append(order, t.s)
		}
		bySubj[t.s] = append(bySubj[t.s], t)
		total++
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}

	bw := bufio.NewWriter(w)
	for _, p := range turtlePrefixes {
		fmt.Fprintf(bw, "@prefix %s: <%s> .\n", p.prefix, p.ns)
	}

	for _, subj := range order {
		bw.WriteString("\n")
		bw.WriteString(compactIRI(subj))
		for i, t := range bySubj[subj] {
			if i == 0 {
				bw.WriteString(" ")
			} else {
				bw.WriteString(" ;\n    ")
			}
			pred := compactIRI(t.p)
			if t.p == "<"+nsRDF+"type>" {
				pred = "a"
			}
			fmt.Fprintf(bw, "%s %s", pred, compactTerm(t.o))
		}
		bw.WriteString(" .\n")
	}
	return total, bw.Flush()
}

func parseNTriple(line string) (triple, error) {
	line = strings.TrimSuffix(strings.TrimSpace(line), ".")
	line = strings.TrimSpace(line)

	s, rest, ok := cutIRI(line)
	if !ok {
		return triple{}, fmt.Errorf("bad subject in %q", line)
	}
	p, rest, ok := cutIRI(strings.TrimSpace(rest))
	if !ok {
		return triple{}, fmt.Errorf("bad predicate in %q", line)
	}
	o := strings.TrimSpace(rest)
	if o == "" {
		return triple{}, fmt.Errorf("missing object in %q", line)
	}
	return triple{s: s, p: p, o: o}, nil
}

func cutIRI(s string) (string, string, bool) {
	if !strings.HasPrefix(s, "<") {
		return "", "", false
	}
	end := strings.IndexByte(s, '>')
	if end < 0 {
		return "", "", false
	}
	return s[:end+1], s[end+1:], true
}

// compactIRI rewrites <ns+local> as prefix:local where the local part is a
// plain name.
func compactIRI(term string) string {
	if !strings.HasPrefix(term, "<") || !strings.HasSuffix(term, ">") {
		return term
	}
	full := term[1 : len(term)-1]
	for _, p := range turtlePrefixes {
		if local, ok := strings.CutPrefix(full, p.ns); ok && localName.MatchString(local) {
			return p.prefix + ":" + local
		}
	}
	return term
}

// compactTerm compacts IRIs and literal datatypes.
func compactTerm(term string) string {
	if strings.HasPrefix(term, "<") {
		return compactIRI(term)
	}
	if i := strings.LastIndex(term, `"^^<`); i >= 0 && strings.HasSuffix(term, ">") {
		return term[:i+3] + compactIRI(term[i+3:])
	}
	return term
}
