package report

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var ErrMissingSection = errors.New("report missing required section")
var ErrStale = errors.New("no new report")

const (
	SectionServer = "Server Info"
	SectionInfo   = "Info"
	clientPrefix  = "Client Info "
)

var (
	titleRe  = regexp.MustCompile(`^= Report for (\S+) \(`)
	headerRe = regexp.MustCompile(`^\*\*\* (.*)$`)
	kvRe     = regexp.MustCompile(`^(\S+)\s+(.*)$`)
)

// Report is one parsed svinfo_report file: the title address plus every
// "*** Section" block as a flat key/value map.
type Report struct {
	Address  string
	Sections map[string]map[string]string
}

func Parse(r io.Reader) (*Report, error) {
	rep := &Report{Sections: map[string]map[string]string{}}
	header := ""

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		if rep.Address == "" {
			if m := titleRe.FindStringSubmatch(line); m != nil {
				rep.Address = m[1]
				continue
			}
		}
		if m := headerRe.FindStringSubmatch(line); m != nil {
			header = strings.TrimSpace(m[1])
			if _, ok := rep.Sections[header]; !ok {
				rep.Sections[header] = map[string]string{}
			}
			continue
		}
		if header == "" {
			continue
		}
		if m := kvRe.FindStringSubmatch(line); m != nil {
			rep.Sections[header][m[1]] = m[2]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan report: %w", err)
	}

	for _, s := range []string{SectionServer, SectionInfo} {
		if _, ok := rep.Sections[s]; !ok {
			return rep, fmt.Errorf("%w: %q", ErrMissingSection, s)
		}
	}
	return rep, nil
}

// Clients returns the "Client Info N" sections keyed by client number, in
// ascending order of N.
func (r *Report) Clients() []Client {
	var out []Client
	for name, kv := range r.Sections {
		if !strings.HasPrefix(name, clientPrefix) {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(name, clientPrefix)))
		if err != nil {
			continue
		}
		out = append(out, Client{ID: id, Fields: kv})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Report) Server() map[string]string { return r.Sections[SectionServer] }
func (r *Report) Info() map[string]string   { return r.Sections[SectionInfo] }

type Client struct {
	ID     int
	Fields map[string]string
}
