package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"intervox/session"
)

type setupField struct {
	name   string
	prompt string
	get    func(*session.ProjectConfig) string
	set    func(*session.ProjectConfig, string)
}

var setupFields = []setupField{
	{
		name:   "project_name",
		prompt: "Project name",
		get:    func(p *session.ProjectConfig) string { return p.ProjectName },
		set:    func(p *session.ProjectConfig, v string) { p.ProjectName = v },
	},
	{
		name:   "goal",
		prompt: "Goal (discovery, improvement, diagnostic)",
		get:    func(p *session.ProjectConfig) string { return p.Goal },
		set:    func(p *session.ProjectConfig, v string) { p.Goal = v },
	},
	{
		name:   "target_audience",
		prompt: "Who are you interviewing",
		get:    func(p *session.ProjectConfig) string { return p.TargetAudience },
		set:    func(p *session.ProjectConfig, v string) { p.TargetAudience = v },
	},
	{
		name:   "current_solution",
		prompt: "What do they use today",
		get:    func(p *session.ProjectConfig) string { return p.CurrentSolution },
		set:    func(p *session.ProjectConfig, v string) { p.CurrentSolution = v },
	},
	{
		name:   "problem_area",
		prompt: "Which problem area",
		get:    func(p *session.ProjectConfig) string { return p.ProblemArea },
		set:    func(p *session.ProjectConfig, v string) { p.ProblemArea = v },
	},
	{
		name:   "mode",
		prompt: "Mode (voice, direct, chat)",
		get:    func(p *session.ProjectConfig) string { return string(p.Mode) },
		set:    func(p *session.ProjectConfig, v string) { p.Mode = session.Mode(strings.ToLower(v)) },
	},
}

// promptProject asks for whatever the project block is missing, one field at
// a time, until it validates. A complete block is returned without reading.
func promptProject(in *bufio.Reader, out io.Writer, p session.ProjectConfig) (session.ProjectConfig, error) {
	for {
		err := p.Validate()
		var verr *session.ValidationError
		if !errors.As(err, &verr) {
			return p, err
		}
		for _, f := range setupFields {
			if !verr.Has(f.name) {
				continue
			}
			if cur := f.get(&p); cur != "" {
				fmt.Fprintf(out, "  %q: %s\n", cur, problemFor(verr, f.name))
			}
			fmt.Fprintf(out, "%s: ", f.prompt)
			line, err := in.ReadString('\n')
			if err != nil && line == "" {
				return p, fmt.Errorf("reading %s: %w", f.name, err)
			}
			f.set(&p, strings.TrimSpace(line))
			break
		}
	}
}

func problemFor(verr *session.ValidationError, field string) string {
	for _, p := range verr.Problems {
		if p.Field == field {
			return p.Message
		}
	}
	return ""
}

// confirm reads a yes/no answer; anything but n/no counts as yes.
func confirm(in *bufio.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	answer, err := in.ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer != "n" && answer != "no"
}
