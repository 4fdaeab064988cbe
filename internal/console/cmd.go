package console

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"text/tabwriter"

	"golang.org/x/term"
)

// CmdFn handles one console command; arg holds the pattern submatches.
type CmdFn func(c *Console, term *term.Terminal, arg []string) (res string, err error)

// Cmd is a console command.
type Cmd struct {
	Name    string
	Args    int
	Pattern *regexp.Regexp
	Syntax  string
	Help    string
	Fn      CmdFn
}

var cmds = make(map[string]*Cmd)

// Add registers a command. Commands without a Pattern match their Name.
func Add(cmd Cmd) {
	if cmd.Pattern == nil {
		cmd.Pattern = regexp.MustCompile(`^` + regexp.QuoteMeta(cmd.Name) + `$`)
	}
	cmds[cmd.Name] = &cmd
}

func sorted() []*Cmd {
	var list []*Cmd
	for _, cmd := range cmds {
		list = append(list, cmd)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Help returns the command summary.
func Help(term *term.Terminal) string {
	var help bytes.Buffer
	t := tabwriter.NewWriter(&help, 16, 8, 0, '\t', tabwriter.TabIndent)

	for _, cmd := range sorted() {
		_, _ = fmt.Fprintf(t, "%s\t%s\t # %s\n", cmd.Name, cmd.Syntax, cmd.Help)
	}
	_ = t.Flush()

	if term != nil {
		return string(term.Escape.Cyan) + help.String() + string(term.Escape.Reset)
	}
	return help.String()
}

// Handle runs the command matching line.
func (c *Console) Handle(term *term.Terminal, line string) (res string, err error) {
	if line == "" {
		return
	}

	for _, cmd := range sorted() {
		m := cmd.Pattern.FindStringSubmatch(line)
		if m == nil || len(m)-1 != cmd.Args {
			continue
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		return cmd.Fn(c, term, m[1:])
	}

	return "unknown command, type `help`", nil
}
