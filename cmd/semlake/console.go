package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/shlex"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/liliang-cn/semlake/pkg/core"
	"github.com/liliang-cn/semlake/pkg/lake"
)

const consolePrompt = "dl> "

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive console",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := prometheus.NewRegistry()
		l, err := openLake(cmd, reg)
		if err != nil {
			return err
		}
		defer func() { _ = l.Close() }()

		if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
			srv := &http.Server{
				Addr:              addr,
				Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					fmt.Fprintf(os.Stderr, "metrics endpoint: %v\n", err)
				}
			}()
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()
		}

		c := newConsole(l, os.Stdin, os.Stdout)
		return c.run(cmd.Context())
	},
}

// session is the console state: the selected source and domain
type session struct {
	source core.Selector
	domain string
}

type console struct {
	lake    *lake.Lake
	in      *bufio.Scanner
	out     io.Writer
	session session
}

func newConsole(l *lake.Lake, in io.Reader, out io.Writer) *console {
	return &console{lake: l, in: bufio.NewScanner(in), out: out}
}

func (c *console) prompt() string {
	var b strings.Builder
	if !c.session.source.IsZero() {
		b.WriteString(c.session.source.String())
		if c.session.domain != "" {
			b.WriteString("/" + c.session.domain)
		}
		b.WriteString(" ")
	}
	b.WriteString(consolePrompt)
	return b.String()
}

func (c *console) run(ctx context.Context) error {
	fmt.Fprintln(c.out, "semlake console, type help for commands")
	for {
		fmt.Fprint(c.out, c.prompt())
		if !c.in.Scan() {
			fmt.Fprintln(c.out)
			return c.in.Err()
		}
		quit, err := c.execute(ctx, c.in.Text())
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
		if quit || ctx.Err() != nil {
			return nil
		}
	}
}

// selected returns the argument as a selector, or the session source
func (c *console) selected(args []string) core.Selector {
	if len(args) > 0 {
		return core.ParseSelector(args[0])
	}
	return c.session.source
}

func (c *console) confirm(question string) bool {
	fmt.Fprintf(c.out, "%s [y/N] ", question)
	if !c.in.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(c.in.Text()))
	return answer == "y" || answer == "yes"
}

// execute runs one console line; quit reports an exit request
func (c *console) execute(ctx context.Context, line string) (quit bool, err error) {
	args, err := shlex.Split(line)
	if err != nil {
		return false, err
	}
	if len(args) == 0 {
		return false, nil
	}
	name, args := strings.ToLower(args[0]), args[1:]

	switch name {
	case "exit", "quit", "q":
		return true, nil

	case "help", "?":
		c.help()

	case "mount":
		if len(args) == 0 {
			return false, fmt.Errorf("usage: mount <path>")
		}
		for _, p := range args {
			res, err := c.lake.Mount(ctx, p)
			if err != nil {
				return false, err
			}
			printMount(c.out, res)
		}

	case "unmount":
		sel := c.selected(args)
		status, err := c.lake.Unmount(ctx, sel)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(c.out, status)
		if status == lake.Unmounted && sel == c.session.source {
			c.session = session{}
		}

	case "sync":
		res, err := c.lake.Sync(ctx, c.selected(args))
		if err != nil {
			return false, err
		}
		printMount(c.out, res)

	case "use":
		if len(args) == 0 {
			c.session = session{}
			return false, nil
		}
		sel := core.ParseSelector(args[0])
		src, err := c.lake.Catalog().Resolve(sel)
		if err != nil {
			return false, err
		}
		c.session = session{source: core.ByKey(src.ID)}

	case "focus":
		if c.session.source.IsZero() {
			return false, core.InvalidStatef("no source selected")
		}
		if len(args) == 0 {
			c.session.domain = ""
			return false, nil
		}
		d, err := c.lake.Describe(c.session.source)
		if err != nil {
			return false, err
		}
		for _, dom := range d.Domains {
			if dom.Name == args[0] || dom.Key == args[0] {
				c.session.domain = dom.Name
				return false, nil
			}
		}
		return false, core.NotFoundf("domain %q not found in %s", args[0], d.ID)

	case "sources", "ls":
		printSources(c.out, c.lake.ListSources())

	case "describe":
		d, err := c.lake.Describe(c.selected(args))
		if err != nil {
			return false, err
		}
		printDescription(c.out, d)

	case "profile":
		return false, c.profile(args)

	case "clean", "clear":
		if len(args) > 0 && args[0] == "all" {
			if !c.confirm("Remove every source from the catalog?") {
				return false, nil
			}
			n, err := c.lake.Clear(ctx, true, core.Selector{})
			if err != nil {
				return false, err
			}
			c.session = session{}
			fmt.Fprintf(c.out, "%d source(s) cleared\n", n)
			return false, nil
		}
		n, err := c.lake.Clear(ctx, false, c.selected(args))
		if err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "%d source(s) cleared\n", n)

	case "join":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: join <source> <source>")
		}
		est, err := c.lake.Joinability(ctx, core.ParseSelector(args[0]), core.ParseSelector(args[1]))
		if err != nil {
			return false, err
		}
		printEstimate(c.out, args[0], args[1], est)

	case "stats":
		printStats(c.out, c.lake.Stats())

	default:
		return false, fmt.Errorf("unknown command %q, type help", name)
	}
	return false, nil
}

// profile handles "profile [up|all|vector] [domain]"
func (c *console) profile(args []string) error {
	mode := lake.Exact
	all, vector := false, false
	var rest []string
	for _, a := range args {
		switch a {
		case "up":
			mode = lake.RolledUp
		case "all":
			all = true
		case "vector":
			vector = true
		default:
			rest = append(rest, a)
		}
	}

	if all {
		profiles, err := c.lake.ProfileAll(c.session.source, mode)
		if err != nil {
			return err
		}
		for domain, p := range profiles {
			printProfile(c.out, domain, p)
		}
		return nil
	}

	domain := c.session.domain
	if len(rest) > 0 {
		domain = rest[0]
	}
	if vector {
		members, vec, err := c.lake.ProfileVector(c.session.source, domain)
		if err != nil {
			return err
		}
		printVector(c.out, members, vec)
		return nil
	}
	p, err := c.lake.Profile(c.session.source, domain, mode)
	if err != nil {
		return err
	}
	printProfile(c.out, "", p)
	return nil
}

func (c *console) help() {
	fmt.Fprint(c.out, `Commands:
  mount <path>...             mount CSV files
  unmount [source]            unmount a source (default: the selected one)
  sync [source]               remount a source from its location
  use [source]                select a source by position or ID
  focus [domain]              select a domain of the selected source
  sources                     list mounted sources
  describe [source]           show domains, mapping and completeness
  profile [up|all|vector] [domain]
                              show the profile of a domain
  clean [source|all]          remove a source, or every source
  join <source> <source>      estimate joinability
  stats                       show statistics
  exit                        leave the console
`)
}
