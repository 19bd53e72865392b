package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/liliang-cn/semlake/pkg/joiner"
	"github.com/liliang-cn/semlake/pkg/kg"
	"github.com/liliang-cn/semlake/pkg/lake"
	"github.com/liliang-cn/semlake/pkg/mapper"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoFormatHeaders(false)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	return t
}

func percent(f float64) string {
	return strconv.FormatFloat(100*f, 'f', 1, 64) + "%"
}

func printMount(w io.Writer, res *lake.MountResult) {
	switch res.Status {
	case lake.FileNotFound:
		fmt.Fprintf(w, "File not found: %s\n", res.Location)
		return
	case lake.AlreadyMounted:
		fmt.Fprintf(w, "%s is already mounted as %s\n", res.Location, res.Source)
		return
	}
	fmt.Fprintf(w, "Mounted %s as %s\n", res.Location, res.Source)

	t := newTable(w, "Column", "Distinct", "Level", "Containment")
	for _, c := range res.Columns {
		level, cont := "-", "-"
		if c.Mapped() {
			level, cont = c.Level, strconv.FormatFloat(c.Containment, 'f', 3, 64)
		}
		t.Append([]string{c.Column, humanize.Comma(int64(c.Distinct)), level, cont})
	}
	t.Render()
}

func printSources(w io.Writer, sources []lake.SourceInfo) {
	if len(sources) == 0 {
		fmt.Fprintln(w, "No sources mounted")
		return
	}
	t := newTable(w, "#", "Source", "Location", "Items")
	for i, s := range sources {
		t.Append([]string{strconv.Itoa(i), s.ID, s.Location, humanize.Comma(int64(s.Items))})
	}
	t.Render()
}

func printDescription(w io.Writer, d *lake.Description) {
	fmt.Fprintf(w, "Source:   %s\n", d.ID)
	fmt.Fprintf(w, "Location: %s\n", d.Location)
	fmt.Fprintf(w, "Loaded:   %s (%s)\n", d.Date.Format("2006-01-02 15:04:05"), humanize.Time(d.Date))
	fmt.Fprintf(w, "Items:    %s\n", humanize.Comma(int64(d.Items)))
	fmt.Fprintf(w, "Domains:  %d\n", len(d.Domains))

	t := newTable(w, "Domain", "Key", "Level", "Completeness")
	for _, dom := range d.Domains {
		level, comp := "-", "-"
		if dom.Mapped {
			level, comp = dom.Level, percent(dom.Completeness)
		}
		t.Append([]string{dom.Name, dom.Key, level, comp})
	}
	t.Render()
}

func printProfile(w io.Writer, title string, profile map[string]int) {
	if title != "" {
		fmt.Fprintln(w, title)
	}
	members := make([]string, 0, len(profile))
	total := 0
	for m, n := range profile {
		members = append(members, m)
		total += n
	}
	sort.Strings(members)

	t := newTable(w, "Member", "Frequency")
	for _, m := range members {
		t.Append([]string{m, humanize.Comma(int64(profile[m]))})
	}
	t.SetFooter([]string{"total", humanize.Comma(int64(total))})
	t.Render()
}

func printVector(w io.Writer, members []string, vec []float64) {
	t := newTable(w, "Member", "Frequency")
	for i, m := range members {
		t.Append([]string{m, strconv.FormatFloat(vec[i], 'f', -1, 64)})
	}
	t.Render()
}

func printEstimate(w io.Writer, a, b string, est *joiner.Estimate) {
	t := newTable(w, "Step", "Threshold", "Matched")
	for i, p := range est.Steps {
		t.Append([]string{strconv.Itoa(i + 1), strconv.FormatFloat(p.Threshold, 'f', 5, 64), strconv.FormatBool(p.Matched)})
	}
	t.Render()
	if !est.Found {
		fmt.Fprintf(w, "%s and %s are not joinable\n", a, b)
		return
	}
	fmt.Fprintf(w, "Joinability of %s into %s: %s, about %s rows\n",
		b, a, percent(est.Index), humanize.Comma(int64(est.RowIntersection)))
}

func printLevels(w io.Writer, m *kg.Model, levels []kg.Level) {
	t := newTable(w, "Level", "Dimension", "Rollup", "Members")
	for _, l := range levels {
		rollup := l.Rollup
		if rollup == "" {
			rollup = "-"
		}
		t.Append([]string{l.ID, l.Dimension, rollup, humanize.Comma(int64(m.MemberCount(l.ID)))})
	}
	t.Render()
}

func printStats(w io.Writer, st lake.Stats) {
	fmt.Fprintf(w, "Sources:    %s\n", humanize.Comma(int64(st.Sources)))
	fmt.Fprintf(w, "Dimensions: %s\n", humanize.Comma(int64(st.Reference.Dimensions)))
	fmt.Fprintf(w, "Levels:     %s\n", humanize.Comma(int64(st.Reference.Levels)))
	fmt.Fprintf(w, "Members:    %s\n", humanize.Comma(int64(st.Reference.Members)))
	if st.Index == nil {
		fmt.Fprintln(w, "Index:      not built")
		return
	}
	fmt.Fprintf(w, "Index:      %v entries, %v buckets\n", st.Index["num_entries"], st.Index["total_buckets"])

	t := newTable(w, "Partition", "Sizes", "Levels")
	for i, p := range st.Partitions {
		t.Append([]string{strconv.Itoa(i), fmt.Sprintf("%d-%d", p.Lower, p.Upper), strconv.Itoa(p.Count)})
	}
	t.Render()
}

func printEvaluation(w io.Writer, ev *mapper.Evaluation) {
	fmt.Fprintf(w, "Columns:         %d\n", ev.Columns)
	fmt.Fprintf(w, "Level columns:   %d\n", ev.Expected)
	fmt.Fprintf(w, "Correct:         %d\n", ev.Correct)
	fmt.Fprintf(w, "Wrong level:     %d\n", ev.Wrong)
	fmt.Fprintf(w, "False positives: %d\n", ev.FalsePositives)
	fmt.Fprintf(w, "Effectiveness:   %s\n", percent(ev.Effectiveness))

	t := newTable(w, "Phase", "Mean (ms)", "StdDev (ms)", "Median (ms)", "Total (s)")
	for _, p := range []struct {
		name string
		t    mapper.Timing
	}{{"hash", ev.Hash}, {"query", ev.Query}, {"profile", ev.Profile}} {
		t.Append([]string{
			p.name,
			strconv.FormatFloat(p.t.Mean*1e3, 'f', 3, 64),
			strconv.FormatFloat(p.t.StdDev*1e3, 'f', 3, 64),
			strconv.FormatFloat(p.t.Median*1e3, 'f', 3, 64),
			strconv.FormatFloat(p.t.Total, 'f', 3, 64),
		})
	}
	t.Render()
}
