package vterm

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aroudaki/app-builder-sub001/pkg/process"
)

func (t *Terminal) sortedEnv() []string {
	keys := make([]string, 0, len(t.env))
	for k := range t.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t *Terminal) envCmd(_ context.Context, _ []string, _ *string) result {
	var b strings.Builder
	for _, k := range t.sortedEnv() {
		b.WriteString(k + "=" + t.env[k] + "\n")
	}
	return ok(b.String())
}

func (t *Terminal) export(_ context.Context, args []string, _ *string) result {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-p") {
		var b strings.Builder
		for _, k := range t.sortedEnv() {
			fmt.Fprintf(&b, "declare -x %s=%q\n", k, t.env[k])
		}
		return ok(b.String())
	}

	var res result
	for _, a := range args {
		if name, value, ok := assignment(a); ok {
			t.setEnv(name, value)
			continue
		}
		if validName(a) {
			if _, exists := t.env[a]; !exists {
				t.setEnv(a, "")
			}
			continue
		}
		res.add(failf(1, "bash: export: `%s': not a valid identifier\n", a))
	}
	return res
}

func (t *Terminal) unset(_ context.Context, args []string, _ *string) result {
	var res result
	for _, a := range args {
		if !validName(a) {
			res.add(failf(1, "bash: unset: `%s': not a valid identifier\n", a))
			continue
		}
		delete(t.env, a)
	}
	return res
}

func (t *Terminal) historyCmd(_ context.Context, args []string, _ *string) result {
	if len(args) == 1 && args[0] == "-c" {
		t.history = nil
		return result{}
	}
	entries := t.history
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return failf(1, "bash: history: %s: numeric argument required\n", args[0])
		}
		if n < len(entries) {
			entries = entries[len(entries)-n:]
		}
	}
	offset := len(t.history) - len(entries)
	var b strings.Builder
	for i, cmd := range entries {
		fmt.Fprintf(&b, "%5d  %s\n", offset+i+1, cmd)
	}
	return ok(b.String())
}

func (t *Terminal) ps(_ context.Context, _ []string, _ *string) result {
	var b strings.Builder
	fmt.Fprintf(&b, "%7s  %-12s %-10s %8s  %s\n", "PID", "NAME", "STATUS", "UPTIME", "COMMAND")
	for _, h := range t.procs.List() {
		uptime := time.Since(h.StartedAt).Truncate(time.Second)
		fmt.Fprintf(&b, "%7d  %-12s %-10s %8s  %s\n", h.PID, h.Name, h.Status(), uptime, h.CommandLine())
	}
	return ok(b.String())
}

func (t *Terminal) kill(_ context.Context, args []string, _ *string) result {
	force := false
	var targets []string
	for _, a := range args {
		if !strings.HasPrefix(a, "-") || a == "-" {
			targets = append(targets, a)
			continue
		}
		switch strings.TrimPrefix(strings.ToUpper(a[1:]), "SIG") {
		case "9", "KILL":
			force = true
		case "15", "TERM", "2", "INT", "1", "HUP":
			force = false
		default:
			return failf(1, "bash: kill: %s: invalid signal specification\n", a[1:])
		}
	}
	if len(targets) == 0 {
		return failf(2, "kill: usage: kill [-9] name | pid ...\n")
	}

	var res result
	for _, target := range targets {
		err := t.procs.Kill(target, force)
		switch {
		case errors.Is(err, process.ErrNoProcess):
			res.add(failf(1, "bash: kill: (%s) - No such process\n", target))
		case err != nil:
			res.add(failf(1, "bash: kill: (%s) - %v\n", target, err))
		}
	}
	return res
}

func (t *Terminal) which(_ context.Context, args []string, _ *string) result {
	if len(args) == 0 {
		return result{code: 1}
	}
	var res result
	for _, name := range args {
		if _, ok := builtins[name]; ok {
			res.stdout += name + ": shell builtin\n"
			continue
		}
		if exe, ok := t.opts.Toolchain[name]; ok {
			if p, err := exec.LookPath(exe); err == nil {
				res.stdout += p + "\n"
			} else {
				res.stdout += name + ": external command\n"
			}
			continue
		}
		res.add(failf(1, "which: no %s in (%s)\n", name, t.env["PATH"]))
	}
	return res
}

func (t *Terminal) sleep(ctx context.Context, args []string, _ *string) result {
	if len(args) != 1 {
		return failf(1, "sleep: missing operand\n")
	}
	secs, err := strconv.ParseFloat(strings.TrimSuffix(args[0], "s"), 64)
	if err != nil || secs < 0 {
		return failf(1, "sleep: invalid time interval '%s'\n", args[0])
	}
	d := min(time.Duration(secs*float64(time.Second)), t.opts.CommandTimeout)
	select {
	case <-ctx.Done():
		return failf(130, "sleep: %v\n", ctx.Err())
	case <-time.After(d):
	}
	return result{}
}
