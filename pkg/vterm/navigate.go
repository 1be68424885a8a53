package vterm

import (
	"context"
	"os"
)

func (t *Terminal) pwd(_ context.Context, _ []string, _ *string) result {
	return ok(t.cwd + "\n")
}

func (t *Terminal) cd(_ context.Context, args []string, _ *string) result {
	if len(args) > 1 {
		return failf(1, "bash: cd: too many arguments\n")
	}

	target, printDir := t.home, false
	if len(args) == 1 {
		switch args[0] {
		case "-":
			target, printDir = t.oldPwd, true
		default:
			target = t.resolve(args[0])
		}
	}

	real, err := t.realize(target)
	if err != nil {
		return failf(1, "bash: cd: %s: %s\n", args[0], errText(err))
	}
	info, err := os.Stat(real)
	if err != nil {
		name := target
		if len(args) == 1 {
			name = args[0]
		}
		return failf(1, "bash: cd: %s: %s\n", name, errText(err))
	}
	if !info.IsDir() {
		return failf(1, "bash: cd: %s: Not a directory\n", args[0])
	}

	t.oldPwd, t.cwd = t.cwd, target
	t.env["OLDPWD"] = t.oldPwd
	t.env["PWD"] = t.cwd
	if printDir {
		return ok(t.cwd + "\n")
	}
	return result{}
}
