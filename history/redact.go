package history

import (
	"bytes"
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// safeVars are environment variables that carry no secrets and are worth keeping.
var safeVars = map[string]bool{
	"HOME": true, "USER": true, "PWD": true, "OLDPWD": true,
	"SHELL": true, "PATH": true, "LANG": true, "TERM": true,
	"EDITOR": true, "PAGER": true, "HOSTNAME": true, "LOGNAME": true,
	"TMPDIR": true, "XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true,
	"XDG_RUNTIME_DIR": true, "COLUMNS": true, "LINES": true,
	"LC_ALL": true, "LC_CTYPE": true, "SHLVL": true,
}

// specialParams are shell special parameters, never redacted.
var specialParams = map[string]bool{
	"?": true, "!": true, "#": true, "@": true, "*": true,
	"-": true, "$": true, "_": true,
	"0": true, "1": true, "2": true, "3": true, "4": true,
	"5": true, "6": true, "7": true, "8": true, "9": true,
}

// secretFlags are options whose value is a credential.
var secretFlags = map[string]bool{
	"--password": true, "--passwd": true, "--token": true,
	"--api-key": true, "--apikey": true, "--secret": true,
	"--client-secret": true, "--access-key": true,
}

const redacted = "***"

// RedactCommand hides values that may hold secrets before a command is
// persisted: non-safe variable expansions, assignment values, and the values
// of credential flags (--token x, --token=x). Commands that do not parse go
// through a regex fallback.
func RedactCommand(cmd string) string {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash), syntax.KeepComments(true))
	prog, err := parser.Parse(strings.NewReader(cmd), "")
	if err != nil {
		return regexRedact(cmd)
	}

	syntax.Walk(prog, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.ParamExp:
			if n.Param != nil && !safeVars[n.Param.Value] && !specialParams[n.Param.Value] {
				n.Param.Value = "REDACTED"
			}
		case *syntax.Assign:
			if n.Name != nil && !safeVars[n.Name.Value] && n.Value != nil {
				n.Value.Parts = []syntax.WordPart{&syntax.Lit{Value: redacted}}
			}
		case *syntax.CallExpr:
			redactFlagArgs(n.Args)
		}
		return true
	})

	var buf bytes.Buffer
	printer := syntax.NewPrinter(syntax.Indent(0))
	if err := printer.Print(&buf, prog); err != nil {
		return regexRedact(cmd)
	}
	return strings.TrimRight(buf.String(), "\n")
}

// redactFlagArgs replaces credential flag values in a call's arguments.
func redactFlagArgs(args []*syntax.Word) {
	for i, w := range args {
		lit := w.Lit()
		if lit == "" {
			continue
		}
		if name, _, ok := strings.Cut(lit, "="); ok && secretFlags[name] {
			w.Parts = []syntax.WordPart{&syntax.Lit{Value: name + "=" + redacted}}
			continue
		}
		if secretFlags[lit] && i+1 < len(args) {
			args[i+1].Parts = []syntax.WordPart{&syntax.Lit{Value: redacted}}
		}
	}
}

// RedactCommands applies RedactCommand to each element.
func RedactCommands(cmds []string) []string {
	out := make([]string, len(cmds))
	for i, cmd := range cmds {
		out[i] = RedactCommand(cmd)
	}
	return out
}

var (
	reBraceVar  = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	reSimpleVar = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
	reAssign    = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)=(\S+)`)
	reFlagEq    = regexp.MustCompile(`(--[A-Za-z-]+)=(\S+)`)
)

// regexRedact handles commands the parser rejects (e.g. half-typed quotes).
func regexRedact(cmd string) string {
	cmd = reFlagEq.ReplaceAllStringFunc(cmd, func(m string) string {
		name := reFlagEq.FindStringSubmatch(m)[1]
		if secretFlags[name] {
			return name + "=" + redacted
		}
		return m
	})

	cmd = reBraceVar.ReplaceAllStringFunc(cmd, func(m string) string {
		name := reBraceVar.FindStringSubmatch(m)[1]
		if safeVars[name] || specialParams[name] {
			return m
		}
		return "${REDACTED}"
	})

	cmd = reSimpleVar.ReplaceAllStringFunc(cmd, func(m string) string {
		name := reSimpleVar.FindStringSubmatch(m)[1]
		if name == "REDACTED" || safeVars[name] || specialParams[name] {
			return m
		}
		return "$REDACTED"
	})

	cmd = reAssign.ReplaceAllStringFunc(cmd, func(m string) string {
		name := reAssign.FindStringSubmatch(m)[1]
		if safeVars[name] {
			return m
		}
		return name + "=" + redacted
	})

	return cmd
}
