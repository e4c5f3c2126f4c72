package tools

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/momhq/mom/internal/sandbox"
)

// defaultDenyPatterns block commands that are dangerous regardless of
// sandboxing — defense in depth alongside the container's own hardening
// (cap-drop ALL, read-only rootfs, no-new-privileges, pids limit).
// Sources: OWASP Agentic AI Top 10, MITRE ATT&CK, PayloadsAllTheThings.
var defaultDenyPatterns = []*regexp.Regexp{
	// Destructive file operations
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\brm\s+.*--recursive`),
	regexp.MustCompile(`\brm\s+.*--force`),
	regexp.MustCompile(`\b(mkfs|diskpart)\b|\bformat\s`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]\b`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`), // fork bomb

	// Data exfiltration
	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bcurl\b.*(-d\b|-F\b|--data|--upload|--form|-T\b|-X\s*P(UT|OST|ATCH))`),
	regexp.MustCompile(`\bwget\b.*-O\s*-\s*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bwget\b.*--post-(data|file)`),
	regexp.MustCompile(`/dev/tcp/`),

	// Reverse shells
	regexp.MustCompile(`\b(nc|ncat|netcat)\b.*-[el]\b`),
	regexp.MustCompile(`\bsocat\b`),
	regexp.MustCompile(`\bopenssl\b.*s_client`),
	regexp.MustCompile(`\bmkfifo\b`),

	// Privilege escalation
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bsu\s+-`),
	regexp.MustCompile(`\bnsenter\b`),
	regexp.MustCompile(`\bunshare\b`),
	regexp.MustCompile(`\b(mount|umount)\b`),

	// Environment variable injection / dumping
	regexp.MustCompile(`\bLD_PRELOAD\s*=`),
	regexp.MustCompile(`\bBASH_ENV\s*=`),
	regexp.MustCompile(`^\s*env\s*$`),
	regexp.MustCompile(`^\s*env\s*\|`),
	regexp.MustCompile(`\bprintenv\b`),
	regexp.MustCompile(`^\s*(set|export\s+-p|declare\s+-x)\s*($|\|)`),

	// Container escape
	regexp.MustCompile(`/var/run/docker\.sock|docker\.(sock|socket)`),
	regexp.MustCompile(`/proc/sys/(kernel|fs|net)/`),
	regexp.MustCompile(`/sys/(kernel|fs|class|devices)/`),

	// Process manipulation
	regexp.MustCompile(`\bkill\s+-9\s`),
	regexp.MustCompile(`\b(killall|pkill)\b`),
}

// BashTool runs a shell command through the run's sandbox.Executor (spec
// §4.3 "bash", §4.1 "Sandbox Executor").
type BashTool struct {
	workspace string
	timeout   time.Duration
}

func NewBashTool(workspace string) *BashTool {
	return &BashTool{workspace: workspace, timeout: 120 * time.Second}
}

func (t *BashTool) Name() string        { return "bash" }
func (t *BashTool) Description() string { return "Execute a shell command and return its output" }
func (t *BashTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The shell command to run",
			},
			"label": map[string]interface{}{
				"type":        "string",
				"description": "Short human-readable description shown while the command runs",
			},
		},
		"required": []string{"command"},
	}
}

func (t *BashTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)
	if command == "" {
		return ErrorResult("command is required")
	}

	for _, pattern := range defaultDenyPatterns {
		if pattern.MatchString(command) {
			return ErrorResult(fmt.Sprintf("command denied by safety policy: matches pattern %s", pattern.String()))
		}
	}

	ex := ToolExecutorFromCtx(ctx)
	if ex == nil {
		return ErrorResult("no sandbox executor available for this run")
	}

	workspace := ToolWorkspaceFromCtx(ctx)
	if workspace == "" {
		workspace = t.workspace
	}
	cwd := ex.WorkspacePath(workspace)

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	res, err := ex.Exec(runCtx, []string{"sh", "-c", command}, cwd, sandbox.Options{})
	if err != nil {
		if runCtx.Err() != nil {
			return ErrorResult(fmt.Sprintf("command timed out after %s", t.timeout))
		}
		return ErrorResult(err.Error())
	}

	output := res.Stdout
	if res.Stderr != "" {
		if output != "" {
			output += "\n"
		}
		output += "STDERR:\n" + res.Stderr
	}
	if res.Truncated {
		output += fmt.Sprintf("\n[output truncated to the most recent %d bytes]", sandbox.DefaultMaxOutputBytes)
	}
	if res.ExitCode != 0 {
		if output == "" {
			output = fmt.Sprintf("command exited with code %d", res.ExitCode)
		}
		return ErrorResult(output)
	}
	if output == "" {
		output = "(command completed with no output)"
	}

	return SilentResult(output)
}
