package browser

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/webpilot/internal/config"
)

// flag is one Chrome command line switch. A bool false value removes a switch
// that chromedp enables by default.
type flag struct {
	name  string
	value any
}

// edgeCandidates are the executable names tried when browser_type is edge.
var edgeCandidates = []string{
	"microsoft-edge",
	"microsoft-edge-stable",
	"msedge",
	"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
	`C:\Program Files (x86)\Microsoft\Edge\Application\msedge.exe`,
}

var lookPath = exec.LookPath

// launchFlags returns the hardened switch set for a locally launched browser.
func launchFlags(cfg config.BrowserConfig, userAgent string) []flag {
	flags := []flag{
		{"headless", cfg.Headless},
		{"no-sandbox", true},
		{"disable-dev-shm-usage", true},
		{"disable-blink-features", "AutomationControlled"},
		{"enable-automation", false},
		{"disable-infobars", true},
		{"no-first-run", true},
		{"no-default-browser-check", true},
	}
	if cfg.Headless {
		flags = append(flags, flag{"disable-gpu", true}, flag{"hide-scrollbars", true}, flag{"mute-audio", true})
	}
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		flags = append(flags, flag{"window-size", fmt.Sprintf("%d,%d", cfg.Viewport.Width, cfg.Viewport.Height)})
	}
	if userAgent != "" {
		flags = append(flags, flag{"user-agent", userAgent})
	}
	for _, arg := range cfg.Args {
		if f, ok := parseArg(arg); ok {
			flags = append(flags, f)
		}
	}
	return flags
}

// parseArg turns "--name=value" or "--name" into a flag.
func parseArg(arg string) (flag, bool) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	if arg == "" {
		return flag{}, false
	}
	if name, value, ok := strings.Cut(arg, "="); ok {
		return flag{name, value}, true
	}
	return flag{arg, true}, true
}

// resolveExecutable returns the browser binary to launch, or "" to let
// chromedp find Chrome on its own.
func resolveExecutable(cfg config.BrowserConfig) (string, error) {
	if cfg.ExecutablePath != "" {
		return config.ExpandPath(cfg.ExecutablePath), nil
	}
	if strings.EqualFold(cfg.BrowserType, "edge") {
		for _, candidate := range edgeCandidates {
			if path, err := lookPath(candidate); err == nil {
				return path, nil
			}
		}
		return "", fmt.Errorf("browser_type edge requested but no Edge executable was found; set browser.executable_path")
	}
	return "", nil
}

// execAllocatorOptions converts the flag set into chromedp options.
func execAllocatorOptions(flags []flag, execPath string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range flags {
		opts = append(opts, chromedp.Flag(f.name, f.value))
	}
	if execPath != "" {
		opts = append(opts, chromedp.ExecPath(execPath))
	}
	return opts
}
