// internal/browser/options.go
package browser

import (
	"sort"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/walkthrough/internal/config"
)

const (
	defaultWindowWidth  = 1920
	defaultWindowHeight = 1080
)

// launchFlags translates the browser config into Chrome command line flags,
// keyed without the leading dashes.
func launchFlags(cfg config.BrowserConfig) map[string]interface{} {
	flags := map[string]interface{}{
		// Needed on hardened hosts and in containers.
		"no-sandbox":            true,
		"disable-dev-shm-usage": true,
		"headless":              cfg.Headless,
	}
	if cfg.DisableGPU {
		flags["disable-gpu"] = true
	}
	if cfg.IgnoreTLSErrors {
		flags["ignore-certificate-errors"] = true
		flags["allow-insecure-localhost"] = true
	}

	for _, arg := range cfg.Args {
		key, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if key == "" {
			continue
		}
		if !hasValue {
			flags[key] = true
			continue
		}
		flags[key] = value
	}
	return flags
}

// windowSize returns the configured viewport, falling back to 1920x1080.
func windowSize(cfg config.BrowserConfig) (int, int) {
	w, h := cfg.Viewport["width"], cfg.Viewport["height"]
	if w <= 0 {
		w = defaultWindowWidth
	}
	if h <= 0 {
		h = defaultWindowHeight
	}
	return w, h
}

// DefaultAllocatorOptions builds the exec allocator options for a local browser.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	flags := launchFlags(cfg)
	keys := make([]string, 0, len(flags))
	for k := range flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		opts = append(opts, chromedp.Flag(k, flags[k]))
	}

	w, h := windowSize(cfg)
	opts = append(opts, chromedp.WindowSize(w, h))
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}
