package analyzers

import (
	"fmt"
	"regexp"
)

var (
	autoDownloadRE = regexp.MustCompile(`(?i)(\.click\(\)\s*;?\s*//?\s*download|download\s*=\s*["'][^"']+["'][^>]*>\s*</a>\s*<script|createObjectURL\s*\([^)]*\)\s*;?[\s\S]{0,80}\.click\(\)|location\.href\s*=\s*["'][^"']+\.(exe|msi|apk|dmg|scr|bat))`)
	popupCallRE    = regexp.MustCompile(`(?i)(window\.open\s*\(|alert\s*\(|confirm\s*\(|prompt\s*\()`)
	clipboardRE    = regexp.MustCompile(`(?i)(navigator\.clipboard|document\.execCommand\s*\(\s*["']copy|clipboardData)`)
	historyRE      = regexp.MustCompile(`(?i)history\.(pushState|replaceState)\s*\(`)
	notificationRE = regexp.MustCompile(`(?i)Notification\.requestPermission`)
	listenerRE     = regexp.MustCompile(`(?i)addEventListener\s*\(\s*["'](beforeunload|contextmenu|copy|paste)["']`)
)

// Behavior scores hostile page scripting: forced downloads, popup floods,
// clipboard and history manipulation.
func Behavior() *Analyzer {
	return &Analyzer{
		ID:        "behavior",
		Name:      "Behavioral JavaScript",
		States:    onlineStates,
		NeedsBody: true,
		run:       runBehavior,
	}
}

func runBehavior(c *checker, ctx *Context) {
	scripts := scriptBodies(ctx.BodyText())

	if autoDownloadRE.MatchString(scripts) {
		c.flag("auto_download", SeverityHigh, "Automatic download trigger",
			"script initiates a file download without user action", 8, nil)
	} else {
		c.pass()
	}

	if n := len(popupCallRE.FindAllString(scripts, -1)); n >= 5 {
		c.flag("popup_flood", SeverityMedium, "Popup or alert flood",
			fmt.Sprintf("%d popup/alert calls", n), 5, map[string]any{"count": n})
	} else {
		c.pass()
	}

	if clipboardRE.MatchString(scripts) {
		c.flag("clipboard_access", SeverityLow, "Clipboard API usage",
			"script reads or writes the clipboard", 4, nil)
	} else {
		c.pass()
	}

	if n := len(historyRE.FindAllString(scripts, -1)); n >= 2 {
		c.flag("history_manipulation", SeverityMedium, "Browser history manipulation",
			fmt.Sprintf("%d pushState/replaceState calls", n), 5, map[string]any{"count": n})
	} else {
		c.pass()
	}

	if notificationRE.MatchString(scripts) {
		c.flag("notification_prompt", SeverityLow, "Notification permission request",
			"page requests push-notification permission", 3, nil)
	} else {
		c.pass()
	}

	if n := len(listenerRE.FindAllString(scripts, -1)); n >= 2 {
		c.flag("suspicious_listeners", SeverityMedium, "Suspicious event listeners",
			fmt.Sprintf("%d beforeunload/contextmenu/copy/paste hooks", n), 5, map[string]any{"count": n})
	} else {
		c.pass()
	}
}
