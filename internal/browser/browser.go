// Package browser hands deep links and web URLs to the desktop, so a login started from
// a terminal can continue in the Alien app or its web fallback.
package browser

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"

	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

// linuxOpeners are tried in order when open-golang fails.
var linuxOpeners = []string{"xdg-open", "x-www-browser", "www-browser", "gio"}

// runOpen and startCommand are swapped in tests.
var (
	runOpen      = open.Run
	startCommand = func(cmd *exec.Cmd) error { return cmd.Start() }
)

// OpenURL asks the operating system to open rawURL. Custom schemes such as alienapp://
// go to whatever handler is registered for them.
func OpenURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return fmt.Errorf("browser: %q is not an absolute url", rawURL)
	}

	errOpen := runOpen(rawURL)
	if errOpen == nil {
		log.Debug("opened url with open-golang")
		return nil
	}
	log.Debugf("open-golang failed: %v, trying platform commands", errOpen)
	return openURLPlatformSpecific(rawURL)
}

func platformCommand(rawURL string) (*exec.Cmd, error) {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", rawURL), nil
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", rawURL), nil
	case "linux":
		for _, name := range linuxOpeners {
			if _, err := exec.LookPath(name); err != nil {
				continue
			}
			if name == "gio" {
				return exec.Command(name, "open", rawURL), nil
			}
			return exec.Command(name, rawURL), nil
		}
		return nil, fmt.Errorf("browser: no url opener found")
	default:
		return nil, fmt.Errorf("browser: unsupported operating system: %s", runtime.GOOS)
	}
}

func openURLPlatformSpecific(rawURL string) error {
	cmd, err := platformCommand(rawURL)
	if err != nil {
		return err
	}
	log.Debugf("running command: %s %v", cmd.Path, cmd.Args[1:])
	if err = startCommand(cmd); err != nil {
		return fmt.Errorf("browser: start %s: %w", cmd.Path, err)
	}
	return nil
}

// IsAvailable reports whether a platform opener exists.
func IsAvailable() bool {
	switch runtime.GOOS {
	case "darwin":
		_, err := exec.LookPath("open")
		return err == nil
	case "windows":
		_, err := exec.LookPath("rundll32")
		return err == nil
	case "linux":
		for _, name := range linuxOpeners {
			if _, err := exec.LookPath(name); err == nil {
				return true
			}
		}
	}
	return false
}
