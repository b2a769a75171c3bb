// config_reload.go implements debounced configuration hot reload.
package watcher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/alien-org/alien-sso-go/internal/config"
	log "github.com/sirupsen/logrus"
)

func (w *Watcher) stopConfigReloadTimer() {
	w.configReloadMu.Lock()
	if w.configReloadTimer != nil {
		w.configReloadTimer.Stop()
		w.configReloadTimer = nil
	}
	w.configReloadMu.Unlock()
}

func (w *Watcher) scheduleConfigReload() {
	w.configReloadMu.Lock()
	defer w.configReloadMu.Unlock()
	if w.configReloadTimer != nil {
		w.configReloadTimer.Stop()
	}
	w.configReloadTimer = time.AfterFunc(w.debounce, func() {
		w.configReloadMu.Lock()
		w.configReloadTimer = nil
		w.configReloadMu.Unlock()
		w.reloadConfigIfChanged()
	})
}

func fileHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (w *Watcher) reloadConfigIfChanged() {
	data, err := os.ReadFile(w.configPath)
	if err != nil {
		log.Errorf("failed to read config file for hash check: %v", err)
		return
	}
	if len(data) == 0 {
		log.Debugf("ignoring empty config file write event")
		return
	}
	sum := sha256.Sum256(data)
	newHash := hex.EncodeToString(sum[:])

	w.mu.RLock()
	currentHash := w.lastConfigHash
	w.mu.RUnlock()
	if currentHash != "" && currentHash == newHash {
		log.Debugf("config file content unchanged (hash match), skipping reload")
		return
	}
	log.Infof("config file changed, reloading: %s", w.configPath)
	if w.reloadConfig() {
		w.mu.Lock()
		w.lastConfigHash = newHash
		w.mu.Unlock()
	}
}

func (w *Watcher) reloadConfig() bool {
	newConfig, errLoadConfig := w.load(w.configPath)
	if errLoadConfig != nil {
		log.Errorf("failed to reload config: %v", errLoadConfig)
		return false
	}

	w.mu.Lock()
	oldConfig := w.config
	w.config = newConfig
	w.mu.Unlock()

	if oldConfig != nil {
		details := changeDetails(oldConfig, newConfig)
		if len(details) == 0 {
			log.Debugf("no material config field changes detected")
		}
		for _, d := range details {
			log.Debugf("config change: %s", d)
		}
	}
	if w.reloadCallback != nil {
		w.reloadCallback(oldConfig, newConfig)
	}
	log.Info("config successfully reloaded")
	return true
}

// changeDetails lists the fields that differ between two configurations. Secrets are
// reported as changed without their values.
func changeDetails(old, updated *config.Config) []string {
	var out []string
	field := func(name, a, b string) {
		if a != b {
			out = append(out, fmt.Sprintf("%s: %q -> %q", name, a, b))
		}
	}
	secret := func(name, a, b string) {
		if a != b {
			out = append(out, name+": updated")
		}
	}
	field("sso-base-url", old.SSOBaseURL, updated.SSOBaseURL)
	field("server-base-url", old.ServerBaseURL, updated.ServerBaseURL)
	field("provider-address", old.ProviderAddress, updated.ProviderAddress)
	secret("provider-private-key", old.ProviderPrivateKey, updated.ProviderPrivateKey)
	field("client-id", old.ClientID, updated.ClientID)
	field("proxy-url", old.ProxyURL, updated.ProxyURL)
	field("listen", old.Listen, updated.Listen)
	field("polling-interval", old.PollingInterval.String(), updated.PollingInterval.String())
	field("debug", fmt.Sprint(old.Debug), fmt.Sprint(updated.Debug))
	field("store.backend", old.Store.Backend, updated.Store.Backend)
	return out
}
