package topology

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"netscope/log"
)

const (
	ouiURL    = "https://standards-oui.ieee.org/oui/oui.txt"
	ouiMaxAge = 30 * 24 * time.Hour
)

// seedOUI is a small built-in fallback used when neither a fresh download
// nor a cache file is available (a sandboxed capture host, typically).
var seedOUI = map[string]string{
	"000C29": "VMware",
	"005056": "VMware",
	"001C42": "Parallels",
	"080027": "PCS Systemtechnik (VirtualBox)",
	"B827EB": "Raspberry Pi Foundation",
	"DCA632": "Raspberry Pi Trading",
	"3C5AB4": "Google",
	"F40F24": "Google",
	"001A11": "Google",
	"A4C138": "Cisco Systems",
	"0050F2": "Microsoft",
}

// OUIDatabase resolves a MAC OUI to a vendor name. It lazily loads an
// on-disk cache or the IEEE registry, falling back to a small built-in seed.
type OUIDatabase struct {
	mu        sync.RWMutex
	data      map[string]string
	cachePath string

	loadingMu sync.Mutex
	loading   bool
	loaded    bool
}

// NewOUIDatabase constructs a database backed by cacheDir/oui.txt. An empty
// cacheDir falls back to a temp path.
func NewOUIDatabase(cacheDir string) *OUIDatabase {
	cachePath := filepath.Join(os.TempDir(), "netscope_oui.txt")
	if cacheDir != "" {
		cachePath = filepath.Join(cacheDir, "oui.txt")
	}
	db := &OUIDatabase{
		data:      make(map[string]string),
		cachePath: cachePath,
	}
	for k, v := range seedOUI {
		db.data[k] = v
	}
	return db
}

// Lookup resolves a MAC address to a vendor name, triggering a background
// refresh on first real use.
func (db *OUIDatabase) Lookup(mac string) string {
	normalized := normalizeMAC(mac)
	if len(normalized) < 6 {
		return ""
	}

	db.loadingMu.Lock()
	needLoad := !db.loaded
	db.loadingMu.Unlock()
	if needLoad {
		go db.ensureLoaded()
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.data[normalized[:6]]
}

func (db *OUIDatabase) ensureLoaded() {
	db.loadingMu.Lock()
	if db.loading {
		db.loadingMu.Unlock()
		return
	}
	db.loading = true
	db.loadingMu.Unlock()
	defer func() {
		db.loadingMu.Lock()
		db.loading = false
		db.loaded = true
		db.loadingMu.Unlock()
	}()

	if info, err := os.Stat(db.cachePath); err == nil {
		if time.Since(info.ModTime()) < ouiMaxAge {
			if err := db.loadFromFile(); err == nil {
				log.Infof("topology: OUI database loaded from cache: %d entries", len(db.data))
				return
			}
		}
	}

	if err := db.download(); err != nil {
		log.Warnf("topology: OUI download failed: %v", err)
		if err := db.loadFromFile(); err == nil {
			log.Infof("topology: OUI database loaded from stale cache: %d entries", len(db.data))
		}
		return
	}

	if err := db.loadFromFile(); err != nil {
		log.Warnf("topology: OUI load failed: %v", err)
		return
	}
	log.Infof("topology: OUI database refreshed: %d entries", len(db.data))
}

func (db *OUIDatabase) download() error {
	client := &http.Client{Timeout: 60 * time.Second}
	req, err := http.NewRequest(http.MethodGet, ouiURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download status: %d", resp.StatusCode)
	}

	tmpPath := db.cachePath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		f.WriteString(scanner.Text() + "\n")
	}
	f.Close()
	if err := scanner.Err(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("read response: %w", err)
	}
	if err := os.Rename(tmpPath, db.cachePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (db *OUIDatabase) loadFromFile() error {
	f, err := os.Open(db.cachePath)
	if err != nil {
		return err
	}
	defer f.Close()

	newData := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "(hex)") {
			continue
		}
		parts := strings.SplitN(line, "(hex)", 2)
		if len(parts) != 2 {
			continue
		}
		oui := normalizeMAC(strings.TrimSpace(parts[0]))
		if len(oui) != 6 {
			continue
		}
		company := strings.TrimSpace(parts[1])
		if company != "" {
			newData[oui] = company
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	db.mu.Lock()
	db.data = newData
	db.mu.Unlock()
	return nil
}

func normalizeMAC(mac string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(mac, ":", ""), "-", ""))
}
