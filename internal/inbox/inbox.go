// Package inbox counts pending receipt scans in the per-store inbox folders.
package inbox

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/lifedash/receiptsd/internal/config"
)

// Count is the number of pending receipt files for one store.
type Count struct {
	StoreID string `json:"store_id"`
	Count   int    `json:"count"`
}

// receiptExts are the file types the worker ingests.
var receiptExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".pdf":  true,
}

// Counts returns, for every configured store in order, how many receipt files
// sit in its inbox directory. A missing inbox counts as zero.
func Counts(cfg *config.Config) []Count {
	out := make([]Count, 0, len(cfg.Stores))
	for _, st := range cfg.Stores {
		out = append(out, Count{StoreID: st.ID, Count: countDir(cfg.InboxDir(st.ID))})
	}
	return out
}

func countDir(dir string) int {
	des, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, de := range des {
		if de.IsDir() {
			continue
		}
		if receiptExts[strings.ToLower(filepath.Ext(de.Name()))] {
			n++
		}
	}
	return n
}
